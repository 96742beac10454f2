package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alexmontesino96/familybot/internal/balance"
	"github.com/alexmontesino96/familybot/internal/ledger"
)

const maxFamilyName = 100

func (e *Engine) startFamily(ctx context.Context, s *Session, join bool) []Reply {
	if _, ok := e.ensureMember(ctx, s); ok {
		return []Reply{{Text: msgAlreadyFamily}, mainMenu()}
	}
	if join {
		e.begin(s, &FamilyFlowState{step: familyCode, Join: true})
		return []Reply{prompt(msgAskFamilyCode)}
	}
	e.begin(s, &FamilyFlowState{step: familyName})
	return []Reply{prompt(msgAskFamilyName)}
}

func (e *Engine) familyStep(ctx context.Context, s *Session, st *FamilyFlowState, txt string, act Action, hasAction bool) []Reply {
	switch st.step {
	case familyName:
		if hasAction {
			return unexpected(true)
		}
		name := strings.TrimSpace(txt)
		if name == "" || utf8.RuneCountInString(name) > maxFamilyName {
			return []Reply{prompt(msgBadFamilyName)}
		}
		st.Name = name
		st.step = familyConfirm
		return []Reply{{Text: fmt.Sprintf("¿Crear la familia «%s»?", name), Keyboard: confirmKeyboard()}}

	case familyCode:
		if hasAction {
			return unexpected(true)
		}
		code := strings.TrimSpace(txt)
		if code == "" || strings.ContainsAny(code, " /?#") {
			return []Reply{prompt(msgFamilyUnknown)}
		}
		resp, err := e.ledger.GetFamily(ctx, s.caller(), ledger.ID(code))
		if err != nil {
			return e.failed(s, err)
		}
		if !resp.OK() {
			var apiErr *ledger.APIError
			if errors.As(resp.Err(), &apiErr) && apiErr.NotFound() {
				return []Reply{prompt(msgFamilyUnknown)}
			}
			return e.failed(s, resp.Err())
		}
		var f ledger.Family
		if err := resp.Decode(&f); err != nil {
			return e.failed(s, err)
		}
		st.FamilyID, st.Name = f.ID, f.Name
		st.step = familyConfirm
		return []Reply{{Text: fmt.Sprintf("¿Unirte a «%s» (%d miembros)?", f.Name, len(f.Members)), Keyboard: confirmKeyboard()}}

	case familyConfirm:
		if !hasAction || act.Code != CodeConfirm {
			return unexpected(hasAction)
		}
		if st.Join {
			return e.joinFamily(ctx, s, st)
		}
		return e.createFamily(ctx, s, st)
	}
	return unexpected(hasAction)
}

func (e *Engine) self(s *Session) ledger.NewMember {
	name := strings.TrimSpace(s.user.Name)
	if name == "" {
		name = "Usuario " + s.user.Identity
	}
	return ledger.NewMember{Name: name, TelegramID: s.user.Identity}
}

func (e *Engine) createFamily(ctx context.Context, s *Session, st *FamilyFlowState) []Reply {
	resp, err := e.ledger.CreateFamily(ctx, s.caller(), ledger.NewFamily{
		Name:    st.Name,
		Members: []ledger.NewMember{e.self(s)},
	})
	if err != nil {
		return e.failed(s, err)
	}
	if !resp.OK() {
		return e.failed(s, resp.Err())
	}
	var f ledger.Family
	if err := resp.Decode(&f); err != nil {
		return e.failed(s, err)
	}
	e.end(s, "done")
	s.member = nil
	return []Reply{text(msgFamilyCreated, f.Name, f.ID), e.afterJoin(ctx, s)}
}

func (e *Engine) joinFamily(ctx context.Context, s *Session, st *FamilyFlowState) []Reply {
	resp, err := e.ledger.JoinFamily(ctx, s.caller(), st.FamilyID, e.self(s))
	if err != nil {
		return e.failed(s, err)
	}
	if !resp.OK() {
		return e.failed(s, resp.Err())
	}
	name := st.Name
	e.end(s, "done")
	s.member = nil
	return []Reply{text(msgFamilyJoined, name), e.afterJoin(ctx, s)}
}

// afterJoin reloads the member so the main menu works right away.
func (e *Engine) afterJoin(ctx context.Context, s *Session) Reply {
	if r, ok := e.ensureMember(ctx, s); !ok && len(r) > 0 {
		return r[len(r)-1]
	}
	return mainMenu()
}

// ─── Balance view ───────────────────────────────────────────────────────────

func (e *Engine) showBalance(ctx context.Context, s *Session) []Reply {
	model, err := e.balances(ctx, s)
	if err != nil {
		return e.failed(s, err)
	}
	b, ok := model.Balance(s.me())
	if !ok {
		return []Reply{{Text: "Aún no tienes movimientos en tu familia."}, mainMenu()}
	}
	if b.Name == "" {
		b.Name = s.nameOf(s.me())
	}
	var largest *balance.Entry
	if l, ok := model.LargestCredit(s.me()); ok {
		largest = &l
	}
	return []Reply{{Text: balanceText(b, largest), Keyboard: [][]Button{{{Label: "⬅️ Menú", Action: Do(CodeMenu)}}}}}
}
