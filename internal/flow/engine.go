// Package flow runs the per-user conversations: a strictly ordered sequence
// of prompts per operation, validated at every step, with one ledger write
// after the final confirmation.
package flow

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/alexmontesino96/familybot/internal/balance"
	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/metrics"
	"github.com/alexmontesino96/familybot/internal/payment"
)

// Ledger is the part of the ledger client the conversations read and write
// directly. Payment writes go through payment.Service.
type Ledger interface {
	GetMember(ctx context.Context, caller ledger.Caller, id ledger.MemberID) (*ledger.Response, error)
	GetMemberByTelegramID(ctx context.Context, caller ledger.Caller, telegramID string) (*ledger.Response, error)
	GetFamily(ctx context.Context, caller ledger.Caller, id ledger.ID) (*ledger.Response, error)
	CreateFamily(ctx context.Context, caller ledger.Caller, f ledger.NewFamily) (*ledger.Response, error)
	JoinFamily(ctx context.Context, caller ledger.Caller, id ledger.ID, m ledger.NewMember) (*ledger.Response, error)
	GetFamilyBalances(ctx context.Context, caller ledger.Caller, id ledger.ID) (*ledger.Response, error)
	GetFamilyExpenses(ctx context.Context, caller ledger.Caller, id ledger.ID) (*ledger.Response, error)
	GetFamilyPayments(ctx context.Context, caller ledger.Caller, id ledger.ID) (*ledger.Response, error)
	CreateExpense(ctx context.Context, caller ledger.Caller, e ledger.NewExpense) (*ledger.Response, error)
	UpdateExpense(ctx context.Context, caller ledger.Caller, id ledger.ID, u ledger.ExpenseUpdate) (*ledger.Response, error)
	DeleteExpense(ctx context.Context, caller ledger.Caller, id ledger.ID) (*ledger.Response, error)
}

type Engine struct {
	ledger   Ledger
	payments *payment.Service
	sessions *sessions
}

func NewEngine(l Ledger, payments *payment.Service) *Engine {
	return &Engine{ledger: l, payments: payments, sessions: newSessions()}
}

// Reap forgets sessions idle for longer than idle.
func (e *Engine) Reap(idle time.Duration) int {
	return e.sessions.reap(idle)
}

// Handle processes one update for in.User and returns the replies to send.
// A panic anywhere in a step ends that user's flow and never escapes.
func (e *Engine) Handle(ctx context.Context, in Input) (replies []Reply) {
	s := e.sessions.get(in.User)
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.User.Name != "" {
		s.user.Name = in.User.Name
	}

	defer func() {
		if r := recover(); r != nil {
			name := "none"
			if s.state != nil {
				name = s.state.flowName()
				metrics.FlowsEnded.WithLabelValues(name, "panic").Inc()
			}
			log.Printf("flow: panic for user %s in flow %s: %v\n%s", s.user.Identity, name, r, debug.Stack())
			s.state = nil
			replies = []Reply{{Text: msgApology}, e.menuFor(s)}
		}
	}()

	return e.handle(ctx, s, in)
}

func (e *Engine) handle(ctx context.Context, s *Session, in Input) []Reply {
	var act Action
	hasAction := in.Data != ""
	if hasAction {
		a, err := ParseAction(in.Data)
		if err != nil {
			log.Printf("flow: user %s sent bad action: %v", s.user.Identity, err)
			return []Reply{{Text: msgUnknownAction}}
		}
		act = a
	}

	txt := strings.TrimSpace(in.Text)
	if !hasAction {
		switch cmd := command(txt); cmd {
		case "cancel", "cancelar":
			return e.cancel(s)
		case "start", "menu", "help", "ayuda":
			if s.state != nil {
				e.end(s, "cancelled")
			}
			return e.home(ctx, s)
		case "balance":
			act, hasAction = Do(CodeBalance), true
		case "pendientes", "pending":
			act, hasAction = Do(CodePending), true
		case "gasto":
			act, hasAction = Do(CodeExpense), true
		case "pago":
			act, hasAction = Do(CodePayment), true
		}
	}

	if hasAction {
		switch act.Code {
		case CodeCancel:
			return e.cancel(s)
		case CodeMenu:
			if s.state != nil {
				e.end(s, "cancelled")
			}
			return e.home(ctx, s)
		}
	}

	if s.state != nil {
		return e.step(ctx, s, in, act, hasAction)
	}
	if !hasAction {
		return []Reply{{Text: msgUseMenu}, e.menuFor(s)}
	}
	return e.dispatch(ctx, s, act)
}

// command returns the lowercase name of a slash command, or "" for plain
// text. Telegram appends "@botname" in groups.
func command(txt string) string {
	if !strings.HasPrefix(txt, "/") {
		if strings.EqualFold(txt, "cancelar") {
			return "cancelar"
		}
		return ""
	}
	name := strings.Fields(txt[1:])
	if len(name) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd)
}

// step feeds input to the flow in progress.
func (e *Engine) step(ctx context.Context, s *Session, in Input, act Action, hasAction bool) []Reply {
	switch st := s.state.(type) {
	case *ExpenseFlowState:
		return e.expenseStep(ctx, s, st, in.Text, act, hasAction)
	case *PaymentFlowState:
		return e.paymentStep(ctx, s, st, in.Text, act, hasAction)
	case *AdjustmentFlowState:
		return e.adjustmentStep(ctx, s, st, in.Text, act, hasAction)
	case *EditExpenseFlowState:
		return e.editStep(ctx, s, st, in.Text, act, hasAction)
	case *FamilyFlowState:
		return e.familyStep(ctx, s, st, in.Text, act, hasAction)
	}
	log.Printf("flow: user %s has unknown state %T", s.user.Identity, s.state)
	s.state = nil
	return []Reply{{Text: msgApology}, e.menuFor(s)}
}

// dispatch runs a top-level action while no flow is in progress.
func (e *Engine) dispatch(ctx context.Context, s *Session, act Action) []Reply {
	if act.Code == CodeFamilyCreate || act.Code == CodeFamilyJoin {
		return e.startFamily(ctx, s, act.Code == CodeFamilyJoin)
	}

	if r, ok := e.ensureMember(ctx, s); !ok {
		return r
	}

	switch act.Code {
	case CodeExpense:
		return e.startExpense(ctx, s)
	case CodePayment:
		return e.startPayment(ctx, s)
	case CodeAdjust:
		return e.startAdjustment(ctx, s)
	case CodeBalance:
		return e.showBalance(ctx, s)
	case CodeExpenses:
		return e.listExpenses(ctx, s)
	case CodePending:
		return e.listPending(ctx, s)
	case CodePaymentConfirm:
		return e.settlePayment(ctx, s, ledger.ID(act.Arg), payment.ActionConfirm)
	case CodePaymentReject:
		return e.settlePayment(ctx, s, ledger.ID(act.Arg), payment.ActionReject)
	case CodeExpensePick:
		return e.showExpense(ctx, s, ledger.ID(act.Arg))
	case CodeExpenseEdit:
		return e.startEdit(ctx, s, ledger.ID(act.Arg))
	case CodeExpenseDelete:
		return e.askDelete(ctx, s, ledger.ID(act.Arg))
	case CodeExpenseDeleteConfirm:
		return e.deleteExpense(ctx, s, ledger.ID(act.Arg))
	}
	// flow-only controls pressed on a stale message
	return []Reply{{Text: msgNothingToDo}, e.menuFor(s)}
}

func (e *Engine) begin(s *Session, st flowState) {
	s.state = st
	metrics.FlowsStarted.WithLabelValues(st.flowName()).Inc()
}

func (e *Engine) end(s *Session, outcome string) {
	if s.state == nil {
		return
	}
	metrics.FlowsEnded.WithLabelValues(s.state.flowName(), outcome).Inc()
	s.state = nil
}

func (e *Engine) cancel(s *Session) []Reply {
	if s.state == nil {
		return []Reply{{Text: msgNothingToDo}, e.menuFor(s)}
	}
	e.end(s, "cancelled")
	return []Reply{{Text: msgCancelled}, e.menuFor(s)}
}

// home shows the right menu, bootstrapping the member on first contact.
func (e *Engine) home(ctx context.Context, s *Session) []Reply {
	s.member = nil
	if r, ok := e.ensureMember(ctx, s); !ok {
		return r
	}
	return []Reply{mainMenu()}
}

func (e *Engine) menuFor(s *Session) Reply {
	if s.member == nil || s.member.FamilyID == "" {
		return familyMenu()
	}
	return mainMenu()
}

// ensureMember loads the ledger member behind the chat identity. When the
// second return is false the replies explain why the user cannot go on.
func (e *Engine) ensureMember(ctx context.Context, s *Session) ([]Reply, bool) {
	if s.member != nil && s.member.FamilyID != "" {
		return nil, true
	}
	resp, err := e.ledger.GetMemberByTelegramID(ctx, s.caller(), s.user.Identity)
	if err != nil {
		return e.failed(s, err), false
	}
	if !resp.OK() {
		var apiErr *ledger.APIError
		if errors.As(resp.Err(), &apiErr) && apiErr.NotFound() {
			s.member = nil
			return []Reply{familyMenu()}, false
		}
		return e.failed(s, resp.Err()), false
	}
	var m ledger.Member
	if err := resp.Decode(&m); err != nil {
		return e.failed(s, err), false
	}
	s.member = &m
	if m.FamilyID == "" {
		return []Reply{familyMenu()}, false
	}
	return nil, true
}

// family reads the caller's family fresh and caches member names.
func (e *Engine) family(ctx context.Context, s *Session) (*ledger.Family, error) {
	resp, err := e.ledger.GetFamily(ctx, s.caller(), s.member.FamilyID)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Err()
	}
	var f ledger.Family
	if err := resp.Decode(&f); err != nil {
		return nil, err
	}
	s.rememberNames(f.Members)
	return &f, nil
}

// balances reads the family balances fresh. The model is a hint for the
// current prompt only.
func (e *Engine) balances(ctx context.Context, s *Session) (*balance.Model, error) {
	resp, err := e.ledger.GetFamilyBalances(ctx, s.caller(), s.member.FamilyID)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Err()
	}
	var records []ledger.BalanceRecord
	if err := resp.Decode(&records); err != nil {
		return nil, err
	}
	model, bad := balance.Build(records)
	for _, m := range bad {
		log.Printf("flow: family %s balance: dropped %s", s.member.FamilyID, m)
	}
	return model, nil
}

// failed ends the flow in progress and turns err into replies. Transport
// failures and ledger 5xx read as "service unavailable"; other ledger
// rejections show the ledger's own message.
func (e *Engine) failed(s *Session, err error) []Reply {
	var apiErr *ledger.APIError
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		log.Printf("flow: user %s: %v", s.user.Identity, err)
		e.end(s, "aborted")
		return []Reply{{Text: msgUnavailable}}
	case errors.As(err, &apiErr) && apiErr.ServerSide():
		log.Printf("flow: user %s: ledger status %d: %s", s.user.Identity, apiErr.StatusCode, apiErr.Detail)
		e.end(s, "aborted")
		return []Reply{{Text: msgUnavailable}}
	case errors.As(err, &apiErr):
		e.end(s, "rejected")
		return []Reply{{Text: "⚠️ " + apiErr.Error()}, e.menuFor(s)}
	case errors.Is(err, ledger.ErrEmptyBody), errors.Is(err, ledger.ErrMalformedBody):
		log.Printf("flow: user %s: %v", s.user.Identity, err)
		e.end(s, "aborted")
		return []Reply{{Text: msgUnavailable}}
	}
	log.Printf("flow: user %s: unexpected error: %v", s.user.Identity, err)
	e.end(s, "aborted")
	return []Reply{{Text: msgApology}, e.menuFor(s)}
}

// unexpected answers input that does not fit the current step and repeats
// nothing; the last prompt stays valid.
func unexpected(hasAction bool) []Reply {
	if hasAction {
		return []Reply{{Text: msgFinishFirst}}
	}
	return []Reply{{Text: msgUnexpectedText}}
}
