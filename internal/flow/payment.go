package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/money"
	"github.com/alexmontesino96/familybot/internal/payment"
	"github.com/shopspring/decimal"
)

// ─── New payment ────────────────────────────────────────────────────────────
//
// recipient → amount → confirm → submit. The amount prompt offers the whole
// known debt as a shortcut.

func (e *Engine) startPayment(ctx context.Context, s *Session) []Reply {
	f, err := e.family(ctx, s)
	if err != nil {
		return e.failed(s, err)
	}
	model, err := e.balances(ctx, s)
	if err != nil {
		return e.failed(s, err)
	}

	var rows [][]Button
	for _, m := range sortedMembers(f.Members) {
		if m.ID == s.me() {
			continue
		}
		label := m.Name
		if debt := model.Owes(s.me(), m.ID); debt.IsPositive() {
			label += " (le debes " + money.Format(debt) + ")"
		}
		rows = append(rows, []Button{{Label: label, Action: DoWith(CodePickMember, m.ID.String())}})
	}
	if len(rows) == 0 {
		return []Reply{{Text: msgNoOtherMembers}, mainMenu()}
	}
	rows = append(rows, cancelRow)

	e.begin(s, &PaymentFlowState{step: paymentRecipient})
	return []Reply{{Text: msgAskPayee, Keyboard: rows}}
}

func (e *Engine) paymentStep(ctx context.Context, s *Session, st *PaymentFlowState, txt string, act Action, hasAction bool) []Reply {
	switch st.step {
	case paymentRecipient:
		if !hasAction || act.Code != CodePickMember {
			return unexpected(hasAction)
		}
		to, err := ledger.ParseMemberID(act.Arg)
		if err != nil || to == s.me() {
			return []Reply{{Text: msgUnknownAction}}
		}
		f, err := e.family(ctx, s)
		if err != nil {
			return e.failed(s, err)
		}
		if !hasMember(f.Members, to) {
			return []Reply{{Text: msgUnknownAction}}
		}
		model, err := e.balances(ctx, s)
		if err != nil {
			return e.failed(s, err)
		}
		st.To, st.ToName = to, s.nameOf(to)
		st.KnownDebt = model.Owes(s.me(), to)
		if !st.KnownDebt.IsPositive() {
			e.end(s, "done")
			return []Reply{text("No le debes nada a %s. 🎉", st.ToName), mainMenu()}
		}
		st.step = paymentAmount
		return []Reply{e.paymentAmountPrompt(st)}

	case paymentAmount:
		var amount decimal.Decimal
		switch {
		case hasAction && act.Code == CodePayFull:
			amount = st.KnownDebt
		case hasAction && act.Code == CodePayExact:
			a, err := money.Parse(act.Arg)
			if err != nil {
				return []Reply{{Text: msgUnknownAction}}
			}
			amount = a
		case hasAction:
			return unexpected(true)
		default:
			a, err := money.Parse(txt)
			if err != nil {
				return []Reply{prompt(amountHint(err))}
			}
			amount = a
		}
		if amount.GreaterThan(st.KnownDebt) {
			return []Reply{exceedsPrompt(&payment.ExceedsDebtError{Amount: amount, Remaining: st.KnownDebt}, "pagar")}
		}
		st.Amount = amount
		st.step = paymentConfirm
		return []Reply{{
			Text:     fmt.Sprintf("💸 Confirma el pago:\n• Para: %s\n• Monto: %s", st.ToName, money.Format(amount)),
			Keyboard: confirmKeyboard(),
		}}

	case paymentConfirm:
		if !hasAction || act.Code != CodeConfirm {
			return unexpected(hasAction)
		}
		return e.submitPayment(ctx, s, st)
	}
	return unexpected(hasAction)
}

func (e *Engine) paymentAmountPrompt(st *PaymentFlowState) Reply {
	return Reply{
		Text: fmt.Sprintf("💰 ¿Cuánto le pagas a %s? Deuda actual: %s", st.ToName, money.Format(st.KnownDebt)),
		Keyboard: [][]Button{
			{{Label: "Pagar todo (" + money.Format(st.KnownDebt) + ")", Action: Do(CodePayFull)}},
			cancelRow,
		},
	}
}

func (e *Engine) submitPayment(ctx context.Context, s *Session, st *PaymentFlowState) []Reply {
	// The ledger re-checks the debt; the figure read earlier may be stale.
	out, err := e.payments.Create(ctx, s.caller(), payment.CreateRequest{
		From:   s.me(),
		To:     st.To,
		Amount: st.Amount,
	})
	if err != nil {
		var exceeds *payment.ExceedsDebtError
		if errors.As(err, &exceeds) {
			return e.recoverExceeds(st, exceeds)
		}
		if r, ok := validationReply(err); ok {
			return r
		}
		return e.failed(s, err)
	}

	e.end(s, "done")
	replies := []Reply{text(msgPaymentCreated, st.ToName)}
	if out.Warning != nil {
		replies = append(replies, text(msgWarnNotify, st.ToName))
	}
	return append(replies, mainMenu())
}

// recoverExceeds sends the flow back to the amount step with the ledger's
// current debt as the only one-tap option.
func (e *Engine) recoverExceeds(st *PaymentFlowState, exceeds *payment.ExceedsDebtError) []Reply {
	st.step = paymentAmount
	if exceeds.HasRemaining() {
		st.KnownDebt = exceeds.Remaining
	}
	return []Reply{exceedsPrompt(exceeds, "pagar")}
}

func exceedsPrompt(exceeds *payment.ExceedsDebtError, verb string) Reply {
	if !exceeds.HasRemaining() {
		return prompt("⚠️ " + exceeds.Error() + "\nEscribe un monto menor:")
	}
	exact := money.Format(exceeds.Remaining)
	return Reply{
		Text: fmt.Sprintf("⚠️ %s\n¿Quieres %s exactamente %s? También puedes escribir otro monto.", exceeds.Error(), verb, exact),
		Keyboard: [][]Button{
			{{Label: strings.ToUpper(verb[:1]) + verb[1:] + " " + exact, Action: DoWith(CodePayExact, exceeds.Remaining.StringFixed(2))}},
			cancelRow,
		},
	}
}

// validationReply maps service validation errors to a reply that keeps the
// flow alive.
func validationReply(err error) ([]Reply, bool) {
	switch {
	case errors.Is(err, payment.ErrSelfPayment), errors.Is(err, payment.ErrInvalidAmount):
		return []Reply{prompt("⚠️ " + err.Error())}, true
	}
	return nil, false
}

// ─── Debt adjustment ────────────────────────────────────────────────────────

func (e *Engine) startAdjustment(ctx context.Context, s *Session) []Reply {
	model, err := e.balances(ctx, s)
	if err != nil {
		return e.failed(s, err)
	}
	credits := model.CreditsOf(s.me())
	if len(credits) == 0 {
		return []Reply{{Text: msgNoCredits}, mainMenu()}
	}
	rows := make([][]Button, 0, len(credits)+1)
	for _, c := range credits {
		name := c.Name
		if name == "" {
			name = s.nameOf(c.Counterpart)
		}
		rows = append(rows, []Button{{Label: name + ": " + money.Format(c.Amount), Action: DoWith(CodePickMember, c.Counterpart.String())}})
	}
	rows = append(rows, cancelRow)

	e.begin(s, &AdjustmentFlowState{step: adjustmentDebtor})
	return []Reply{{Text: msgAskDebtor, Keyboard: rows}}
}

func (e *Engine) adjustmentStep(ctx context.Context, s *Session, st *AdjustmentFlowState, txt string, act Action, hasAction bool) []Reply {
	switch st.step {
	case adjustmentDebtor:
		if !hasAction || act.Code != CodePickMember {
			return unexpected(hasAction)
		}
		debtor, err := ledger.ParseMemberID(act.Arg)
		if err != nil {
			return []Reply{{Text: msgUnknownAction}}
		}
		model, err := e.balances(ctx, s)
		if err != nil {
			return e.failed(s, err)
		}
		owed := model.Owes(debtor, s.me())
		if !owed.IsPositive() {
			e.end(s, "done")
			return []Reply{{Text: msgNoCredits}, mainMenu()}
		}
		st.Debtor, st.Outstanding = debtor, owed
		st.DebtorName = model.Name(debtor)
		if st.DebtorName == "" {
			st.DebtorName = s.nameOf(debtor)
		}
		st.step = adjustmentAmount
		return []Reply{adjustAmountPrompt(st)}

	case adjustmentAmount:
		var amount decimal.Decimal
		switch {
		case hasAction && act.Code == CodePayFull:
			amount = st.Outstanding
		case hasAction && act.Code == CodePayExact:
			a, err := money.Parse(act.Arg)
			if err != nil {
				return []Reply{{Text: msgUnknownAction}}
			}
			amount = a
		case hasAction:
			return unexpected(true)
		default:
			a, err := money.Parse(txt)
			if err != nil {
				return []Reply{prompt(amountHint(err))}
			}
			amount = a
		}
		if amount.GreaterThan(st.Outstanding) {
			return []Reply{exceedsPrompt(&payment.ExceedsDebtError{Amount: amount, Remaining: st.Outstanding}, "ajustar")}
		}
		st.Amount = amount
		st.step = adjustmentConfirm
		return []Reply{{
			Text: fmt.Sprintf("✂️ Confirma el ajuste:\n• %s te debe: %s\n• Perdonas: %s\n• Quedará: %s",
				st.DebtorName, money.Format(st.Outstanding), money.Format(amount), money.Format(st.Outstanding.Sub(amount))),
			Keyboard: confirmKeyboard(),
		}}

	case adjustmentConfirm:
		if !hasAction || act.Code != CodeConfirm {
			return unexpected(hasAction)
		}
		return e.submitAdjustment(ctx, s, st)
	}
	return unexpected(hasAction)
}

func adjustAmountPrompt(st *AdjustmentFlowState) Reply {
	return Reply{
		Text: fmt.Sprintf("💰 %s te debe %s. ¿Cuánto le quieres perdonar?", st.DebtorName, money.Format(st.Outstanding)),
		Keyboard: [][]Button{
			{{Label: "Perdonar todo (" + money.Format(st.Outstanding) + ")", Action: Do(CodePayFull)}},
			cancelRow,
		},
	}
}

func (e *Engine) submitAdjustment(ctx context.Context, s *Session, st *AdjustmentFlowState) []Reply {
	out, err := e.payments.Adjust(ctx, s.caller(), payment.AdjustRequest{
		Creditor:    s.me(),
		Debtor:      st.Debtor,
		Amount:      st.Amount,
		Outstanding: st.Outstanding,
	})
	if err != nil {
		var exceeds *payment.ExceedsDebtError
		if errors.As(err, &exceeds) {
			st.step = adjustmentAmount
			if exceeds.HasRemaining() {
				st.Outstanding = exceeds.Remaining
			}
			return []Reply{exceedsPrompt(exceeds, "ajustar")}
		}
		if errors.Is(err, payment.ErrNoDebt) {
			e.end(s, "done")
			return []Reply{{Text: msgNoCredits}, mainMenu()}
		}
		if r, ok := validationReply(err); ok {
			return r
		}
		return e.failed(s, err)
	}

	left := st.Outstanding.Sub(st.Amount)
	name := st.DebtorName
	e.end(s, "done")

	replies := []Reply{text(msgAdjustmentDone, name, money.Format(left))}
	if !left.IsPositive() {
		replies[0] = text(msgAdjustmentClear, name)
	}
	if out.Warning != nil {
		replies = append(replies, text(msgWarnNotify, name))
	}
	return append(replies, mainMenu())
}

// ─── Pending payments ───────────────────────────────────────────────────────

func (e *Engine) listPending(ctx context.Context, s *Session) []Reply {
	resp, err := e.ledger.GetFamilyPayments(ctx, s.caller(), s.member.FamilyID)
	if err != nil {
		return e.failed(s, err)
	}
	if !resp.OK() {
		return e.failed(s, resp.Err())
	}
	var all []ledger.Payment
	if err := resp.Decode(&all); err != nil {
		return e.failed(s, err)
	}
	if _, err := e.family(ctx, s); err != nil {
		return e.failed(s, err)
	}

	var replies []Reply
	for _, lp := range all {
		if lp.To != s.me() || payment.ParseStatus(lp.Status) != payment.Pending {
			continue
		}
		replies = append(replies, Reply{
			Text: fmt.Sprintf("⏳ %s dice que te pagó %s.", s.nameOf(lp.From), money.Format(lp.Amount)),
			Keyboard: [][]Button{{
				{Label: "✅ Confirmar", Action: DoWith(CodePaymentConfirm, lp.ID.String())},
				{Label: "❌ Rechazar", Action: DoWith(CodePaymentReject, lp.ID.String())},
			}},
		})
	}
	if len(replies) == 0 {
		return []Reply{{Text: msgNoPending}, mainMenu()}
	}
	return replies
}

// settlePayment confirms or rejects a payment addressed to the caller. It
// runs outside any flow: the payment id travels in the control.
func (e *Engine) settlePayment(ctx context.Context, s *Session, id ledger.ID, action payment.Action) []Reply {
	var (
		out *payment.Outcome
		err error
	)
	if action == payment.ActionConfirm {
		out, err = e.payments.Confirm(ctx, s.caller(), s.me(), id)
	} else {
		out, err = e.payments.Reject(ctx, s.caller(), s.me(), id)
	}

	var se *payment.StatusError
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrNotRecipient), errors.Is(err, payment.ErrNotFound), errors.As(err, &se):
		return []Reply{{Text: "⚠️ " + capitalize(err.Error()) + "."}}
	default:
		return e.failed(s, err)
	}

	if _, ferr := e.family(ctx, s); ferr != nil {
		// names only; the transition already happened
		s.names = nil
	}
	from := s.nameOf(out.Payment.From)
	format := msgPaymentOK
	if action == payment.ActionReject {
		format = msgPaymentRejectd
	}
	replies := []Reply{text(format, from)}
	if out.Warning != nil {
		replies = append(replies, text(msgWarnNotify, from))
	}
	return replies
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}
