// Package payment owns the payment lifecycle: creation, confirmation or
// rejection by the recipient, and the debt-adjustment path that is applied
// immediately.
//
//	create ──▶ PENDING ──confirm──▶ CONFIRM
//	                   └─reject───▶ REJECT
//	adjust ───────────────────────▶ CONFIRM
package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/money"
	"github.com/shopspring/decimal"
)

type Status string

const (
	Pending   Status = ledger.StatusPending
	Confirmed Status = ledger.StatusConfirm
	Rejected  Status = ledger.StatusReject
)

// ParseStatus maps the ledger's status string, tolerating case and the
// CONFIRMED/REJECTED spellings.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return Pending
	case "CONFIRM", "CONFIRMED":
		return Confirmed
	case "REJECT", "REJECTED":
		return Rejected
	}
	return Status(strings.ToUpper(strings.TrimSpace(s)))
}

func (s Status) Terminal() bool { return s == Confirmed || s == Rejected }

// Label is the user facing wording of a status.
func (s Status) Label() string {
	switch s {
	case Pending:
		return "pendiente"
	case Confirmed:
		return "confirmado"
	case Rejected:
		return "rechazado"
	}
	return strings.ToLower(string(s))
}

type Kind string

const (
	Transfer   Kind = ledger.KindPayment
	Adjustment Kind = ledger.KindDebtAdjustment
)

type Action int

const (
	ActionConfirm Action = iota + 1
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionConfirm:
		return "confirm"
	case ActionReject:
		return "reject"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func (a Action) target() Status {
	if a == ActionConfirm {
		return Confirmed
	}
	return Rejected
}

type Payment struct {
	ID        ledger.ID
	From      ledger.MemberID
	To        ledger.MemberID
	Amount    decimal.Decimal
	Status    Status
	Kind      Kind
	CreatedAt time.Time
}

func fromLedger(p ledger.Payment) Payment {
	kind := Kind(p.Kind)
	if kind == "" {
		kind = Transfer
	}
	return Payment{
		ID:        p.ID,
		From:      p.From,
		To:        p.To,
		Amount:    p.Amount,
		Status:    ParseStatus(p.Status),
		Kind:      kind,
		CreatedAt: p.CreatedAt,
	}
}

var (
	ErrSelfPayment   = errors.New("no puedes registrar un pago a ti mismo")
	ErrInvalidAmount = errors.New("el monto debe ser mayor que cero")
	ErrNotRecipient  = errors.New("solo el destinatario del pago puede confirmarlo o rechazarlo")
	ErrNotFound      = errors.New("pago no encontrado")
	ErrNoDebt        = errors.New("no hay deuda pendiente entre estos miembros")
	ErrUnknownAction = errors.New("acción de pago desconocida")
)

// StatusError reports an attempt to move a payment that already left
// PENDING. Current is the status it keeps.
type StatusError struct {
	Current Status
}

func (e *StatusError) Error() string {
	return "el pago ya fue " + e.Current.Label()
}

// ExceedsDebtError is returned when an amount is larger than the outstanding
// debt. Remaining is the amount that may be paid instead; it is zero when the
// ledger's answer did not say.
type ExceedsDebtError struct {
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Detail    string
}

func (e *ExceedsDebtError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("el monto (%s) excede la deuda actual (%s)", money.Format(e.Amount), money.Format(e.Remaining))
}

// HasRemaining reports whether a positive payable amount is known.
func (e *ExceedsDebtError) HasRemaining() bool {
	return e.Remaining.IsPositive()
}

// Transition applies action to p on behalf of actor and returns the new
// status. Only the recorded recipient may act, and only on a PENDING
// payment; any other attempt fails and p keeps its status.
func Transition(p Payment, action Action, actor ledger.MemberID) (Status, error) {
	if action != ActionConfirm && action != ActionReject {
		return p.Status, ErrUnknownAction
	}
	if actor.IsZero() || actor != p.To {
		return p.Status, ErrNotRecipient
	}
	if p.Status != Pending {
		return p.Status, &StatusError{Current: p.Status}
	}
	return action.target(), nil
}

func validateTransfer(from, to ledger.MemberID, amount decimal.Decimal) error {
	if from == to {
		return ErrSelfPayment
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
