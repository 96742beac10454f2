package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/metrics"
	"github.com/alexmontesino96/familybot/internal/money"
	"github.com/shopspring/decimal"
)

// Ledger is the part of the ledger client the payment service uses.
type Ledger interface {
	GetPayment(ctx context.Context, caller ledger.Caller, id ledger.ID) (*ledger.Response, error)
	CreatePayment(ctx context.Context, caller ledger.Caller, p ledger.NewPayment) (*ledger.Response, error)
	UpdatePaymentStatus(ctx context.Context, caller ledger.Caller, id ledger.ID, status string) (*ledger.Response, error)
	CreateDebtAdjustment(ctx context.Context, caller ledger.Caller, p ledger.NewPayment) (*ledger.Response, error)
}

type Event string

const (
	EventCreated   Event = "created"
	EventConfirmed Event = "confirmed"
	EventRejected  Event = "rejected"
	EventAdjusted  Event = "adjusted"
)

// Notice tells a counterpart about a transition.
type Notice struct {
	Event     Event
	Payment   Payment
	Recipient ledger.MemberID
	// Caller is the identity that triggered the transition, for lookups the
	// notifier makes on its behalf.
	Caller ledger.Caller
}

// Notifier hands a notice off for delivery. It must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Outcome is the result of a successful transition. Warning is set when the
// counterpart could not be notified; the transition itself still stands.
type Outcome struct {
	Payment Payment
	Warning error
}

type Service struct {
	ledger   Ledger
	notifier Notifier
}

func NewService(l Ledger, n Notifier) *Service {
	return &Service{ledger: l, notifier: n}
}

type CreateRequest struct {
	From   ledger.MemberID
	To     ledger.MemberID
	Amount decimal.Decimal
	// KnownDebt is the debt From owes To as last read from the ledger. It is
	// only a hint; the ledger has the final word.
	KnownDebt *decimal.Decimal
}

// Create records a payment in PENDING. An amount above the debt yields an
// *ExceedsDebtError; the amount is never clamped here.
func (s *Service) Create(ctx context.Context, caller ledger.Caller, req CreateRequest) (*Outcome, error) {
	if err := validateTransfer(req.From, req.To, req.Amount); err != nil {
		return nil, err
	}
	if req.KnownDebt != nil && req.Amount.GreaterThan(*req.KnownDebt) {
		metrics.PaymentTransitions.WithLabelValues("create", "exceeds_debt").Inc()
		return nil, &ExceedsDebtError{Amount: req.Amount, Remaining: *req.KnownDebt}
	}

	resp, err := s.ledger.CreatePayment(ctx, caller, ledger.NewPayment{
		From:   req.From,
		To:     req.To,
		Amount: req.Amount.InexactFloat64(),
	})
	if err != nil {
		metrics.PaymentTransitions.WithLabelValues("create", "unavailable").Inc()
		return nil, err
	}
	if !resp.OK() {
		err := classify(resp, req.Amount)
		metrics.PaymentTransitions.WithLabelValues("create", resultLabel(err)).Inc()
		return nil, err
	}

	var lp ledger.Payment
	if err := resp.Decode(&lp); err != nil {
		return nil, fmt.Errorf("decode created payment: %w", err)
	}
	p := fromLedger(lp)
	if p.Status == "" {
		p.Status = Pending
	}
	metrics.PaymentTransitions.WithLabelValues("create", "ok").Inc()

	return &Outcome{Payment: p, Warning: s.notify(ctx, caller, Notice{Event: EventCreated, Payment: p, Recipient: p.To})}, nil
}

func (s *Service) Confirm(ctx context.Context, caller ledger.Caller, actor ledger.MemberID, id ledger.ID) (*Outcome, error) {
	return s.settle(ctx, caller, actor, id, ActionConfirm)
}

func (s *Service) Reject(ctx context.Context, caller ledger.Caller, actor ledger.MemberID, id ledger.ID) (*Outcome, error) {
	return s.settle(ctx, caller, actor, id, ActionReject)
}

// Get reads one payment.
func (s *Service) Get(ctx context.Context, caller ledger.Caller, id ledger.ID) (Payment, error) {
	resp, err := s.ledger.GetPayment(ctx, caller, id)
	if err != nil {
		return Payment{}, err
	}
	if !resp.OK() {
		var apiErr *ledger.APIError
		if errors.As(resp.Err(), &apiErr) && apiErr.NotFound() {
			return Payment{}, ErrNotFound
		}
		return Payment{}, resp.Err()
	}
	var lp ledger.Payment
	if err := resp.Decode(&lp); err != nil {
		return Payment{}, fmt.Errorf("decode payment %s: %w", id, err)
	}
	return fromLedger(lp), nil
}

func (s *Service) settle(ctx context.Context, caller ledger.Caller, actor ledger.MemberID, id ledger.ID, action Action) (*Outcome, error) {
	op := action.String()

	p, err := s.Get(ctx, caller, id)
	if err != nil {
		metrics.PaymentTransitions.WithLabelValues(op, resultLabel(err)).Inc()
		return nil, err
	}
	next, err := Transition(p, action, actor)
	if err != nil {
		metrics.PaymentTransitions.WithLabelValues(op, resultLabel(err)).Inc()
		return nil, err
	}

	resp, err := s.ledger.UpdatePaymentStatus(ctx, caller, id, string(next))
	if err != nil {
		metrics.PaymentTransitions.WithLabelValues(op, "unavailable").Inc()
		return nil, err
	}
	if !resp.OK() {
		err := resp.Err()
		metrics.PaymentTransitions.WithLabelValues(op, resultLabel(err)).Inc()
		return nil, err
	}

	updated := p
	updated.Status = next
	if !resp.Empty() {
		var lp ledger.Payment
		if err := resp.Decode(&lp); err == nil && lp.ID != "" {
			updated = fromLedger(lp)
		}
	}
	metrics.PaymentTransitions.WithLabelValues(op, "ok").Inc()

	event := EventConfirmed
	if action == ActionReject {
		event = EventRejected
	}
	return &Outcome{Payment: updated, Warning: s.notify(ctx, caller, Notice{Event: event, Payment: updated, Recipient: updated.From})}, nil
}

type AdjustRequest struct {
	Creditor ledger.MemberID
	Debtor   ledger.MemberID
	Amount   decimal.Decimal
	// Outstanding is what Debtor owes Creditor according to the latest
	// balance read.
	Outstanding decimal.Decimal
}

// Adjust writes down part of a debt on the creditor's behalf. It is recorded
// as a debt adjustment, not a transfer, and is CONFIRM from the start.
func (s *Service) Adjust(ctx context.Context, caller ledger.Caller, req AdjustRequest) (*Outcome, error) {
	if err := validateTransfer(req.Debtor, req.Creditor, req.Amount); err != nil {
		return nil, err
	}
	if !req.Outstanding.IsPositive() {
		return nil, ErrNoDebt
	}
	if req.Amount.GreaterThan(req.Outstanding) {
		metrics.PaymentTransitions.WithLabelValues("adjust", "exceeds_debt").Inc()
		return nil, &ExceedsDebtError{Amount: req.Amount, Remaining: req.Outstanding}
	}

	resp, err := s.ledger.CreateDebtAdjustment(ctx, caller, ledger.NewPayment{
		From:   req.Debtor,
		To:     req.Creditor,
		Amount: req.Amount.InexactFloat64(),
	})
	if err != nil {
		metrics.PaymentTransitions.WithLabelValues("adjust", "unavailable").Inc()
		return nil, err
	}
	if !resp.OK() {
		err := classify(resp, req.Amount)
		metrics.PaymentTransitions.WithLabelValues("adjust", resultLabel(err)).Inc()
		return nil, err
	}

	p := Payment{From: req.Debtor, To: req.Creditor, Amount: req.Amount}
	if !resp.Empty() {
		var lp ledger.Payment
		if err := resp.Decode(&lp); err != nil {
			return nil, fmt.Errorf("decode debt adjustment: %w", err)
		}
		p = fromLedger(lp)
	}
	p.Kind = Adjustment
	p.Status = Confirmed
	metrics.PaymentTransitions.WithLabelValues("adjust", "ok").Inc()

	return &Outcome{Payment: p, Warning: s.notify(ctx, caller, Notice{Event: EventAdjusted, Payment: p, Recipient: req.Debtor})}, nil
}

func (s *Service) notify(ctx context.Context, caller ledger.Caller, n Notice) error {
	if s.notifier == nil {
		return nil
	}
	n.Caller = caller
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Printf("payment: could not notify member %s of %s payment %s: %v", n.Recipient, n.Event, n.Payment.ID, err)
		return err
	}
	return nil
}

const exceedsDebtMarker = "excede la deuda actual"

var reCurrentDebt = regexp.MustCompile(`(?i)deuda actual\D*?(\d(?:[\d.,]*\d)?)`)

// classify maps a ledger rejection onto the service's errors.
func classify(resp *ledger.Response, amount decimal.Decimal) error {
	err := resp.Err()
	var apiErr *ledger.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if strings.Contains(strings.ToLower(apiErr.Detail), exceedsDebtMarker) {
		return &ExceedsDebtError{Amount: amount, Remaining: remainingFrom(resp, apiErr.Detail), Detail: apiErr.Detail}
	}
	if apiErr.NotFound() {
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Detail)
	}
	return apiErr
}

// remainingFrom reads the current debt out of an exceeds-debt rejection,
// preferring a structured field over the message text.
func remainingFrom(resp *ledger.Response, detail string) decimal.Decimal {
	var body struct {
		CurrentDebt *decimal.Decimal `json:"current_debt"`
		Remaining   *decimal.Decimal `json:"remaining"`
	}
	if json.Unmarshal(resp.Body, &body) == nil {
		if body.CurrentDebt != nil {
			return body.CurrentDebt.Round(2)
		}
		if body.Remaining != nil {
			return body.Remaining.Round(2)
		}
	}
	if m := reCurrentDebt.FindStringSubmatch(detail); len(m) == 2 {
		if v, err := money.ParseGrouped(m[1]); err == nil {
			return v
		}
	}
	return decimal.Zero
}

func resultLabel(err error) string {
	var exceeds *ExceedsDebtError
	var status *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrUnavailable):
		return "unavailable"
	case errors.As(err, &exceeds):
		return "exceeds_debt"
	case errors.As(err, &status):
		return "not_pending"
	case errors.Is(err, ErrNotRecipient):
		return "not_recipient"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "rejected"
}
