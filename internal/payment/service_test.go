package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/ledger/ledgertest"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

// fixture seeds Ana and Beto where Beto owes Ana 30.
type fixture struct {
	srv      *ledgertest.Server
	svc      *Service
	notifier *recordingNotifier
	family   ledger.ID
	ana      ledger.Member
	beto     ledger.Member
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := ledgertest.NewServer()
	t.Cleanup(srv.Close)

	f := srv.AddFamily("Casa", "Ana", "Beto")
	ana, beto := f.Members[0], f.Members[1]
	srv.AddExpense(f.ID, ana.ID, "60", nil)

	n := &recordingNotifier{}
	return &fixture{
		srv:      srv,
		svc:      NewService(srv.Client(), n),
		notifier: n,
		family:   f.ID,
		ana:      ana,
		beto:     beto,
	}
}

func caller(m ledger.Member) ledger.Caller { return ledger.Caller(m.TelegramID) }

func TestTransition(t *testing.T) {
	p := Payment{ID: "7", From: "1", To: "2", Amount: d("10"), Status: Pending}

	tests := []struct {
		name    string
		status  Status
		action  Action
		actor   ledger.MemberID
		want    Status
		wantErr error
	}{
		{name: "recipient confirms", status: Pending, action: ActionConfirm, actor: "2", want: Confirmed},
		{name: "recipient rejects", status: Pending, action: ActionReject, actor: "2", want: Rejected},
		{name: "payer confirms", status: Pending, action: ActionConfirm, actor: "1", want: Pending, wantErr: ErrNotRecipient},
		{name: "stranger rejects", status: Pending, action: ActionReject, actor: "3", want: Pending, wantErr: ErrNotRecipient},
		{name: "anonymous", status: Pending, action: ActionConfirm, actor: "", want: Pending, wantErr: ErrNotRecipient},
		{name: "unknown action", status: Pending, action: Action(9), actor: "2", want: Pending, wantErr: ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.Status = tt.status
			got, err := Transition(p, tt.action, tt.actor)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Transition() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Transition() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTransition_TerminalIsFinal(t *testing.T) {
	for _, status := range []Status{Confirmed, Rejected} {
		for _, action := range []Action{ActionConfirm, ActionReject} {
			p := Payment{From: "1", To: "2", Status: status}
			got, err := Transition(p, action, "2")
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("%s on %s: error = %v, want *StatusError", action, status, err)
			}
			if se.Current != status || got != status {
				t.Errorf("%s on %s: got %s / current %s", action, status, got, se.Current)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"PENDING":   Pending,
		"confirm":   Confirmed,
		"CONFIRMED": Confirmed,
		" reject ":  Rejected,
		"REJECTED":  Rejected,
		"weird":     Status("WEIRD"),
	}
	for in, want := range tests {
		if got := ParseStatus(in); got != want {
			t.Errorf("ParseStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestCreate_Pending(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.svc.Create(context.Background(), caller(fx.beto), CreateRequest{From: fx.beto.ID, To: fx.ana.ID, Amount: d("20")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if out.Payment.Status != Pending || out.Payment.Kind != Transfer {
		t.Errorf("payment = %+v, want pending transfer", out.Payment)
	}
	if out.Warning != nil {
		t.Errorf("Warning = %v", out.Warning)
	}
	if len(fx.notifier.notices) != 1 || fx.notifier.notices[0].Recipient != fx.ana.ID || fx.notifier.notices[0].Event != EventCreated {
		t.Errorf("notices = %+v, want one created notice to Ana", fx.notifier.notices)
	}
}

func TestCreate_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Create(ctx, caller(fx.beto), CreateRequest{From: fx.beto.ID, To: fx.beto.ID, Amount: d("5")}); !errors.Is(err, ErrSelfPayment) {
		t.Errorf("self payment error = %v", err)
	}
	if _, err := fx.svc.Create(ctx, caller(fx.beto), CreateRequest{From: fx.beto.ID, To: fx.ana.ID, Amount: d("0")}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount error = %v", err)
	}
	if n := len(fx.srv.Payments()); n != 0 {
		t.Errorf("%d payments reached the ledger", n)
	}
}

func TestCreate_ExceedsDebtFromLedger(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Create(context.Background(), caller(fx.beto), CreateRequest{From: fx.beto.ID, To: fx.ana.ID, Amount: d("45")})
	var exceeds *ExceedsDebtError
	if !errors.As(err, &exceeds) {
		t.Fatalf("Create() error = %v, want *ExceedsDebtError", err)
	}
	if !exceeds.Remaining.Equal(d("30")) {
		t.Errorf("Remaining = %s, want 30", exceeds.Remaining)
	}
	if !exceeds.Amount.Equal(d("45")) {
		t.Errorf("Amount = %s, want 45 (never clamped)", exceeds.Amount)
	}
	if !strings.Contains(exceeds.Error(), "excede la deuda actual") {
		t.Errorf("Error() = %q", exceeds.Error())
	}
	if len(fx.srv.Payments()) != 0 || len(fx.notifier.notices) != 0 {
		t.Error("rejected payment left state behind")
	}
}

func TestCreate_RemainingFromDetailText(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		want   string
	}{
		{name: "plain", detail: "El monto excede la deuda actual ($30.00)", want: "30"},
		{name: "thousands comma", detail: "El monto ($1,500.00) excede la deuda actual ($1,234.56)", want: "1234.56"},
		{name: "thousands dot", detail: "El monto excede la deuda actual ($1.234,56)", want: "1234.56"},
		{name: "grouping only", detail: "El monto excede la deuda actual ($2,000).", want: "2000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"detail": tt.detail})
			err := classify(&ledger.Response{StatusCode: 400, Body: body}, d("5000"))
			var exceeds *ExceedsDebtError
			if !errors.As(err, &exceeds) {
				t.Fatalf("classify() = %v, want *ExceedsDebtError", err)
			}
			if !exceeds.Remaining.Equal(d(tt.want)) {
				t.Errorf("Remaining = %s, want %s", exceeds.Remaining, tt.want)
			}
		})
	}
}

func TestCreate_DebtBoundary(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		exceeds bool
	}{
		{name: "exactly the debt", amount: "30", exceeds: false},
		{name: "one cent over", amount: "30.01", exceeds: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			_, err := fx.svc.Create(context.Background(), caller(fx.beto), CreateRequest{From: fx.beto.ID, To: fx.ana.ID, Amount: d(tt.amount)})
			var exceeds *ExceedsDebtError
			if got := errors.As(err, &exceeds); got != tt.exceeds {
				t.Fatalf("Create(%s) error = %v, exceeds = %v want %v", tt.amount, err, got, tt.exceeds)
			}
		})
	}
}

func TestCreate_KnownDebtChecksBeforeLedger(t *testing.T) {
	fx := newFixture(t)
	known := d("30")

	_, err := fx.svc.Create(context.Background(), caller(fx.beto), CreateRequest{From: fx.beto.ID, To: fx.ana.ID, Amount: d("30.01"), KnownDebt: &known})
	var exceeds *ExceedsDebtError
	if !errors.As(err, &exceeds) || !exceeds.Remaining.Equal(known) {
		t.Fatalf("Create() error = %v, want exceeds with remaining 30", err)
	}
	for _, r := range fx.srv.Requests() {
		if strings.HasPrefix(r, "POST /payments") {
			t.Errorf("ledger was called: %s", r)
		}
	}
}

func TestCreate_RemainingFromStructuredField(t *testing.T) {
	resp := &ledger.Response{StatusCode: 400, Body: []byte(`{"detail":"El monto excede la deuda actual","current_debt":12.5}`)}
	err := classify(resp, d("20"))
	var exceeds *ExceedsDebtError
	if !errors.As(err, &exceeds) || !exceeds.Remaining.Equal(d("12.5")) {
		t.Fatalf("classify() = %v, want remaining 12.5", err)
	}

	resp = &ledger.Response{StatusCode: 400, Body: []byte(`{"detail":"El monto excede la deuda actual"}`)}
	err = classify(resp, d("20"))
	if !errors.As(err, &exceeds) || exceeds.HasRemaining() {
		t.Fatalf("classify() = %v, want exceeds without remaining", err)
	}
}

func TestCreate_LedgerDown(t *testing.T) {
	srv := ledgertest.NewServer()
	url := srv.URL
	srv.Close()

	svc := NewService(ledger.New(ledger.Options{BaseURL: url}), nil)
	_, err := svc.Create(context.Background(), "tg", CreateRequest{From: "1", To: "2", Amount: d("1")})
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("Create() error = %v, want ErrUnavailable", err)
	}
}

func TestConfirm_ByRecipient(t *testing.T) {
	fx := newFixture(t)
	p := fx.srv.AddPayment(fx.beto.ID, fx.ana.ID, "20", ledger.StatusPending)

	out, err := fx.svc.Confirm(context.Background(), caller(fx.ana), fx.ana.ID, p.ID)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if out.Payment.Status != Confirmed {
		t.Errorf("status = %s, want CONFIRM", out.Payment.Status)
	}
	stored, _ := fx.srv.Payment(p.ID)
	if stored.Status != ledger.StatusConfirm {
		t.Errorf("ledger status = %s", stored.Status)
	}
	if len(fx.notifier.notices) != 1 || fx.notifier.notices[0].Recipient != fx.beto.ID || fx.notifier.notices[0].Event != EventConfirmed {
		t.Errorf("notices = %+v, want confirmed notice to Beto", fx.notifier.notices)
	}
}

func TestReject_ByRecipient(t *testing.T) {
	fx := newFixture(t)
	p := fx.srv.AddPayment(fx.beto.ID, fx.ana.ID, "20", ledger.StatusPending)

	out, err := fx.svc.Reject(context.Background(), caller(fx.ana), fx.ana.ID, p.ID)
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if out.Payment.Status != Rejected {
		t.Errorf("status = %s, want REJECT", out.Payment.Status)
	}
	if got := fx.srv.Owes(fx.family, fx.beto.ID, fx.ana.ID); !got.Equal(d("30")) {
		t.Errorf("debt after reject = %s, want 30 restored", got)
	}
}

func TestConfirm_NotRecipient(t *testing.T) {
	fx := newFixture(t)
	p := fx.srv.AddPayment(fx.beto.ID, fx.ana.ID, "20", ledger.StatusPending)

	_, err := fx.svc.Confirm(context.Background(), caller(fx.beto), fx.beto.ID, p.ID)
	if !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("Confirm() error = %v, want ErrNotRecipient", err)
	}
	stored, _ := fx.srv.Payment(p.ID)
	if stored.Status != ledger.StatusPending {
		t.Errorf("status = %s, want PENDING", stored.Status)
	}
	for _, r := range fx.srv.Requests() {
		if strings.HasPrefix(r, "PATCH ") {
			t.Errorf("status update sent: %s", r)
		}
	}
	if len(fx.notifier.notices) != 0 {
		t.Errorf("notices = %+v, want none", fx.notifier.notices)
	}
}

func TestConfirm_Twice(t *testing.T) {
	fx := newFixture(t)
	p := fx.srv.AddPayment(fx.beto.ID, fx.ana.ID, "20", ledger.StatusPending)
	ctx := context.Background()

	if _, err := fx.svc.Confirm(ctx, caller(fx.ana), fx.ana.ID, p.ID); err != nil {
		t.Fatalf("first Confirm() error = %v", err)
	}
	_, err := fx.svc.Confirm(ctx, caller(fx.ana), fx.ana.ID, p.ID)
	var se *StatusError
	if !errors.As(err, &se) || se.Current != Confirmed {
		t.Fatalf("second Confirm() error = %v, want already confirmed", err)
	}
	if se.Error() != "el pago ya fue confirmado" {
		t.Errorf("Error() = %q", se.Error())
	}
	if _, err := fx.svc.Reject(ctx, caller(fx.ana), fx.ana.ID, p.ID); !errors.As(err, &se) {
		t.Errorf("Reject() after confirm error = %v", err)
	}
	if len(fx.notifier.notices) != 1 {
		t.Errorf("notices = %d, want 1", len(fx.notifier.notices))
	}
}

func TestConfirm_LedgerConflictIsReported(t *testing.T) {
	fx := newFixture(t)
	p := fx.srv.AddPayment(fx.beto.ID, fx.ana.ID, "20", ledger.StatusPending)
	fx.srv.FailNext("PATCH /payments/", 409, "El pago ya está en estado CONFIRM")

	_, err := fx.svc.Confirm(context.Background(), caller(fx.ana), fx.ana.ID, p.ID)
	var apiErr *ledger.APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "El pago ya está en estado CONFIRM" {
		t.Fatalf("Confirm() error = %v, want ledger detail", err)
	}
}

func TestConfirm_NotFound(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.Confirm(context.Background(), caller(fx.ana), fx.ana.ID, "999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Confirm() error = %v, want ErrNotFound", err)
	}
}

func TestAdjust_ConfirmedImmediately(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.svc.Adjust(context.Background(), caller(fx.ana), AdjustRequest{
		Creditor: fx.ana.ID, Debtor: fx.beto.ID, Amount: d("10"), Outstanding: d("30"),
	})
	if err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	if out.Payment.Status != Confirmed || out.Payment.Kind != Adjustment {
		t.Errorf("payment = %+v, want confirmed debt adjustment", out.Payment)
	}
	stored := fx.srv.Payments()
	if len(stored) != 1 || stored[0].Kind != ledger.KindDebtAdjustment || stored[0].Status != ledger.StatusConfirm {
		t.Errorf("ledger payments = %+v", stored)
	}
	if got := fx.srv.Owes(fx.family, fx.beto.ID, fx.ana.ID); !got.Equal(d("20")) {
		t.Errorf("debt after adjustment = %s, want 20", got)
	}
	if len(fx.notifier.notices) != 1 || fx.notifier.notices[0].Recipient != fx.beto.ID || fx.notifier.notices[0].Event != EventAdjusted {
		t.Errorf("notices = %+v", fx.notifier.notices)
	}
}

func TestAdjust_Bounds(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Adjust(ctx, caller(fx.ana), AdjustRequest{Creditor: fx.ana.ID, Debtor: fx.beto.ID, Amount: d("30.01"), Outstanding: d("30")})
	var exceeds *ExceedsDebtError
	if !errors.As(err, &exceeds) || !exceeds.Remaining.Equal(d("30")) {
		t.Errorf("over outstanding error = %v", err)
	}
	if _, err := fx.svc.Adjust(ctx, caller(fx.ana), AdjustRequest{Creditor: fx.ana.ID, Debtor: fx.beto.ID, Amount: d("1"), Outstanding: decimal.Zero}); !errors.Is(err, ErrNoDebt) {
		t.Errorf("no debt error = %v", err)
	}
	if _, err := fx.svc.Adjust(ctx, caller(fx.ana), AdjustRequest{Creditor: fx.ana.ID, Debtor: fx.ana.ID, Amount: d("1"), Outstanding: d("5")}); !errors.Is(err, ErrSelfPayment) {
		t.Errorf("self adjustment error = %v", err)
	}
	if n := len(fx.srv.Payments()); n != 0 {
		t.Errorf("%d adjustments reached the ledger", n)
	}
}

func TestNotifyFailureIsAWarning(t *testing.T) {
	fx := newFixture(t)
	fx.notifier.err = errors.New("queue full")

	out, err := fx.svc.Create(context.Background(), caller(fx.beto), CreateRequest{From: fx.beto.ID, To: fx.ana.ID, Amount: d("10")})
	if err != nil {
		t.Fatalf("Create() error = %v, notification failures must not fail the payment", err)
	}
	if out.Warning == nil {
		t.Error("Warning = nil, want notifier error")
	}
	if len(fx.srv.Payments()) != 1 {
		t.Error("payment was not recorded")
	}
}
