package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexmontesino96/familybot/internal/balance"
	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/ledger/ledgertest"
	"github.com/alexmontesino96/familybot/internal/payment"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type queued struct{ identity, text string }

type fakeQueue struct {
	mu  sync.Mutex
	got []queued
	err error
}

func (q *fakeQueue) Enqueue(_ context.Context, identity, text string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.got = append(q.got, queued{identity, text})
	return "n", nil
}

type harness struct {
	t      *testing.T
	srv    *ledgertest.Server
	client *ledger.Client
	eng    *Engine
	queue  *fakeQueue
	fam    *ledger.Family
	ids    map[string]ledger.MemberID
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	srv := ledgertest.NewServer()
	t.Cleanup(srv.Close)

	client := srv.Client()
	q := &fakeQueue{}
	svc := payment.NewService(client, NewNotifier(client, q))
	h := &harness{
		t:      t,
		srv:    srv,
		client: client,
		eng:    NewEngine(client, svc),
		queue:  q,
		ids:    make(map[string]ledger.MemberID),
	}
	if len(names) > 0 {
		h.fam = srv.AddFamily("Casa", names...)
		for _, m := range h.fam.Members {
			h.ids[m.Name] = m.ID
		}
	}
	return h
}

func userOf(name string) User { return User{Identity: "tg-" + name, Name: name} }

func (h *harness) send(name, txt string) []Reply {
	h.t.Helper()
	return h.eng.Handle(context.Background(), Input{User: userOf(name), Text: txt})
}

func (h *harness) press(name string, a Action) []Reply {
	h.t.Helper()
	return h.eng.Handle(context.Background(), Input{User: userOf(name), Data: a.Encode()})
}

// pressCode finds the control with code in replies and presses it.
func (h *harness) pressCode(name string, replies []Reply, code Code) []Reply {
	h.t.Helper()
	return h.press(name, button(h.t, replies, code, ""))
}

func (h *harness) model() *balance.Model {
	h.t.Helper()
	resp, err := h.client.GetFamilyBalances(context.Background(), "", h.fam.ID)
	if err != nil || !resp.OK() {
		h.t.Fatalf("GetFamilyBalances() = %v, %v", resp, err)
	}
	var records []ledger.BalanceRecord
	if err := resp.Decode(&records); err != nil {
		h.t.Fatal(err)
	}
	m, _ := balance.Build(records)
	return m
}

func (h *harness) writes() []string {
	var out []string
	for _, r := range h.srv.Requests() {
		if !strings.HasPrefix(r, "GET ") {
			out = append(out, r)
		}
	}
	return out
}

func button(t *testing.T, replies []Reply, code Code, arg string) Action {
	t.Helper()
	for _, r := range replies {
		for _, row := range r.Keyboard {
			for _, b := range row {
				if b.Action.Code == code && (arg == "" || b.Action.Arg == arg) {
					return b.Action
				}
			}
		}
	}
	t.Fatalf("no %s button in replies:\n%s", code, allText(replies))
	return Action{}
}

func allText(replies []Reply) string {
	var parts []string
	for _, r := range replies {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}

func wantText(t *testing.T, replies []Reply, substr string) {
	t.Helper()
	if !strings.Contains(allText(replies), substr) {
		t.Fatalf("replies do not contain %q:\n%s", substr, allText(replies))
	}
}

// ─── Expenses ───────────────────────────────────────────────────────────────

func TestExpense_ExplicitSplit(t *testing.T) {
	h := newHarness(t, "Ana", "Beto", "Caro")
	ana, beto, caro := h.ids["Ana"], h.ids["Beto"], h.ids["Caro"]

	r := h.press("Ana", Do(CodeExpense))
	wantText(t, r, "Describe el gasto")
	h.send("Ana", "Groceries")
	r = h.send("Ana", "100.00")
	wantText(t, r, "¿Entre quiénes")
	r = h.press("Ana", button(t, r, CodeSplitToggle, caro.String()))
	r = h.pressCode("Ana", r, CodeSplitDone)
	wantText(t, r, "Dividido entre: Ana, Beto")
	r = h.pressCode("Ana", r, CodeConfirm)
	wantText(t, r, msgExpenseCreated)

	expenses := h.srv.Expenses()
	if len(expenses) != 1 {
		t.Fatalf("expenses = %d, want 1", len(expenses))
	}
	x := expenses[0]
	if x.Description != "Groceries" || !x.Amount.Equal(d("100")) || x.PaidBy != ana {
		t.Errorf("expense = %+v", x)
	}
	if len(x.SplitAmong) != 2 || x.SplitAmong[0] != ana || x.SplitAmong[1] != beto {
		t.Errorf("split_among = %v, want [%s %s]", x.SplitAmong, ana, beto)
	}

	m := h.model()
	if got := m.Owes(beto, ana); !got.Equal(d("50")) {
		t.Errorf("Beto owes Ana %s, want 50.00", got)
	}
	if c, ok := m.LargestCredit(ana); !ok || c.Counterpart != beto || !c.Amount.Equal(d("50")) {
		t.Errorf("Ana's credit = %+v, want 50.00 from Beto", c)
	}
	if got := m.Owes(caro, ana); !got.IsZero() {
		t.Errorf("Caro owes Ana %s, want 0", got)
	}
}

func TestExpense_SplitAllIsNull(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")

	h.press("Ana", Do(CodeExpense))
	h.send("Ana", "Luz")
	r := h.send("Ana", "30")
	r = h.pressCode("Ana", r, CodeSplitDone)
	wantText(t, r, "todos los miembros")
	h.pressCode("Ana", r, CodeConfirm)

	x := h.srv.Expenses()[0]
	if x.SplitAmong != nil {
		t.Errorf("split_among = %v, want null", x.SplitAmong)
	}
}

func TestExpense_PayerAlwaysParticipates(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	ana, beto := h.ids["Ana"], h.ids["Beto"]

	h.press("Ana", Do(CodeExpense))
	h.send("Ana", "Cena")
	r := h.send("Ana", "40")
	// deselect everyone, payer included
	r = h.press("Ana", button(t, r, CodeSplitToggle, ana.String()))
	r = h.press("Ana", button(t, r, CodeSplitToggle, beto.String()))
	r = h.pressCode("Ana", r, CodeSplitDone)
	h.pressCode("Ana", r, CodeConfirm)

	x := h.srv.Expenses()[0]
	if len(x.SplitAmong) != 1 || x.SplitAmong[0] != ana {
		t.Errorf("split_among = %v, want only the payer", x.SplitAmong)
	}
}

func TestExpense_AmountValidation(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")

	h.press("Ana", Do(CodeExpense))
	r := h.send("Ana", "   ")
	wantText(t, r, "no puede estar vacía")
	h.send("Ana", "Pan")

	r = h.send("Ana", "abc")
	wantText(t, r, "No entendí ese monto")
	r = h.send("Ana", "0")
	wantText(t, r, "mayor que cero")
	r = h.send("Ana", "-5")
	wantText(t, r, "mayor que cero")
	r = h.send("Ana", "12,5")
	wantText(t, r, "¿Entre quiénes")

	r = h.pressCode("Ana", r, CodeSplitDone)
	wantText(t, r, "$12.50")
}

func TestCancel_EveryStepLeavesNoWrites(t *testing.T) {
	steps := []struct {
		name string
		run  func(h *harness) []Reply
	}{
		{"expense description", func(h *harness) []Reply {
			return h.press("Ana", Do(CodeExpense))
		}},
		{"expense split", func(h *harness) []Reply {
			h.press("Ana", Do(CodeExpense))
			h.send("Ana", "Pan")
			return h.send("Ana", "10")
		}},
		{"expense confirm", func(h *harness) []Reply {
			h.press("Ana", Do(CodeExpense))
			h.send("Ana", "Pan")
			r := h.send("Ana", "10")
			return h.pressCode("Ana", r, CodeSplitDone)
		}},
		{"payment amount", func(h *harness) []Reply {
			r := h.press("Beto", Do(CodePayment))
			return h.press("Beto", button(h.t, r, CodePickMember, h.ids["Ana"].String()))
		}},
		{"payment confirm", func(h *harness) []Reply {
			r := h.press("Beto", Do(CodePayment))
			h.press("Beto", button(h.t, r, CodePickMember, h.ids["Ana"].String()))
			return h.send("Beto", "5")
		}},
		{"adjustment confirm", func(h *harness) []Reply {
			r := h.press("Ana", Do(CodeAdjust))
			h.press("Ana", button(h.t, r, CodePickMember, h.ids["Beto"].String()))
			return h.send("Ana", "5")
		}},
	}

	for _, tt := range steps {
		for _, how := range []string{"button", "text"} {
			t.Run(tt.name+" by "+how, func(t *testing.T) {
				h := newHarness(t, "Ana", "Beto")
				h.srv.AddExpense(h.fam.ID, h.ids["Ana"], "60", nil)

				tt.run(h)
				if how == "button" {
					h.press("Ana", Do(CodeCancel))
					h.press("Beto", Do(CodeCancel))
				} else {
					h.send("Ana", "/cancelar")
					h.send("Beto", "/cancel")
				}
				if w := h.writes(); len(w) != 0 {
					t.Errorf("writes after cancel: %v", w)
				}
				// a stale confirm afterwards does nothing
				h.press("Ana", Do(CodeConfirm))
				h.press("Beto", Do(CodeConfirm))
				if w := h.writes(); len(w) != 0 {
					t.Errorf("writes after stale confirm: %v", w)
				}
			})
		}
	}
}

func TestFlow_OtherActionsWaitForCurrentFlow(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")

	h.press("Ana", Do(CodeExpense))
	r := h.press("Ana", Do(CodeBalance))
	wantText(t, r, msgFinishFirst)
	r = h.send("Ana", "/balance")
	wantText(t, r, msgFinishFirst)

	// still at the description step
	r = h.send("Ana", "Agua")
	wantText(t, r, "¿Cuánto costó «Agua»?")
}

// ─── Payments ───────────────────────────────────────────────────────────────

func TestPayment_CreatesPendingAndNotifies(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	ana, beto := h.ids["Ana"], h.ids["Beto"]
	h.srv.AddExpense(h.fam.ID, ana, "60", nil)

	r := h.press("Beto", Do(CodePayment))
	wantText(t, r, "¿A quién le pagas?")
	r = h.press("Beto", button(t, r, CodePickMember, ana.String()))
	wantText(t, r, "Deuda actual: $30.00")
	r = h.send("Beto", "20")
	wantText(t, r, "Monto: $20.00")
	r = h.pressCode("Beto", r, CodeConfirm)
	wantText(t, r, "pendiente hasta que Ana lo confirme")

	ps := h.srv.Payments()
	if len(ps) != 1 || ps[0].From != beto || ps[0].To != ana || ps[0].Status != ledger.StatusPending {
		t.Fatalf("payments = %+v", ps)
	}
	if len(h.queue.got) != 1 || h.queue.got[0].identity != "tg-Ana" || !strings.Contains(h.queue.got[0].text, "Beto registró un pago de $20.00") {
		t.Errorf("notifications = %+v", h.queue.got)
	}
}

func TestPayment_PayFullShortcut(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	ana := h.ids["Ana"]
	h.srv.AddExpense(h.fam.ID, ana, "60", nil)

	r := h.press("Beto", Do(CodePayment))
	r = h.press("Beto", button(t, r, CodePickMember, ana.String()))
	r = h.pressCode("Beto", r, CodePayFull)
	wantText(t, r, "Monto: $30.00")
	h.pressCode("Beto", r, CodeConfirm)

	if got := h.srv.Owes(h.fam.ID, h.ids["Beto"], ana); !got.IsZero() {
		t.Errorf("debt after paying in full = %s", got)
	}
}

func TestPayment_Boundary(t *testing.T) {
	tests := []struct {
		amount  string
		created bool
	}{
		{"30", true},
		{"30.00", true},
		{"30.01", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			h := newHarness(t, "Ana", "Beto")
			ana := h.ids["Ana"]
			h.srv.AddExpense(h.fam.ID, ana, "60", nil)

			r := h.press("Beto", Do(CodePayment))
			h.press("Beto", button(t, r, CodePickMember, ana.String()))
			r = h.send("Beto", tt.amount)
			if !tt.created {
				wantText(t, r, "excede la deuda actual")
				if a := button(t, r, CodePayExact, ""); a.Arg != "30.00" {
					t.Errorf("exact option = %q, want 30.00", a.Arg)
				}
				return
			}
			r = h.pressCode("Beto", r, CodeConfirm)
			wantText(t, r, "Pago registrado")
		})
	}
}

func TestPayment_LedgerRejectsStaleDebt(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	ana, beto := h.ids["Ana"], h.ids["Beto"]
	h.srv.AddExpense(h.fam.ID, ana, "60", nil)

	r := h.press("Beto", Do(CodePayment))
	h.press("Beto", button(t, r, CodePickMember, ana.String()))
	r = h.send("Beto", "30")

	// the debt shrinks between the prompt and the submit
	h.srv.AddPayment(beto, ana, "10", ledger.StatusPending)

	r = h.pressCode("Beto", r, CodeConfirm)
	wantText(t, r, "excede la deuda actual ($20.00)")
	exact := button(t, r, CodePayExact, "")
	if exact.Arg != "20.00" {
		t.Fatalf("exact option = %q, want 20.00", exact.Arg)
	}
	if n := len(h.srv.Payments()); n != 1 {
		t.Fatalf("payments = %d, want only the seeded one", n)
	}

	r = h.press("Beto", exact)
	wantText(t, r, "Monto: $20.00")
	r = h.pressCode("Beto", r, CodeConfirm)
	wantText(t, r, "Pago registrado")

	ps := h.srv.Payments()
	if len(ps) != 2 || !ps[1].Amount.Equal(d("20")) {
		t.Errorf("payments = %+v", ps)
	}
}

func TestPayment_NoDebt(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	r := h.press("Beto", Do(CodePayment))
	r = h.press("Beto", button(t, r, CodePickMember, h.ids["Ana"].String()))
	wantText(t, r, "No le debes nada a Ana")
	if w := h.writes(); len(w) != 0 {
		t.Errorf("writes = %v", w)
	}
}

func TestPayment_NotificationWarning(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	h.srv.AddExpense(h.fam.ID, h.ids["Ana"], "60", nil)
	h.queue.err = errors.New("outbox down")

	r := h.press("Beto", Do(CodePayment))
	h.press("Beto", button(t, r, CodePickMember, h.ids["Ana"].String()))
	r = h.send("Beto", "10")
	r = h.pressCode("Beto", r, CodeConfirm)

	wantText(t, r, "Pago registrado")
	wantText(t, r, "No pude avisarle a Ana")
	if len(h.srv.Payments()) != 1 {
		t.Error("payment not recorded")
	}
}

func TestPending_ConfirmThenReject(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	ana, beto := h.ids["Ana"], h.ids["Beto"]
	h.srv.AddExpense(h.fam.ID, ana, "60", nil)
	p := h.srv.AddPayment(beto, ana, "20", ledger.StatusPending)

	// the payer cannot confirm
	r := h.press("Beto", DoWith(CodePaymentConfirm, p.ID.String()))
	wantText(t, r, "Solo el destinatario")
	if got, _ := h.srv.Payment(p.ID); got.Status != ledger.StatusPending {
		t.Fatalf("status = %s after payer confirm", got.Status)
	}

	r = h.press("Ana", Do(CodePending))
	wantText(t, r, "Beto dice que te pagó $20.00")
	r = h.press("Ana", button(t, r, CodePaymentConfirm, p.ID.String()))
	wantText(t, r, "Pago de Beto confirmado")

	r = h.press("Ana", DoWith(CodePaymentReject, p.ID.String()))
	wantText(t, r, "El pago ya fue confirmado")
	if got, _ := h.srv.Payment(p.ID); got.Status != ledger.StatusConfirm {
		t.Errorf("status = %s, want CONFIRM", got.Status)
	}

	if len(h.queue.got) != 1 || h.queue.got[0].identity != "tg-Beto" || !strings.Contains(h.queue.got[0].text, "Ana confirmó tu pago") {
		t.Errorf("notifications = %+v", h.queue.got)
	}

	r = h.press("Ana", Do(CodePending))
	wantText(t, r, msgNoPending)
}

// ─── Adjustments ────────────────────────────────────────────────────────────

func TestAdjustment_ForgivesPartOfACredit(t *testing.T) {
	h := newHarness(t, "Ana", "Beto", "Caro")
	ana, caro := h.ids["Ana"], h.ids["Caro"]
	h.srv.AddExpense(h.fam.ID, ana, "80", []ledger.MemberID{ana, caro})

	r := h.press("Ana", Do(CodeAdjust))
	wantText(t, r, "¿A quién le quieres ajustar")
	r = h.press("Ana", button(t, r, CodePickMember, caro.String()))
	wantText(t, r, "Caro te debe $40.00")
	r = h.send("Ana", "15")
	wantText(t, r, "Quedará: $25.00")
	r = h.pressCode("Ana", r, CodeConfirm)
	wantText(t, r, "Caro ahora te debe $25.00")

	if got := h.srv.Owes(h.fam.ID, caro, ana); !got.Equal(d("25")) {
		t.Errorf("Caro owes Ana %s, want 25.00", got)
	}
	ps := h.srv.Payments()
	if len(ps) != 1 || ps[0].Kind != ledger.KindDebtAdjustment || ps[0].Status != ledger.StatusConfirm {
		t.Errorf("payments = %+v, want one confirmed debt adjustment", ps)
	}
	if len(h.queue.got) != 1 || h.queue.got[0].identity != "tg-Caro" {
		t.Errorf("notifications = %+v", h.queue.got)
	}
}

func TestAdjustment_OverOutstandingReprompts(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	h.srv.AddExpense(h.fam.ID, h.ids["Ana"], "60", nil)

	r := h.press("Ana", Do(CodeAdjust))
	h.press("Ana", button(t, r, CodePickMember, h.ids["Beto"].String()))
	r = h.send("Ana", "31")
	wantText(t, r, "excede la deuda actual")
	r = h.press("Ana", button(t, r, CodePayExact, "30.00"))
	r = h.pressCode("Ana", r, CodeConfirm)
	wantText(t, r, "Beto ya no te debe nada")
}

func TestAdjustment_NoCredits(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	r := h.press("Ana", Do(CodeAdjust))
	wantText(t, r, msgNoCredits)
}

// ─── Failures ───────────────────────────────────────────────────────────────

func TestFlow_LedgerDownEndsFlow(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	h.press("Ana", Do(CodeExpense))
	h.send("Ana", "Pan")

	h.srv.Close()
	r := h.send("Ana", "10")
	wantText(t, r, msgUnavailable)

	r = h.send("Ana", "hola")
	wantText(t, r, msgUseMenu)
}

func TestFlow_LedgerServerErrorReadsAsUnavailable(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	h.press("Ana", Do(CodeExpense))
	h.send("Ana", "Pan")
	r := h.send("Ana", "10")
	r = h.pressCode("Ana", r, CodeSplitDone)

	h.srv.FailNext("POST /expenses", 503, "mantenimiento")
	r = h.pressCode("Ana", r, CodeConfirm)
	wantText(t, r, msgUnavailable)
}

func TestFlow_LedgerDetailShownVerbatim(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	h.press("Ana", Do(CodeExpense))
	h.send("Ana", "Pan")
	r := h.send("Ana", "10")
	r = h.pressCode("Ana", r, CodeSplitDone)

	h.srv.FailNext("POST /expenses", 400, "La familia está archivada")
	r = h.pressCode("Ana", r, CodeConfirm)
	wantText(t, r, "La familia está archivada")
}

type panickyLedger struct{ *ledger.Client }

func (panickyLedger) GetFamily(context.Context, ledger.Caller, ledger.ID) (*ledger.Response, error) {
	panic("boom")
}

func TestFlow_PanicIsContained(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	srv.AddFamily("Casa", "Ana", "Beto")
	client := srv.Client()
	eng := NewEngine(panickyLedger{client}, payment.NewService(client, nil))
	ctx := context.Background()
	ana := userOf("Ana")

	eng.Handle(ctx, Input{User: ana, Data: Do(CodeExpense).Encode()})
	eng.Handle(ctx, Input{User: ana, Text: "Pan"})
	r := eng.Handle(ctx, Input{User: ana, Text: "10"})
	wantText(t, r, msgApology)
	button(t, r, CodeExpense, "")

	r = eng.Handle(ctx, Input{User: ana, Text: "otra cosa"})
	wantText(t, r, msgUseMenu)
}

func TestFlow_BadCallbackData(t *testing.T) {
	h := newHarness(t, "Ana")
	r := h.eng.Handle(context.Background(), Input{User: userOf("Ana"), Data: "drop table"})
	wantText(t, r, msgUnknownAction)
}

// ─── Family bootstrap ───────────────────────────────────────────────────────

func TestFamily_CreateThenJoin(t *testing.T) {
	h := newHarness(t)

	r := h.send("Ana", "/start")
	wantText(t, r, "Aún no perteneces")
	r = h.pressCode("Ana", r, CodeFamilyCreate)
	r = h.send("Ana", "Los Pérez")
	r = h.pressCode("Ana", r, CodeConfirm)
	wantText(t, r, "Familia «Los Pérez» creada")
	button(t, r, CodeExpense, "")

	resp, _ := h.client.GetMemberByTelegramID(context.Background(), "", "tg-Ana")
	var ana ledger.Member
	if err := resp.Decode(&ana); err != nil {
		t.Fatal(err)
	}

	r = h.send("Beto", "/start")
	r = h.pressCode("Beto", r, CodeFamilyJoin)
	r = h.send("Beto", "no-existe")
	wantText(t, r, "No encontré una familia")
	r = h.send("Beto", ana.FamilyID.String())
	wantText(t, r, "¿Unirte a «Los Pérez» (1 miembros)?")
	r = h.pressCode("Beto", r, CodeConfirm)
	wantText(t, r, "Te uniste a «Los Pérez»")

	resp, _ = h.client.GetFamily(context.Background(), "", ana.FamilyID)
	var f ledger.Family
	resp.Decode(&f)
	if len(f.Members) != 2 {
		t.Errorf("members = %+v", f.Members)
	}
}

func TestFamily_AlreadyMember(t *testing.T) {
	h := newHarness(t, "Ana")
	r := h.press("Ana", Do(CodeFamilyCreate))
	wantText(t, r, msgAlreadyFamily)
}

func TestBalance_View(t *testing.T) {
	h := newHarness(t, "Ana", "Beto", "Caro")
	ana := h.ids["Ana"]
	h.srv.AddExpense(h.fam.ID, ana, "90", nil)

	r := h.press("Ana", Do(CodeBalance))
	wantText(t, r, "Neto: $60.00")
	wantText(t, r, "Beto: $30.00 ⭐")

	r = h.press("Beto", Do(CodeBalance))
	wantText(t, r, "Neto: -$30.00")
	wantText(t, r, "Debes a:\n• Ana: $30.00")
}

func TestExpenses_EditAndDelete(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	x := h.srv.AddExpense(h.fam.ID, h.ids["Ana"], "60", nil)

	r := h.press("Ana", Do(CodeExpenses))
	r = h.press("Ana", button(t, r, CodeExpensePick, x.ID.String()))
	r = h.pressCode("Ana", r, CodeExpenseEdit)
	r = h.send("Ana", "abc")
	wantText(t, r, "No entendí")
	r = h.send("Ana", "80")
	r = h.pressCode("Ana", r, CodeConfirm)
	wantText(t, r, "Monto actualizado a $80.00")
	if got := h.srv.Expenses()[0].Amount; !got.Equal(d("80")) {
		t.Errorf("amount = %s, want 80", got)
	}

	r = h.press("Ana", DoWith(CodeExpenseDelete, x.ID.String()))
	r = h.pressCode("Ana", r, CodeExpenseDeleteConfirm)
	wantText(t, r, msgExpenseGone)
	if n := len(h.srv.Expenses()); n != 0 {
		t.Errorf("expenses = %d after delete", n)
	}

	r = h.press("Ana", DoWith(CodeExpenseDeleteConfirm, x.ID.String()))
	wantText(t, r, "ya no existe")
}

func TestEngine_ReapIdleSessions(t *testing.T) {
	h := newHarness(t, "Ana", "Beto")
	now := time.Now()
	h.eng.sessions.now = func() time.Time { return now }

	h.press("Ana", Do(CodeExpense))
	h.send("Beto", "/start")

	now = now.Add(2 * time.Hour)
	h.send("Beto", "/start")
	if n := h.eng.Reap(time.Hour); n != 1 {
		t.Errorf("Reap() = %d, want 1", n)
	}
	r := h.send("Ana", "Pan")
	wantText(t, r, msgUseMenu)
}
