package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/alexmontesino96/familybot/internal/ledger/ledgertest"
	"github.com/alexmontesino96/familybot/internal/payment"
)

func TestNotifier_AddressesCounterpart(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	f := srv.AddFamily("Casa", "Ana", "Beto")
	ana, beto := f.Members[0].ID, f.Members[1].ID

	q := &fakeQueue{}
	n := NewNotifier(srv.Client(), q)
	p := payment.Payment{ID: "9", From: beto, To: ana, Amount: d("12.5")}

	tests := []struct {
		event     payment.Event
		recipient string
		want      string
	}{
		{payment.EventCreated, "tg-Ana", "Beto registró un pago de $12.50"},
		{payment.EventConfirmed, "tg-Beto", "Ana confirmó tu pago de $12.50"},
		{payment.EventRejected, "tg-Beto", "Ana rechazó tu pago de $12.50"},
	}
	for _, tt := range tests {
		q.got = nil
		to := ana
		if tt.event != payment.EventCreated {
			to = beto
		}
		err := n.Notify(context.Background(), payment.Notice{Event: tt.event, Payment: p, Recipient: to, Caller: "tg-Ana"})
		if err != nil {
			t.Fatalf("Notify(%s) error = %v", tt.event, err)
		}
		if len(q.got) != 1 || q.got[0].identity != tt.recipient || !strings.Contains(q.got[0].text, tt.want) {
			t.Errorf("Notify(%s) queued %+v", tt.event, q.got)
		}
	}
}

func TestNotifier_UnknownRecipient(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()

	q := &fakeQueue{}
	n := NewNotifier(srv.Client(), q)
	err := n.Notify(context.Background(), payment.Notice{Event: payment.EventCreated, Recipient: "404"})
	if err == nil {
		t.Fatal("Notify() to a missing member succeeded")
	}
	if len(q.got) != 0 {
		t.Errorf("queued %+v", q.got)
	}
}
