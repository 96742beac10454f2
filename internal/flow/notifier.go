package flow

import (
	"context"
	"fmt"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/money"
	"github.com/alexmontesino96/familybot/internal/payment"
)

// Enqueuer accepts a message for later delivery to a chat identity.
type Enqueuer interface {
	Enqueue(ctx context.Context, identity, text string) (string, error)
}

// MemberReader resolves members for notification addressing.
type MemberReader interface {
	GetMember(ctx context.Context, caller ledger.Caller, id ledger.MemberID) (*ledger.Response, error)
}

// Notifier renders payment notices in Spanish and queues them for the
// counterpart's chat. It only enqueues; delivery happens in notify.
type Notifier struct {
	members MemberReader
	queue   Enqueuer
}

var _ payment.Notifier = (*Notifier)(nil)

func NewNotifier(members MemberReader, queue Enqueuer) *Notifier {
	return &Notifier{members: members, queue: queue}
}

func (n *Notifier) Notify(ctx context.Context, notice payment.Notice) error {
	recipient, err := n.member(ctx, notice.Caller, notice.Recipient)
	if err != nil {
		return fmt.Errorf("look up recipient %s: %w", notice.Recipient, err)
	}
	if recipient.TelegramID == "" {
		return fmt.Errorf("member %s has no chat identity", recipient.ID)
	}

	other := notice.Payment.From
	if notice.Recipient == notice.Payment.From {
		other = notice.Payment.To
	}
	otherName := "Usuario " + other.String()
	if m, err := n.member(ctx, notice.Caller, other); err == nil && m.Name != "" {
		otherName = m.Name
	}

	if _, err := n.queue.Enqueue(ctx, recipient.TelegramID.String(), noticeText(notice, otherName)); err != nil {
		return err
	}
	return nil
}

func (n *Notifier) member(ctx context.Context, caller ledger.Caller, id ledger.MemberID) (*ledger.Member, error) {
	resp, err := n.members.GetMember(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Err()
	}
	var m ledger.Member
	if err := resp.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func noticeText(notice payment.Notice, other string) string {
	amount := money.Format(notice.Payment.Amount)
	switch notice.Event {
	case payment.EventCreated:
		return fmt.Sprintf("💸 %s registró un pago de %s para ti. Revísalo en ⏳ Pendientes para confirmarlo o rechazarlo.", other, amount)
	case payment.EventConfirmed:
		return fmt.Sprintf("✅ %s confirmó tu pago de %s.", other, amount)
	case payment.EventRejected:
		return fmt.Sprintf("❌ %s rechazó tu pago de %s.", other, amount)
	case payment.EventAdjusted:
		return fmt.Sprintf("✂️ %s te perdonó %s de tu deuda.", other, amount)
	}
	return fmt.Sprintf("ℹ️ Movimiento de %s con %s.", amount, other)
}
