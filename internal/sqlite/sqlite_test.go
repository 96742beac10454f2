package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexmontesino96/familybot/internal/notify"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func queued(id string, at time.Time) notify.Notification {
	return notify.Notification{
		ID: id, Platform: notify.PlatformTelegram, ChatID: "10", Text: "hola " + id,
		Status: notify.StatusQueued, NextAttempt: at, CreatedAt: at,
	}
}

func TestOutbox_DueOrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		if err := db.Enqueue(ctx, queued(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Enqueue(%s) error: %v", id, err)
		}
	}
	if err := db.Enqueue(ctx, queued("later", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	due, err := db.Due(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("Due() error: %v", err)
	}
	if len(due) != 3 || due[0].ID != "c" || due[1].ID != "a" || due[2].ID != "b" {
		t.Fatalf("Due() = %+v, want c, a, b", due)
	}
	if !due[0].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", due[0].CreatedAt, base)
	}

	due, _ = db.Due(ctx, base.Add(time.Minute), 2)
	if len(due) != 2 {
		t.Errorf("Due(limit 2) = %d rows", len(due))
	}
}

func TestOutbox_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	db.Enqueue(ctx, queued("n1", now))

	if err := db.Delay(ctx, "n1", 1, now.Add(time.Minute), "timeout"); err != nil {
		t.Fatalf("Delay() error: %v", err)
	}
	if due, _ := db.Due(ctx, now, 10); len(due) != 0 {
		t.Errorf("delayed notification still due: %+v", due)
	}
	n, err := db.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if n.Attempts != 1 || n.LastError != "timeout" {
		t.Errorf("after Delay = %+v", n)
	}

	if err := db.MarkSent(ctx, "n1", now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkSent() error: %v", err)
	}
	n, _ = db.Get(ctx, "n1")
	if n.Status != notify.StatusSent || n.Attempts != 2 || n.SentAt.IsZero() {
		t.Errorf("after MarkSent = %+v", n)
	}

	db.Enqueue(ctx, queued("n2", now))
	if err := db.Fail(ctx, "n2", 3, "blocked"); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}
	n, _ = db.Get(ctx, "n2")
	if n.Status != notify.StatusFailed || n.Attempts != 3 {
		t.Errorf("after Fail = %+v", n)
	}
}

func TestOutbox_NotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Get(ctx, "missing"); !errors.Is(err, notify.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := db.MarkSent(ctx, "missing", time.Now()); !errors.Is(err, notify.ErrNotFound) {
		t.Errorf("MarkSent() error = %v, want ErrNotFound", err)
	}
}

type captureSender struct{ got []string }

func (s *captureSender) Platform() string { return notify.PlatformTelegram }

func (s *captureSender) Send(_ context.Context, chatID, text string) error {
	s.got = append(s.got, chatID+":"+text)
	return nil
}

func TestOutbox_WithDispatcher(t *testing.T) {
	db := newTestDB(t)
	sender := &captureSender{}
	d := notify.NewDispatcher(db, notify.Options{}, sender)
	ctx := context.Background()

	id, err := d.Enqueue(ctx, "321", "Beto registró un pago")
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	d.RunOnce(ctx)

	if len(sender.got) != 1 || sender.got[0] != "321:Beto registró un pago" {
		t.Errorf("sent = %v", sender.got)
	}
	n, _ := db.Get(ctx, id)
	if n.Status != notify.StatusSent {
		t.Errorf("status = %s, want sent", n.Status)
	}
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	defer db.Close()
	if err := db.Enqueue(context.Background(), queued("m", time.Now())); err != nil {
		t.Errorf("Enqueue() error: %v", err)
	}
}
