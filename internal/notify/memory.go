package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the outbox in process. Queued notifications are lost on
// restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Notification)}
}

func (s *MemoryStore) Enqueue(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[n.ID] = &n
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Notification
	for _, n := range s.items {
		if n.Status == StatusQueued && !n.NextAttempt.After(now) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(n *Notification) {
		n.Status = StatusSent
		n.SentAt = at
		n.Attempts++
	})
}

func (s *MemoryStore) Delay(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return s.update(id, func(n *Notification) {
		n.Attempts = attempts
		n.NextAttempt = next
		n.LastError = lastErr
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, attempts int, lastErr string) error {
	return s.update(id, func(n *Notification) {
		n.Status = StatusFailed
		n.Attempts = attempts
		n.LastError = lastErr
	})
}

func (s *MemoryStore) Get(_ context.Context, id string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return *n, nil
}

func (s *MemoryStore) update(id string, fn func(*Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	fn(n)
	return nil
}
