// Package notify delivers counterpart notifications outside the request that
// caused them. Notifications are written to a Store and a Dispatcher drains
// it on a ticker, retrying with backoff until delivery or MaxAttempts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
)

// discordPrefix marks chat identities that belong to Discord users. Telegram
// identities are bare numeric user ids.
const discordPrefix = "discord:"

// Route maps a chat identity, as stored in the ledger's telegram_id field,
// to a platform and the chat to deliver on.
func Route(identity string) (platform, chatID string) {
	if rest, ok := strings.CutPrefix(identity, discordPrefix); ok {
		return PlatformDiscord, rest
	}
	return PlatformTelegram, identity
}

// DiscordIdentity is the inverse of Route for Discord users.
func DiscordIdentity(userID string) string {
	return discordPrefix + userID
}

type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

type Notification struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	ChatID      string    `json:"chat_id"`
	Text        string    `json:"text"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	NextAttempt time.Time `json:"next_attempt"`
	CreatedAt   time.Time `json:"created_at"`
	SentAt      time.Time `json:"sent_at,omitempty"`
}

var (
	ErrNoRecipient = errors.New("notification has no recipient")
	ErrNotFound    = errors.New("notification not found")
)

// Store is the outbox the dispatcher drains. Implementations must be safe for
// concurrent use.
type Store interface {
	Enqueue(ctx context.Context, n Notification) error
	// Due returns queued notifications whose NextAttempt is not after now,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	// Delay records a failed attempt and schedules the next one.
	Delay(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	// Fail records the last attempt and stops retrying.
	Fail(ctx context.Context, id string, attempts int, lastErr string) error
	Get(ctx context.Context, id string) (Notification, error)
}

// Sender delivers text to a chat on one platform.
type Sender interface {
	Platform() string
	Send(ctx context.Context, chatID, text string) error
}

// DeliveryError is reported on Dispatcher.Errors for every failed attempt.
type DeliveryError struct {
	NotificationID string
	Platform       string
	ChatID         string
	Attempts       int
	Final          bool
	Err            error
}

func (e *DeliveryError) Error() string {
	state := "will retry"
	if e.Final {
		state = "giving up"
	}
	return fmt.Sprintf("notify %s %s (attempt %d, %s): %v", e.Platform, e.ChatID, e.Attempts, state, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
