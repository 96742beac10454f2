package db

import (
	"context"
	"errors"
	"time"

	"github.com/alexmontesino96/familybot/internal/notify"
	"github.com/jackc/pgx/v5"
)

var _ notify.Store = (*DB)(nil)

func (db *DB) Enqueue(ctx context.Context, n notify.Notification) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO notifications (id, platform, chat_id, text, status, attempts, next_attempt_at, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.Platform, n.ChatID, n.Text, string(notify.StatusQueued), n.Attempts, n.NextAttempt, n.CreatedAt,
	)
	return err
}

// Due lists queued notifications whose next attempt is due, oldest first.
func (db *DB) Due(ctx context.Context, now time.Time, limit int) ([]notify.Notification, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, platform, chat_id, text, status, attempts, last_error, next_attempt_at, created_at, sent_at
         FROM notifications
         WHERE status = $1 AND next_attempt_at <= $2
         ORDER BY created_at, id
         LIMIT $3`,
		string(notify.StatusQueued), now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) MarkSent(ctx context.Context, id string, at time.Time) error {
	return db.exec(ctx,
		`UPDATE notifications SET status = $2, sent_at = $3, attempts = attempts + 1 WHERE id = $1`,
		id, string(notify.StatusSent), at,
	)
}

func (db *DB) Delay(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return db.exec(ctx,
		`UPDATE notifications SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1`,
		id, attempts, next, lastErr,
	)
}

func (db *DB) Fail(ctx context.Context, id string, attempts int, lastErr string) error {
	return db.exec(ctx,
		`UPDATE notifications SET status = $2, attempts = $3, last_error = $4 WHERE id = $1`,
		id, string(notify.StatusFailed), attempts, lastErr,
	)
}

func (db *DB) Get(ctx context.Context, id string) (notify.Notification, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, platform, chat_id, text, status, attempts, last_error, next_attempt_at, created_at, sent_at
         FROM notifications WHERE id = $1`,
		id,
	)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notify.Notification{}, notify.ErrNotFound
		}
		return notify.Notification{}, err
	}
	return n, nil
}

func (db *DB) exec(ctx context.Context, sql string, args ...any) error {
	ct, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (notify.Notification, error) {
	var (
		n      notify.Notification
		status string
		sentAt *time.Time
	)
	if err := row.Scan(&n.ID, &n.Platform, &n.ChatID, &n.Text, &status, &n.Attempts, &n.LastError, &n.NextAttempt, &n.CreatedAt, &sentAt); err != nil {
		return notify.Notification{}, err
	}
	n.Status = notify.Status(status)
	if sentAt != nil {
		n.SentAt = *sentAt
	}
	return n, nil
}
