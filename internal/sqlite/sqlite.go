// Package sqlite is the single-file notification outbox used when no
// Postgres URL is configured.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexmontesino96/familybot/internal/notify"
	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

var _ notify.Store = (*DB)(nil)

// Migrations returns the schema statements. SQLite executes one at a time.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS notifications (
			id              TEXT PRIMARY KEY,
			platform        TEXT NOT NULL,
			chat_id         TEXT NOT NULL,
			text            TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'queued',
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			next_attempt_at INTEGER NOT NULL,
			created_at      INTEGER NOT NULL,
			sent_at         INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(status, next_attempt_at)`,
	}
}

// Open opens (creating if needed) the database at path and applies the
// migrations. Use ":memory:" for a throwaway store.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; also keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)

	for _, stmt := range Migrations() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Enqueue(ctx context.Context, n notify.Notification) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO notifications (id, platform, chat_id, text, status, attempts, next_attempt_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Platform, n.ChatID, n.Text, string(notify.StatusQueued), n.Attempts,
		n.NextAttempt.UnixNano(), n.CreatedAt.UnixNano(),
	)
	return err
}

func (d *DB) Due(ctx context.Context, now time.Time, limit int) ([]notify.Notification, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, platform, chat_id, text, status, attempts, last_error, next_attempt_at, created_at, sent_at
		 FROM notifications
		 WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY created_at, id
		 LIMIT ?`,
		string(notify.StatusQueued), now.UnixNano(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (d *DB) MarkSent(ctx context.Context, id string, at time.Time) error {
	return d.exec(ctx,
		`UPDATE notifications SET status = ?, sent_at = ?, attempts = attempts + 1 WHERE id = ?`,
		string(notify.StatusSent), at.UnixNano(), id,
	)
}

func (d *DB) Delay(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return d.exec(ctx,
		`UPDATE notifications SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?`,
		attempts, next.UnixNano(), lastErr, id,
	)
}

func (d *DB) Fail(ctx context.Context, id string, attempts int, lastErr string) error {
	return d.exec(ctx,
		`UPDATE notifications SET status = ?, attempts = ?, last_error = ? WHERE id = ?`,
		string(notify.StatusFailed), attempts, lastErr, id,
	)
}

func (d *DB) Get(ctx context.Context, id string) (notify.Notification, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, platform, chat_id, text, status, attempts, last_error, next_attempt_at, created_at, sent_at
		 FROM notifications WHERE id = ?`, id)
	n, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, notify.ErrNotFound
	}
	return n, err
}

func (d *DB) exec(ctx context.Context, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notify.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (notify.Notification, error) {
	var (
		n                 notify.Notification
		status            string
		nextAt, createdAt int64
		sentAt            sql.NullInt64
	)
	if err := s.Scan(&n.ID, &n.Platform, &n.ChatID, &n.Text, &status, &n.Attempts, &n.LastError, &nextAt, &createdAt, &sentAt); err != nil {
		return notify.Notification{}, err
	}
	n.Status = notify.Status(status)
	n.NextAttempt = time.Unix(0, nextAt)
	n.CreatedAt = time.Unix(0, createdAt)
	if sentAt.Valid {
		n.SentAt = time.Unix(0, sentAt.Int64)
	}
	return n, nil
}
