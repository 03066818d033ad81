// Package outbox keeps session results that could not be committed to the
// database in a local SQLite file until a later retry succeeds.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one pending session result.
type Entry struct {
	SessionID uuid.UUID
	Result    models.SessionResult
	Attempts  int
	LastError string
	QueuedAt  time.Time
}

// Outbox is a durable queue of uncommitted session results.
type Outbox struct {
	db *sql.DB
}

// Open opens (or creates) the outbox database at dir/outbox.db.
func Open(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating outbox dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "outbox.db"))
	if err != nil {
		return nil, fmt.Errorf("opening outbox db: %w", err)
	}
	// A single connection serializes writers; SQLite would otherwise report
	// SQLITE_BUSY under concurrent session ends.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS pending_sessions (
		session_id TEXT PRIMARY KEY,
		user_id    INTEGER NOT NULL DEFAULT 0,
		payload    TEXT NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		queued_at  TIMESTAMP NOT NULL
	)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating outbox table: %w", err)
	}
	if err := addUserColumn(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Outbox{db: db}, nil
}

// addUserColumn upgrades outbox files written before entries carried their
// user, backfilling from the payload.
func addUserColumn(db *sql.DB) error {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('pending_sessions') WHERE name = 'user_id'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspecting outbox table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE pending_sessions ADD COLUMN user_id INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("adding outbox user column: %w", err)
	}
	if _, err := db.Exec(`UPDATE pending_sessions SET user_id = json_extract(payload, '$.user_id')`); err != nil {
		return fmt.Errorf("backfilling outbox user column: %w", err)
	}
	return nil
}

// Enqueue stores res. Enqueuing a session already pending replaces its
// payload and keeps the attempt count.
func (o *Outbox) Enqueue(res models.SessionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", res.SessionID, err)
	}
	_, err = o.db.Exec(
		`INSERT INTO pending_sessions (session_id, user_id, payload, queued_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET payload = excluded.payload`,
		res.SessionID.String(), res.UserID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("queueing session %s: %w", res.SessionID, err)
	}
	return nil
}

// Pending returns up to limit entries, oldest first.
func (o *Outbox) Pending(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.db.Query(
		`SELECT session_id, payload, attempts, last_error, queued_at
		 FROM pending_sessions ORDER BY queued_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Entry
	for rows.Next() {
		var (
			e       Entry
			id      string
			payload string
		)
		if err := rows.Scan(&id, &payload, &e.Attempts, &e.LastError, &e.QueuedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}
		if e.SessionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("outbox entry %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Result); err != nil {
			return nil, fmt.Errorf("decoding outbox entry %s: %w", id, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Len returns the number of pending entries.
func (o *Outbox) Len() (int, error) {
	var n int
	if err := o.db.QueryRow(`SELECT COUNT(*) FROM pending_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outbox: %w", err)
	}
	return n, nil
}

// PendingFor returns the number of pending entries owned by userID.
func (o *Outbox) PendingFor(userID int) (int, error) {
	var n int
	err := o.db.QueryRow(`SELECT COUNT(*) FROM pending_sessions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting outbox for user %d: %w", userID, err)
	}
	return n, nil
}

// MarkCommitted removes a delivered entry.
func (o *Outbox) MarkCommitted(id uuid.UUID) error {
	if _, err := o.db.Exec(`DELETE FROM pending_sessions WHERE session_id = ?`, id.String()); err != nil {
		return fmt.Errorf("removing session %s from outbox: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt.
func (o *Outbox) MarkFailed(id uuid.UUID, cause error) error {
	_, err := o.db.Exec(
		`UPDATE pending_sessions SET attempts = attempts + 1, last_error = ? WHERE session_id = ?`,
		cause.Error(), id.String())
	if err != nil {
		return fmt.Errorf("updating outbox entry %s: %w", id, err)
	}
	return nil
}

// Close closes the outbox database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// CommitFunc delivers one session result.
type CommitFunc func(ctx context.Context, res models.SessionResult) error

// Flush attempts delivery of every pending entry. It stops at the first
// failure so entries stay in order, and returns how many were delivered.
func (o *Outbox) Flush(ctx context.Context, commit CommitFunc) (int, error) {
	entries, err := o.Pending(0)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, e := range entries {
		if err := commit(ctx, e.Result); err != nil {
			if markErr := o.MarkFailed(e.SessionID, err); markErr != nil {
				return done, markErr
			}
			return done, fmt.Errorf("committing session %s: %w", e.SessionID, err)
		}
		if err := o.MarkCommitted(e.SessionID); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Run flushes the outbox every interval until ctx is done.
func (o *Outbox) Run(ctx context.Context, interval time.Duration, commit CommitFunc, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := o.Flush(ctx, commit)
		if n > 0 {
			log.Info("outbox delivered sessions", "count", n)
		}
		if err != nil && ctx.Err() == nil {
			log.Warn("outbox flush failed", "error", err)
		}
	}
}
