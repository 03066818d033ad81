package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ImportLog records one logged-volume import.
type ImportLog struct {
	ID               int64     `json:"id"`
	UserID           int       `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
	Source           string    `json:"source"`
	Status           string    `json:"status"`
	SessionsReceived int       `json:"sessions_received"`
	SetsReceived     int       `json:"sets_received"`
	VolumeEvents     int       `json:"volume_events"`
	Unmatched        []string  `json:"unmatched,omitempty"`
	DurationMs       *int      `json:"duration_ms"`
	ErrorMessage     *string   `json:"error_message"`
}

// InsertImportLog creates an import log entry and returns its ID.
func (db *DB) InsertImportLog(ctx context.Context, l ImportLog) (int64, error) {
	var unmatched []byte
	if len(l.Unmatched) > 0 {
		var err error
		if unmatched, err = json.Marshal(l.Unmatched); err != nil {
			return 0, fmt.Errorf("encoding unmatched exercises: %w", err)
		}
	}
	var id int64
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO import_logs (user_id, source, status, sessions_received, sets_received,
		 volume_events, unmatched, duration_ms, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING id`,
		l.UserID, l.Source, l.Status, l.SessionsReceived, l.SetsReceived,
		l.VolumeEvents, unmatched, l.DurationMs, l.ErrorMessage,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting import log: %w", err)
	}
	return id, nil
}

// QueryImportLogs returns the most recent import logs for a user.
func (db *DB) QueryImportLogs(ctx context.Context, userID, limit int) ([]ImportLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, created_at, source, status, sessions_received, sets_received,
		 volume_events, unmatched, duration_ms, error_message
		 FROM import_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying import logs: %w", err)
	}
	defer rows.Close()

	var result []ImportLog
	for rows.Next() {
		var (
			l         ImportLog
			unmatched []byte
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.CreatedAt, &l.Source, &l.Status,
			&l.SessionsReceived, &l.SetsReceived, &l.VolumeEvents, &unmatched,
			&l.DurationMs, &l.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning import log: %w", err)
		}
		if len(unmatched) > 0 {
			if err := json.Unmarshal(unmatched, &l.Unmatched); err != nil {
				return nil, fmt.Errorf("decoding unmatched exercises: %w", err)
			}
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
