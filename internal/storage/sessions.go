package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRows flattens a session result into table rows. Sets and reps are
// numbered from 1 in the order they were produced.
func SessionRows(res models.SessionResult) (models.SessionRow, []models.SetRow, []models.RepRow) {
	sess := models.SessionRow{
		ID:        res.SessionID,
		UserID:    res.UserID,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
		Tier:      res.Rank.Tier.String(),
	}
	if res.Outcome.Computed {
		d := res.Outcome.Delta
		sess.Delta = &d
	}

	sets := make([]models.SetRow, 0, len(res.Sets))
	var reps []models.RepRow
	for i, s := range res.Sets {
		n := i + 1
		sets = append(sets, models.SetRow{
			SessionID:       res.SessionID,
			UserID:          res.UserID,
			SetNumber:       n,
			Exercise:        s.Record.Exercise,
			Reps:            s.Record.Reps,
			LoadKg:          s.Record.LoadKg,
			EffectiveLoadKg: s.Record.EffectiveLoadKg,
			MeanVelocity:    models.VelocityPtr(s.Record.MeanVelocity),
			FormScore:       s.Record.FormScore,
			VelocityLossPct: s.Fatigue.VelocityLossPct,
			AutoStopped:     s.Fatigue.AutoStop,
			RPE:             s.RPE,
			RIR:             s.RIR,
			StartedAt:       s.StartedAt,
			EndedAt:         s.EndedAt,
		})
		for _, r := range s.Reps {
			major := 0
			for _, is := range r.Issues {
				if is.Severity == models.SeverityMajor {
					major++
				}
			}
			reps = append(reps, models.RepRow{
				SessionID:        res.SessionID,
				SetNumber:        n,
				RepNumber:        r.Number,
				EccentricMs:      r.EccentricDuration.Milliseconds(),
				ConcentricMs:     r.ConcentricDuration.Milliseconds(),
				FormScore:        r.FormScore,
				ROMDegrees:       r.ROMDegrees,
				BarPathDeviation: r.BarPathDeviation,
				MeanVelocity:     models.VelocityPtr(r.MeanConcentricVelocity),
				PeakVelocity:     models.VelocityPtr(r.PeakConcentricVelocity),
				VelocityLossPct:  r.VelocityLossPct,
				CompletedAt:      r.CompletedAt,
				MajorIssues:      major,
			})
		}
	}
	return sess, sets, reps
}

// CommitSession persists a finished session atomically: the session, its
// sets and reps, the rank state and the touched muscle states. Committing
// the same session twice is a no-op, so outbox retries are safe.
func (db *DB) CommitSession(ctx context.Context, res models.SessionResult) error {
	sess, sets, reps := SessionRows(res)
	return db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO training_sessions (id, user_id, started_at, ended_at, lp_delta, tier)
			 VALUES ($1,$2,$3,$4,$5,$6)
			 ON CONFLICT (id) DO NOTHING`,
			sess.ID, sess.UserID, sess.StartedAt, sess.EndedAt, sess.Delta, sess.Tier)
		if err != nil {
			return fmt.Errorf("inserting session %s: %w", sess.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if err := insertSets(ctx, tx, sets); err != nil {
			return err
		}
		if err := insertReps(ctx, tx, reps); err != nil {
			return err
		}
		if res.Outcome.Computed {
			if err := upsertRankState(ctx, tx, res.UserID, res.Rank, res.EndedAt); err != nil {
				return err
			}
		}
		return upsertRecovery(ctx, tx, res.UserID, res.Recovery)
	})
}

const setCols = 15

func insertSets(ctx context.Context, ex execer, rows []models.SetRow) error {
	if len(rows) == 0 {
		return nil
	}
	args := make([]any, 0, len(rows)*setCols)
	for _, r := range rows {
		args = append(args, r.SessionID, r.UserID, r.SetNumber, r.Exercise, r.Reps,
			r.LoadKg, r.EffectiveLoadKg, r.MeanVelocity, r.FormScore, r.VelocityLossPct,
			r.AutoStopped, r.RPE, r.RIR, r.StartedAt, r.EndedAt)
	}
	query := `INSERT INTO set_records (session_id, user_id, set_number, exercise, reps,
		load_kg, effective_load_kg, mean_velocity, form_score, velocity_loss_pct,
		auto_stopped, rpe, rir, started_at, ended_at) VALUES ` + valuesClause(len(rows), setCols)
	if _, err := ex.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting set records: %w", err)
	}
	return nil
}

const repCols = 13

func insertReps(ctx context.Context, ex execer, rows []models.RepRow) error {
	if len(rows) == 0 {
		return nil
	}
	args := make([]any, 0, len(rows)*repCols)
	for _, r := range rows {
		args = append(args, r.SessionID, r.SetNumber, r.RepNumber, r.EccentricMs, r.ConcentricMs,
			r.FormScore, r.ROMDegrees, r.BarPathDeviation, r.MeanVelocity, r.PeakVelocity,
			r.VelocityLossPct, r.CompletedAt, r.MajorIssues)
	}
	query := `INSERT INTO rep_events (session_id, set_number, rep_number, eccentric_ms, concentric_ms,
		form_score, rom_degrees, bar_path_deviation, mean_velocity, peak_velocity,
		velocity_loss_pct, completed_at, major_issues) VALUES ` + valuesClause(len(rows), repCols)
	if _, err := ex.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting rep events: %w", err)
	}
	return nil
}

// QuerySessionSets returns the stored sets of one session.
func (db *DB) QuerySessionSets(ctx context.Context, userID int, sessionID uuid.UUID) ([]models.SetRow, error) {
	return db.querySets(ctx,
		`WHERE user_id = $1 AND session_id = $2 ORDER BY set_number`, userID, sessionID)
}

// QuerySets returns stored sets started in [start, end), newest first,
// optionally filtered by exercise name.
func (db *DB) QuerySets(ctx context.Context, userID int, start, end time.Time, exercise string) ([]models.SetRow, error) {
	return db.querySets(ctx,
		`WHERE user_id = $1 AND started_at >= $2 AND started_at < $3
		 AND ($4 = '' OR exercise = $4)
		 ORDER BY started_at DESC`, userID, start, end, exercise)
}

func (db *DB) querySets(ctx context.Context, where string, args ...any) ([]models.SetRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT session_id, user_id, set_number, exercise, reps, load_kg, effective_load_kg,
		 mean_velocity, form_score, velocity_loss_pct, auto_stopped, rpe, rir, started_at, ended_at
		 FROM set_records `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying set records: %w", err)
	}
	defer rows.Close()

	var result []models.SetRow
	for rows.Next() {
		var r models.SetRow
		if err := rows.Scan(&r.SessionID, &r.UserID, &r.SetNumber, &r.Exercise, &r.Reps,
			&r.LoadKg, &r.EffectiveLoadKg, &r.MeanVelocity, &r.FormScore, &r.VelocityLossPct,
			&r.AutoStopped, &r.RPE, &r.RIR, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning set record: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// RecentSessionVelocities returns the mean set velocity of the user's last n
// sessions that had calibrated sets, oldest first.
func (db *DB) RecentSessionVelocities(ctx context.Context, userID, n int) ([]float64, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT v FROM (
			SELECT s.ended_at, AVG(r.mean_velocity) AS v
			FROM training_sessions s
			JOIN set_records r ON r.session_id = s.id
			WHERE s.user_id = $1 AND r.mean_velocity IS NOT NULL
			GROUP BY s.id, s.ended_at
			ORDER BY s.ended_at DESC
			LIMIT $2
		 ) recent ORDER BY ended_at ASC`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("querying session velocities: %w", err)
	}
	defer rows.Close()

	var result []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning session velocity: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// GetRankState returns the stored rank state, or the zero state for a user
// who has never finished a ranked session.
func (db *DB) GetRankState(ctx context.Context, userID int) (models.RankState, error) {
	var (
		st     models.RankState
		tier   string
		series []byte
	)
	err := db.Pool.QueryRow(ctx,
		`SELECT points, tier, series FROM rank_states WHERE user_id = $1`, userID,
	).Scan(&st.Points, &tier, &series)
	if err == pgx.ErrNoRows {
		return models.RankState{}, nil
	}
	if err != nil {
		return models.RankState{}, fmt.Errorf("querying rank state: %w", err)
	}
	if st.Tier, err = models.ParseTier(tier); err != nil {
		return models.RankState{}, fmt.Errorf("rank state for user %d: %w", userID, err)
	}
	if err := json.Unmarshal(series, &st.Series); err != nil {
		return models.RankState{}, fmt.Errorf("decoding promotion series: %w", err)
	}
	return st, nil
}

// upsertRankState writes st unless a newer session already did.
func upsertRankState(ctx context.Context, ex execer, userID int, st models.RankState, at time.Time) error {
	series, err := json.Marshal(st.Series)
	if err != nil {
		return fmt.Errorf("encoding promotion series: %w", err)
	}
	_, err = ex.Exec(ctx,
		`INSERT INTO rank_states (user_id, points, tier, series, updated_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (user_id) DO UPDATE
			SET points = EXCLUDED.points, tier = EXCLUDED.tier,
			    series = EXCLUDED.series, updated_at = EXCLUDED.updated_at
			WHERE rank_states.updated_at <= EXCLUDED.updated_at`,
		userID, st.Points, st.Tier.String(), series, at)
	if err != nil {
		return fmt.Errorf("upserting rank state: %w", err)
	}
	return nil
}
