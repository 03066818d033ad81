package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/repforge/internal/models"
)

// GetRecoveryStates returns the stored per-muscle states. Muscles never
// trained are absent.
func (db *DB) GetRecoveryStates(ctx context.Context, userID int) ([]models.MuscleRecoveryState, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT muscle, score, last_trained, weekly_sets, week_start
		 FROM muscle_recovery WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying muscle recovery: %w", err)
	}
	defer rows.Close()

	var result []models.MuscleRecoveryState
	for rows.Next() {
		var s models.MuscleRecoveryState
		if err := rows.Scan(&s.Muscle, &s.Score, &s.LastTrained, &s.WeeklySets, &s.WeekStart); err != nil {
			return nil, fmt.Errorf("scanning muscle recovery: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// SaveRecoveryStates upserts muscle states outside a session commit, as
// done by logged-volume imports.
func (db *DB) SaveRecoveryStates(ctx context.Context, userID int, states []models.MuscleRecoveryState) error {
	return upsertRecovery(ctx, db.Pool, userID, states)
}

const recoveryCols = 6

// upsertRecovery writes each state unless the stored one was trained later.
func upsertRecovery(ctx context.Context, ex execer, userID int, states []models.MuscleRecoveryState) error {
	if len(states) == 0 {
		return nil
	}
	args := make([]any, 0, len(states)*recoveryCols)
	for _, s := range states {
		args = append(args, userID, string(s.Muscle), s.Score, s.LastTrained, s.WeeklySets, s.WeekStart)
	}
	query := `INSERT INTO muscle_recovery (user_id, muscle, score, last_trained, weekly_sets, week_start)
		VALUES ` + valuesClause(len(states), recoveryCols) + `
		ON CONFLICT (user_id, muscle) DO UPDATE
			SET score = EXCLUDED.score, last_trained = EXCLUDED.last_trained,
			    weekly_sets = EXCLUDED.weekly_sets, week_start = EXCLUDED.week_start
			WHERE muscle_recovery.last_trained <= EXCLUDED.last_trained`
	if _, err := ex.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting muscle recovery: %w", err)
	}
	return nil
}

// SaveRecoveryInput stores one day of recovery signals. Fields left nil keep
// any value already reported for that day.
func (db *DB) SaveRecoveryInput(ctx context.Context, userID int, in models.DailyRecoveryInput) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO recovery_inputs (user_id, day, hrv_score, sleep_score, resting_hr_score, hrv_ms, sleep_hours)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id, day) DO UPDATE SET
			hrv_score = COALESCE(EXCLUDED.hrv_score, recovery_inputs.hrv_score),
			sleep_score = COALESCE(EXCLUDED.sleep_score, recovery_inputs.sleep_score),
			resting_hr_score = COALESCE(EXCLUDED.resting_hr_score, recovery_inputs.resting_hr_score),
			hrv_ms = COALESCE(EXCLUDED.hrv_ms, recovery_inputs.hrv_ms),
			sleep_hours = COALESCE(EXCLUDED.sleep_hours, recovery_inputs.sleep_hours)`,
		userID, in.Day, in.HRVScore, in.SleepScore, in.RestingHRScore, in.HRVMs, in.SleepHours)
	if err != nil {
		return fmt.Errorf("saving recovery input: %w", err)
	}
	return nil
}

// QueryRecoveryInputs returns daily inputs with day in [start, end], oldest
// first.
func (db *DB) QueryRecoveryInputs(ctx context.Context, userID int, start, end time.Time) ([]models.DailyRecoveryInput, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT day, hrv_score, sleep_score, resting_hr_score, hrv_ms, sleep_hours
		 FROM recovery_inputs
		 WHERE user_id = $1 AND day >= $2::date AND day <= $3::date
		 ORDER BY day ASC`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying recovery inputs: %w", err)
	}
	defer rows.Close()

	var result []models.DailyRecoveryInput
	for rows.Next() {
		var in models.DailyRecoveryInput
		if err := rows.Scan(&in.Day, &in.HRVScore, &in.SleepScore, &in.RestingHRScore,
			&in.HRVMs, &in.SleepHours); err != nil {
			return nil, fmt.Errorf("scanning recovery input: %w", err)
		}
		result = append(result, in)
	}
	return result, rows.Err()
}
