package storage

import (
	"testing"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuesClause(t *testing.T) {
	assert.Equal(t, "($1,$2,$3)", valuesClause(1, 3))
	assert.Equal(t, "($1,$2),($3,$4),($5,$6)", valuesClause(3, 2))
}

func TestSessionRows(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.New()
	res := models.SessionResult{
		SessionID: id,
		UserID:    7,
		StartedAt: t0,
		EndedAt:   t0.Add(time.Hour),
		Outcome:   models.LPOutcome{Computed: true, Delta: 39},
		Rank:      models.RankState{Points: 339, Tier: models.TierBronze},
		Sets: []models.SetSummary{
			{
				Record: models.SetRecord{Exercise: "back_squat", Reps: 2, LoadKg: 100, EffectiveLoadKg: 100,
					MeanVelocity: models.KnownVelocity(0.5), FormScore: 90},
				Fatigue: models.FatigueStatus{VelocityLossPct: 12},
				RPE:     7.5, RIR: 2.5,
				Reps: []models.RepEvent{
					{Number: 1, EccentricDuration: 1500 * time.Millisecond, MeanConcentricVelocity: models.KnownVelocity(0.52)},
					{Number: 2, Issues: []models.FormIssue{
						{Code: "knee_valgus", Severity: models.SeverityMajor},
						{Code: "depth", Severity: models.SeverityMinor},
					}},
				},
			},
			{Record: models.SetRecord{Exercise: "bench_press", Reps: 0}},
		},
	}

	sess, sets, reps := SessionRows(res)
	require.NotNil(t, sess.Delta)
	assert.Equal(t, 39, *sess.Delta)
	assert.Equal(t, "bronze", sess.Tier)
	assert.Equal(t, 7, sess.UserID)

	require.Len(t, sets, 2)
	assert.Equal(t, 1, sets[0].SetNumber)
	assert.Equal(t, 2, sets[1].SetNumber)
	require.NotNil(t, sets[0].MeanVelocity)
	assert.Equal(t, 0.5, *sets[0].MeanVelocity)
	assert.Nil(t, sets[1].MeanVelocity)
	assert.Equal(t, 12.0, sets[0].VelocityLossPct)

	require.Len(t, reps, 2)
	assert.Equal(t, int64(1500), reps[0].EccentricMs)
	assert.NotNil(t, reps[0].MeanVelocity)
	assert.Nil(t, reps[1].MeanVelocity)
	assert.Equal(t, 1, reps[1].MajorIssues)
	assert.Equal(t, id, reps[1].SessionID)
}

func TestSessionRowsUncomputedOutcome(t *testing.T) {
	sess, sets, reps := SessionRows(models.SessionResult{Outcome: models.LPOutcome{Reason: "no bodyweight"}})
	assert.Nil(t, sess.Delta)
	assert.Empty(t, sets)
	assert.Empty(t, reps)
}
