package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionRow is a row for the training_sessions table.
type SessionRow struct {
	ID        uuid.UUID
	UserID    int
	StartedAt time.Time
	EndedAt   time.Time
	Delta     *int
	Tier      string
}

// SetRow is a row for the set_records table. Set data is stored in full so
// ranking and recovery can be re-derived without the pose stream.
type SetRow struct {
	SessionID       uuid.UUID `json:"session_id"`
	UserID          int       `json:"user_id"`
	SetNumber       int       `json:"set_number"`
	Exercise        string    `json:"exercise"`
	Reps            int       `json:"reps"`
	LoadKg          float64   `json:"load_kg"`
	EffectiveLoadKg float64   `json:"effective_load_kg"`
	MeanVelocity    *float64  `json:"mean_velocity"`
	FormScore       float64   `json:"form_score"`
	VelocityLossPct float64   `json:"velocity_loss_pct"`
	AutoStopped     bool      `json:"auto_stopped"`
	RPE             float64   `json:"rpe"`
	RIR             float64   `json:"rir"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
}

// RepRow is a row for the rep_events table.
type RepRow struct {
	SessionID        uuid.UUID
	SetNumber        int
	RepNumber        int
	EccentricMs      int64
	ConcentricMs     int64
	FormScore        float64
	ROMDegrees       float64
	BarPathDeviation float64
	MeanVelocity     *float64
	PeakVelocity     *float64
	VelocityLossPct  float64
	CompletedAt      time.Time
	MajorIssues      int
}

// SessionResult is everything produced at session end, handed to the
// persistence collaborator as one unit.
type SessionResult struct {
	SessionID uuid.UUID             `json:"session_id"`
	UserID    int                   `json:"user_id"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   time.Time             `json:"ended_at"`
	User      UserContext           `json:"user"`
	Sets      []SetSummary          `json:"sets"`
	Outcome   LPOutcome             `json:"outcome"`
	Rank      RankState             `json:"rank"`
	Recovery  []MuscleRecoveryState `json:"recovery"`
}

// VelocityPtr converts an optional velocity into a nullable column value.
func VelocityPtr(v Velocity) *float64 {
	if !v.Available {
		return nil
	}
	mps := v.MetersPerSecond
	return &mps
}
