package mcp

import (
	"context"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/rpe"
	"github.com/claude/repforge/internal/training"
	"github.com/google/uuid"
)

// DataSource abstracts the data layer for MCP tools. Both Local (in-process
// service) and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	RankStatus(ctx context.Context, userID int) (training.RankStatus, error)
	Recovery(ctx context.Context, userID int, at time.Time) (training.RecoveryView, error)
	SessionSets(ctx context.Context, userID int, sessionID uuid.UUID) ([]models.SetRow, error)
	RecentSets(ctx context.Context, userID int, start, end time.Time, exercise string) ([]models.SetRow, error)
	ListExercises(ctx context.Context) ([]profiles.Profile, error)
	RPE(ctx context.Context, lossPct float64, exercise string) (rpe.Estimate, error)
}

// Local serves MCP tools from the in-process training service.
type Local struct {
	*training.Service
}

// Compile-time check: Local satisfies DataSource.
var _ DataSource = Local{}

// ListExercises returns the loaded exercise profiles.
func (l Local) ListExercises(context.Context) ([]profiles.Profile, error) {
	return l.Exercises(), nil
}

// RPE maps a velocity loss to effort.
func (l Local) RPE(_ context.Context, lossPct float64, exercise string) (rpe.Estimate, error) {
	return l.EstimateRPE(lossPct, exercise), nil
}
