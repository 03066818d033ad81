package alpha

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/claude/repforge/internal/ingest"
	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
)

// VolumeSink applies imported training volume to a user's recovery state.
type VolumeSink interface {
	ImportVolume(ctx context.Context, userID int, events []models.VolumeEvent) ([]models.MuscleRecoveryState, error)
}

// Provider turns Alpha Progression CSV exports into recovery volume.
type Provider struct {
	sink     VolumeSink
	profiles *profiles.Store
	log      *slog.Logger
}

// NewProvider creates an Alpha Progression import provider.
func NewProvider(sink VolumeSink, store *profiles.Store, log *slog.Logger) *Provider {
	return &Provider{sink: sink, profiles: store, log: log}
}

// Ingest parses an export and feeds the working sets of every recognised
// exercise to the recovery model, dated at the session start.
func (p *Provider) Ingest(ctx context.Context, r io.Reader, userID int) (*ingest.Result, error) {
	sessions, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}

	result := &ingest.Result{SessionsReceived: len(sessions)}
	events := Volume(p.profiles, sessions, result)
	if len(events) == 0 {
		result.Message = "no recognised working sets"
		return result, nil
	}

	updated, err := p.sink.ImportVolume(ctx, userID, events)
	if err != nil {
		return nil, fmt.Errorf("applying volume: %w", err)
	}
	result.MusclesUpdated = len(updated)
	p.log.Info("alpha import applied",
		"user_id", userID, "sessions", len(sessions), "events", len(events),
		"unmatched", len(result.Unmatched))
	return result, nil
}

// Volume converts logged sessions into volume events, recording counts and
// unrecognised exercise names in result.
func Volume(store *profiles.Store, sessions []models.LoggedSession, result *ingest.Result) []models.VolumeEvent {
	var events []models.VolumeEvent
	for _, s := range sessions {
		for _, ex := range s.Exercises {
			n := ex.WorkingSets()
			result.SetsReceived += n
			if n == 0 {
				continue
			}
			muscles, ok := MusclesFor(store, ex.Name)
			if !ok {
				if !slices.Contains(result.Unmatched, ex.Name) {
					result.Unmatched = append(result.Unmatched, ex.Name)
				}
				continue
			}
			result.ExercisesMatched++
			for _, m := range models.AllMuscles {
				if w := muscles[m]; w > 0 {
					events = append(events, models.VolumeEvent{Muscle: m, Sets: w * float64(n), At: s.Date})
				}
			}
		}
	}
	result.VolumeEvents = len(events)
	return events
}
