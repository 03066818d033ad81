// Package ranking converts completed sets into league points, tiers and a
// promotion series. All functions are deterministic; the caller owns the
// persisted RankState.
package ranking

import (
	"errors"
	"fmt"
	"math"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
)

// ErrNoBodyweight is returned when points cannot be normalized.
var ErrNoBodyweight = errors.New("bodyweight unknown")

// Config holds the scoring constants.
type Config struct {
	BasePoints        float64                  `yaml:"base_points"`
	VelocityReference float64                  `yaml:"velocity_reference"`
	VelocityWeight    float64                  `yaml:"velocity_weight"`
	VelocityModMin    float64                  `yaml:"velocity_mod_min"`
	VelocityModMax    float64                  `yaml:"velocity_mod_max"`
	TierThresholds    []int                    `yaml:"tier_thresholds"`
	WinsNeeded        int                      `yaml:"promotion_wins"`
	DefaultReference  profiles.ReferenceRatios `yaml:"default_reference"`
}

// DefaultConfig returns the standard point table.
func DefaultConfig() Config {
	return Config{
		BasePoints:        10,
		VelocityReference: 0.50,
		VelocityWeight:    0.5,
		VelocityModMin:    0.8,
		VelocityModMax:    1.2,
		TierThresholds:    []int{0, 300, 700, 1200, 1800, 2500, 3300, 4200, 5200},
		WinsNeeded:        3,
		DefaultReference:  profiles.ReferenceRatios{Male: 1.0, Female: 0.65},
	}
}

// Validate checks the thresholds are usable.
func (c Config) Validate() error {
	if len(c.TierThresholds) != models.TierCount {
		return fmt.Errorf("tier_thresholds must have %d entries, got %d", models.TierCount, len(c.TierThresholds))
	}
	if c.TierThresholds[0] != 0 {
		return fmt.Errorf("tier_thresholds must start at 0")
	}
	for i := 1; i < len(c.TierThresholds); i++ {
		if c.TierThresholds[i] <= c.TierThresholds[i-1] {
			return fmt.Errorf("tier_thresholds must be strictly increasing")
		}
	}
	if c.BasePoints <= 0 {
		return fmt.Errorf("base_points must be positive")
	}
	if c.WinsNeeded < 1 {
		return fmt.Errorf("promotion_wins must be at least 1")
	}
	if c.VelocityModMin > c.VelocityModMax {
		return fmt.Errorf("velocity_mod_min must not exceed velocity_mod_max")
	}
	if c.DefaultReference.Male <= 0 || c.DefaultReference.Female <= 0 {
		return fmt.Errorf("default_reference ratios must be positive")
	}
	return nil
}

// Engine scores sessions. It is safe for concurrent use.
type Engine struct {
	cfg  Config
	refs map[string]profiles.ReferenceRatios
}

// New builds an engine with per-exercise reference ratios taken from the
// profile store.
func New(cfg Config, store *profiles.Store) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ranking config: %w", err)
	}
	e := &Engine{cfg: cfg, refs: make(map[string]profiles.ReferenceRatios)}
	if store != nil {
		for _, name := range store.Names() {
			p, err := store.Get(name)
			if err != nil {
				return nil, err
			}
			e.refs[name] = p.Reference
		}
	}
	return e, nil
}

// ReferenceRatio is the load/bodyweight ratio that earns BasePoints per rep.
// Unknown sex uses the mean of both tables.
func (e *Engine) ReferenceRatio(exercise string, sex models.Sex) float64 {
	r := e.cfg.DefaultReference
	if pr, ok := e.refs[exercise]; ok {
		if pr.Male > 0 {
			r.Male = pr.Male
		}
		if pr.Female > 0 {
			r.Female = pr.Female
		}
	}
	switch sex {
	case models.SexMale:
		return r.Male
	case models.SexFemale:
		return r.Female
	}
	return (r.Male + r.Female) / 2
}

// VelocityModifier rewards faster concentric work, within bounds.
func (e *Engine) VelocityModifier(v models.Velocity) float64 {
	if !v.Available {
		return 1
	}
	m := 1 + e.cfg.VelocityWeight*(v.MetersPerSecond-e.cfg.VelocityReference)
	return math.Max(e.cfg.VelocityModMin, math.Min(e.cfg.VelocityModMax, m))
}

// FormModifier maps a 0-100 form score onto [0.5, 1].
func FormModifier(score float64) float64 {
	score = math.Max(0, math.Min(100, score))
	return 0.5 + 0.5*score/100
}

// SetPoints returns the unrounded points for one set.
func (e *Engine) SetPoints(s models.SetRecord, user models.UserContext) (float64, error) {
	if user.BodyweightKg <= 0 {
		return 0, ErrNoBodyweight
	}
	if s.Reps <= 0 || s.EffectiveLoadKg <= 0 {
		return 0, nil
	}
	relative := (s.EffectiveLoadKg / user.BodyweightKg) / e.ReferenceRatio(s.Exercise, user.Sex)
	return e.cfg.BasePoints * relative * float64(s.Reps) * e.VelocityModifier(s.MeanVelocity) * FormModifier(s.FormScore), nil
}

// SessionDelta sums set points and rounds to whole league points. The result
// is never negative.
func (e *Engine) SessionDelta(sets []models.SetRecord, user models.UserContext) (int, error) {
	var sum float64
	for _, s := range sets {
		p, err := e.SetPoints(s, user)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return max(0, int(math.Round(sum))), nil
}

// TierFor maps cumulative points to the tier they qualify for.
func (e *Engine) TierFor(points int) models.Tier {
	t := models.TierIron
	for i, th := range e.cfg.TierThresholds {
		if points >= th {
			t = models.Tier(i)
		}
	}
	return t
}

// Advance applies a session delta to the rank state and steps the promotion
// series. The displayed tier only moves after WinsNeeded consecutive
// sessions whose delta does not fall below the previous session's.
func (e *Engine) Advance(state models.RankState, delta int) (next models.RankState, promoted bool) {
	next = state
	next.Points += delta
	raw := e.TierFor(next.Points)

	if next.Series.Open {
		if delta >= next.Series.Baseline {
			next.Series.Wins++
		} else {
			next.Series.Wins = 0
		}
		next.Series.Baseline = delta
		if next.Series.Wins >= next.Series.WinsNeeded {
			next.Tier = next.Series.Target
			next.Series = models.PromotionSeries{}
			promoted = true
		}
		return next, promoted
	}

	if raw > next.Tier && next.Tier < models.TierChampion {
		next.Series = models.PromotionSeries{
			Open:       true,
			Target:     next.Tier + 1,
			WinsNeeded: e.cfg.WinsNeeded,
			Baseline:   delta,
		}
	}
	return next, false
}

// Apply scores a session and advances the state. When the session cannot be
// scored the returned state equals the input.
func (e *Engine) Apply(state models.RankState, sets []models.SetRecord, user models.UserContext) (models.LPOutcome, models.RankState) {
	delta, err := e.SessionDelta(sets, user)
	if err != nil {
		return models.LPOutcome{
			Computed: false,
			Reason:   err.Error(),
			Total:    state.Points,
			Tier:     state.Tier,
			RawTier:  e.TierFor(state.Points),
			Series:   state.Series,
		}, state
	}
	next, promoted := e.Advance(state, delta)
	return models.LPOutcome{
		Computed: true,
		Delta:    delta,
		Total:    next.Points,
		Tier:     next.Tier,
		RawTier:  e.TierFor(next.Points),
		Series:   next.Series,
		Promoted: promoted,
	}, next
}

// Status is a read-only rank view.
func (e *Engine) Status(state models.RankState) models.LPOutcome {
	return models.LPOutcome{
		Computed: true,
		Total:    state.Points,
		Tier:     state.Tier,
		RawTier:  e.TierFor(state.Points),
		Series:   state.Series,
	}
}

// NextThreshold returns the points needed for the tier above t, or -1 at
// the top tier.
func (e *Engine) NextThreshold(t models.Tier) int {
	if int(t)+1 >= len(e.cfg.TierThresholds) {
		return -1
	}
	return e.cfg.TierThresholds[t+1]
}
