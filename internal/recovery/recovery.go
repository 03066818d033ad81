// Package recovery maintains the per-muscle recovery heatmap and the
// composite readiness score.
//
// Each muscle recovers toward 100 along score(t) = 100 - (100 - s0)·e^(-Δt/τ)
// where s0 is the score right after the last logged volume and τ is a third
// of the muscle's recovery window, so a muscle left alone for a full window
// is back within 5% of fresh. Every function here is pure; callers persist
// the returned states.
package recovery

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"gonum.org/v1/gonum/stat"
)

// SizeClass groups muscles by how quickly they recover.
type SizeClass string

const (
	Small  SizeClass = "small"
	Medium SizeClass = "medium"
	Large  SizeClass = "large"
)

// Sizes assigns every heatmap muscle to a size class.
var Sizes = map[models.Muscle]SizeClass{
	models.MuscleBiceps:     Small,
	models.MuscleTriceps:    Small,
	models.MuscleCalves:     Small,
	models.MuscleCore:       Small,
	models.MuscleShoulders:  Medium,
	models.MuscleChest:      Medium,
	models.MuscleBack:       Large,
	models.MuscleQuads:      Large,
	models.MuscleHamstrings: Large,
	models.MuscleGlutes:     Large,
}

// Readiness weights.
const (
	weightHRV    = 0.35
	weightSleep  = 0.30
	weightRHR    = 0.15
	weightMuscle = 0.20
)

// Deload reason codes.
const (
	ReasonHRVDrop         = "hrv_drop"
	ReasonVelocityDecline = "velocity_decline"
	ReasonSleepDeficit    = "sleep_deficit"
)

// Config tunes the recovery model.
type Config struct {
	SetDecrement      float64                     `yaml:"set_decrement"`
	SleepTargetHours  float64                     `yaml:"sleep_target_hours"`
	Windows           map[SizeClass]time.Duration `yaml:"windows"`
	HRVDropPct        float64                     `yaml:"hrv_drop_pct"`
	HRVBaselineDays   int                         `yaml:"hrv_baseline_days"`
	DecliningSessions int                         `yaml:"declining_sessions"`
	SleepDeficitHours float64                     `yaml:"sleep_deficit_hours"`
	SleepNights       int                         `yaml:"sleep_nights"`
	DeloadVolume      float64                     `yaml:"deload_volume"`
	DeloadIntensity   float64                     `yaml:"deload_intensity"`
}

// DefaultConfig returns the standard recovery model.
func DefaultConfig() Config {
	return Config{
		SetDecrement:     10,
		SleepTargetHours: 8,
		Windows: map[SizeClass]time.Duration{
			Small:  48 * time.Hour,
			Medium: 60 * time.Hour,
			Large:  72 * time.Hour,
		},
		HRVDropPct:        15,
		HRVBaselineDays:   14,
		DecliningSessions: 2,
		SleepDeficitHours: 3,
		SleepNights:       3,
		DeloadVolume:      0.6,
		DeloadIntensity:   0.9,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SetDecrement < 0 {
		return fmt.Errorf("set_decrement must not be negative")
	}
	for _, s := range []SizeClass{Small, Medium, Large} {
		if c.Windows[s] <= 0 {
			return fmt.Errorf("recovery window for %s muscles must be positive", s)
		}
	}
	if c.Windows[Small] > c.Windows[Medium] || c.Windows[Medium] > c.Windows[Large] {
		return fmt.Errorf("recovery windows must grow with muscle size")
	}
	if c.DeloadVolume <= 0 || c.DeloadVolume > 1 || c.DeloadIntensity <= 0 || c.DeloadIntensity > 1 {
		return fmt.Errorf("deload modifiers must be in (0, 1]")
	}
	return nil
}

// States is the heatmap keyed by muscle. Muscles with no entry are fresh.
type States map[models.Muscle]models.MuscleRecoveryState

// Engine evaluates the recovery model.
type Engine struct {
	cfg Config
}

// New returns an engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("recovery config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Window is the time a muscle needs to recover from any deficit to within
// 5% of fresh.
func (e *Engine) Window(m models.Muscle) time.Duration {
	size, ok := Sizes[m]
	if !ok {
		size = Medium
	}
	return e.cfg.Windows[size]
}

// Tau is the exponential time constant for a muscle.
func (e *Engine) Tau(m models.Muscle) time.Duration {
	return e.Window(m) / 3
}

// ScoreAt evaluates a muscle's recovery score at now.
func (e *Engine) ScoreAt(s models.MuscleRecoveryState, now time.Time) float64 {
	if s.LastTrained.IsZero() {
		return 100
	}
	dt := now.Sub(s.LastTrained)
	if dt <= 0 {
		return s.Score
	}
	return 100 - (100-s.Score)*math.Exp(-dt.Seconds()/e.Tau(s.Muscle).Seconds())
}

// WeekStart returns Monday 00:00 UTC of t's ISO week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ApplyVolume applies volume events in time order and returns the updated
// state of every muscle they touched. The input map is not modified.
func (e *Engine) ApplyVolume(current States, events []models.VolumeEvent) States {
	sorted := make([]models.VolumeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	out := make(States)
	for _, ev := range sorted {
		if ev.Sets <= 0 {
			continue
		}
		s, ok := out[ev.Muscle]
		if !ok {
			s, ok = current[ev.Muscle]
			if !ok {
				s = models.MuscleRecoveryState{Muscle: ev.Muscle, Score: 100}
			}
		}
		at := ev.At
		if at.Before(s.LastTrained) {
			at = s.LastTrained
		}
		s.Score = math.Max(0, e.ScoreAt(s, at)-e.cfg.SetDecrement*ev.Sets)
		s.LastTrained = at

		week := WeekStart(at)
		if !week.Equal(s.WeekStart) {
			s.WeekStart = week
			s.WeeklySets = 0
		}
		s.WeeklySets += ev.Sets
		out[ev.Muscle] = s
	}
	return out
}

// Merge overlays updates onto current and returns a new map.
func Merge(current, updates States) States {
	out := make(States, len(current)+len(updates))
	for m, s := range current {
		out[m] = s
	}
	for m, s := range updates {
		out[m] = s
	}
	return out
}

// Heatmap evaluates every muscle at now, in display order. Weekly counters
// from a previous ISO week read as zero.
func (e *Engine) Heatmap(states States, now time.Time) []models.MuscleRecoveryState {
	week := WeekStart(now)
	out := make([]models.MuscleRecoveryState, 0, len(models.AllMuscles))
	for _, m := range models.AllMuscles {
		s, ok := states[m]
		if !ok {
			out = append(out, models.MuscleRecoveryState{Muscle: m, Score: 100, WeekStart: week})
			continue
		}
		s.Score = e.ScoreAt(s, now)
		if !s.WeekStart.Equal(week) {
			s.WeekStart = week
			s.WeeklySets = 0
		}
		out = append(out, s)
	}
	return out
}

// VolumeFromSets attributes each working set to the muscles of its exercise
// profile, weighted by the profile's muscle weights. Exercises without a
// profile are skipped.
func VolumeFromSets(store *profiles.Store, sets []models.SetRecord, at time.Time) []models.VolumeEvent {
	totals := make(map[models.Muscle]float64)
	for _, s := range sets {
		if s.Reps <= 0 {
			continue
		}
		p, err := store.Get(s.Exercise)
		if err != nil {
			continue
		}
		for m, w := range p.Muscles {
			totals[m] += w
		}
	}
	var events []models.VolumeEvent
	for _, m := range models.AllMuscles {
		if v := totals[m]; v > 0 {
			events = append(events, models.VolumeEvent{Muscle: m, Sets: v, At: at})
		}
	}
	return events
}

// Readiness blends the externally supplied scores with the muscle average.
// Missing inputs drop out and the remaining weights are renormalized.
func (e *Engine) Readiness(in models.RecoveryInputs, states States, now time.Time) models.Readiness {
	heat := e.Heatmap(states, now)
	scores := make([]float64, len(heat))
	for i, s := range heat {
		scores[i] = s.Score
	}
	muscleAvg := stat.Mean(scores, nil)

	sum, weights := weightMuscle*muscleAvg, weightMuscle
	for _, c := range []struct {
		r models.Reading
		w float64
	}{
		{in.HRVScore, weightHRV},
		{in.SleepScore, weightSleep},
		{in.RestingHRScore, weightRHR},
	} {
		if v, ok := c.r.Get(); ok {
			sum += c.w * math.Max(0, math.Min(100, v))
			weights += c.w
		}
	}
	return models.Readiness{
		Score:         sum / weights,
		MuscleAverage: muscleAvg,
		Deload:        e.Deload(in),
	}
}

// Deload evaluates the auto-deload triggers. Any single trigger applies the
// reduction.
func (e *Engine) Deload(in models.RecoveryInputs) models.DeloadModifier {
	mod := models.DeloadModifier{Volume: 1, Intensity: 1}

	if today, ok := in.HRVToday.Get(); ok && len(in.HRVBaseline) > 0 {
		base := in.HRVBaseline
		if n := e.cfg.HRVBaselineDays; n > 0 && len(base) > n {
			base = base[len(base)-n:]
		}
		if mean := stat.Mean(base, nil); mean > 0 && (mean-today)/mean*100 > e.cfg.HRVDropPct {
			mod.Reasons = append(mod.Reasons, ReasonHRVDrop)
		}
	}

	if e.cfg.DecliningSessions > 0 && consecutiveDeclines(in.SessionVelocities) >= e.cfg.DecliningSessions {
		mod.Reasons = append(mod.Reasons, ReasonVelocityDecline)
	}

	if nights := in.SleepHours; len(nights) > 0 && e.cfg.SleepNights > 0 {
		if len(nights) > e.cfg.SleepNights {
			nights = nights[len(nights)-e.cfg.SleepNights:]
		}
		var deficit float64
		for _, h := range nights {
			deficit += math.Max(0, e.cfg.SleepTargetHours-h)
		}
		if deficit >= e.cfg.SleepDeficitHours {
			mod.Reasons = append(mod.Reasons, ReasonSleepDeficit)
		}
	}

	if len(mod.Reasons) > 0 {
		mod.Triggered = true
		mod.Volume = e.cfg.DeloadVolume
		mod.Intensity = e.cfg.DeloadIntensity
	}
	return mod
}

// consecutiveDeclines counts strictly declining steps at the end of v.
func consecutiveDeclines(v []float64) int {
	n := 0
	for i := len(v) - 1; i > 0; i-- {
		if v[i] >= v[i-1] {
			break
		}
		n++
	}
	return n
}

// Lookback is how far back daily inputs are needed to evaluate readiness
// and the deload triggers at now.
func (e *Engine) Lookback(now time.Time) time.Time {
	days := max(e.cfg.HRVBaselineDays, e.cfg.SleepNights)
	return day(now).AddDate(0, 0, -days)
}

// Inputs assembles readiness inputs from daily records sorted oldest first.
// Scores and today's HRV come from the record for now's day; the HRV
// baseline and sleep history come from the days before it.
func (e *Engine) Inputs(days []models.DailyRecoveryInput, now time.Time) models.RecoveryInputs {
	var in models.RecoveryInputs
	today := day(now)
	measured := func(p *float64) models.Reading {
		if p == nil {
			return models.Missing()
		}
		return models.Measured(*p, 1)
	}
	for _, d := range days {
		switch dd := day(d.Day); {
		case dd.Equal(today):
			in.HRVScore = measured(d.HRVScore)
			in.SleepScore = measured(d.SleepScore)
			in.RestingHRScore = measured(d.RestingHRScore)
			in.HRVToday = measured(d.HRVMs)
			// Last night's sleep is reported on the morning it ends.
			if d.SleepHours != nil {
				in.SleepHours = append(in.SleepHours, *d.SleepHours)
			}
		case dd.Before(today):
			if d.HRVMs != nil {
				in.HRVBaseline = append(in.HRVBaseline, *d.HRVMs)
			}
			if d.SleepHours != nil {
				in.SleepHours = append(in.SleepHours, *d.SleepHours)
			}
		}
	}
	return in
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
