// Package velocity differentiates bar position into concentric velocity,
// calibrates pose space to meters from the user's height, and tracks
// set-level fatigue with a sticky auto-stop flag.
package velocity

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/claude/repforge/internal/geometry"
	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/repphase"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoHeight is returned when calibration is attempted without a height.
	ErrNoHeight = errors.New("user height not supplied")
	// ErrNoReferenceSegment is returned when the neutral frame lacks the
	// calibration segment on both sides.
	ErrNoReferenceSegment = errors.New("calibration segment not visible")
)

// Config tunes the engine.
type Config struct {
	// SmoothingAlpha is the EMA weight of the newest speed sample, in (0,1].
	SmoothingAlpha float64
	// AutoStopThreshold is the velocity-loss fraction that trips auto-stop.
	AutoStopThreshold float64
	// MaxSampleGap is the longest interval differentiated across.
	MaxSampleGap time.Duration
	// SegmentHeightRatio is the shoulder-to-ankle length as a fraction of
	// standing height.
	SegmentHeightRatio float64
	MinConfidence      float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SmoothingAlpha:     0.4,
		AutoStopThreshold:  0.20,
		MaxSampleGap:       250 * time.Millisecond,
		SegmentHeightRatio: 0.78,
		MinConfidence:      models.DefaultMinConfidence,
	}
}

var calibrationSegments = [][2]models.JointID{
	{models.JointLeftShoulder, models.JointLeftAnkle},
	{models.JointRightShoulder, models.JointRightAnkle},
}

// RepVelocity is the velocity result for one completed rep.
type RepVelocity struct {
	Mean models.Velocity
	Peak models.Velocity
	// RelativeMean is the mean concentric speed in pose units per second;
	// it is defined even without calibration.
	RelativeMean float64
	Samples      int
	Fatigue      models.FatigueStatus
}

// Engine is owned by a single session pipeline.
type Engine struct {
	cfg       Config
	barJoints []models.JointID

	scale      float64
	calibrated bool

	prev     models.Point
	prevAt   time.Time
	havePrev bool
	smoothed float64
	haveEMA  bool

	samples []float64

	best    float64
	fatigue models.FatigueStatus
}

// New returns an uncalibrated engine tracking the midpoint of barJoints.
func New(cfg Config, barJoints []models.JointID) *Engine {
	return &Engine{cfg: cfg, barJoints: barJoints}
}

// Calibrate derives meters per pose unit from the user's height and the
// shoulder-to-ankle segment in a neutral frame. On error the engine stays
// uncalibrated.
func (e *Engine) Calibrate(heightM float64, neutral models.PoseFrame) error {
	if heightM <= 0 {
		return ErrNoHeight
	}
	for _, seg := range calibrationSegments {
		r := geometry.SegmentLength(neutral.Joint(seg[0], e.cfg.MinConfidence), neutral.Joint(seg[1], e.cfg.MinConfidence))
		if l, ok := r.Get(); ok && l > 0 {
			e.scale = heightM * e.cfg.SegmentHeightRatio / l
			e.calibrated = true
			return nil
		}
	}
	return fmt.Errorf("calibrating: %w", ErrNoReferenceSegment)
}

// Calibrated reports whether absolute velocities are available.
func (e *Engine) Calibrated() bool { return e.calibrated }

// Scale returns meters per pose unit, 0 when uncalibrated.
func (e *Engine) Scale() float64 {
	if !e.calibrated {
		return 0
	}
	return e.scale
}

// Observe differentiates the bar position against the previous frame and
// accumulates the smoothed speed while the movement is concentric. It
// returns the current smoothed velocity.
func (e *Engine) Observe(f models.PoseFrame, phase repphase.Phase) models.Velocity {
	p, ok := geometry.Center(f, e.cfg.MinConfidence, e.barJoints...).Get()
	if !ok {
		return e.current()
	}
	if !e.havePrev {
		e.prev, e.prevAt, e.havePrev = p, f.Timestamp, true
		return e.current()
	}
	dt := f.Timestamp.Sub(e.prevAt)
	if dt <= 0 {
		return e.current()
	}
	if dt > e.cfg.MaxSampleGap {
		e.prev, e.prevAt = p, f.Timestamp
		e.haveEMA = false
		return e.current()
	}

	speed := math.Hypot(p.X-e.prev.X, p.Y-e.prev.Y) / dt.Seconds()
	e.prev, e.prevAt = p, f.Timestamp
	if e.haveEMA {
		e.smoothed = e.cfg.SmoothingAlpha*speed + (1-e.cfg.SmoothingAlpha)*e.smoothed
	} else {
		e.smoothed, e.haveEMA = speed, true
	}
	if phase == repphase.Ascending {
		e.samples = append(e.samples, e.smoothed)
	}
	return e.current()
}

func (e *Engine) current() models.Velocity {
	if !e.haveEMA {
		return models.Velocity{}
	}
	return e.toVelocity(e.smoothed)
}

func (e *Engine) toVelocity(unitsPerSec float64) models.Velocity {
	if !e.calibrated {
		return models.Velocity{}
	}
	return models.KnownVelocity(unitsPerSec * e.scale)
}

// CompleteRep closes the current rep, returning its velocity and the
// updated fatigue status. Velocity loss is computed on relative speed so it
// works without calibration.
func (e *Engine) CompleteRep() RepVelocity {
	defer func() { e.samples = e.samples[:0] }()

	e.fatigue.Reps++
	if len(e.samples) == 0 {
		return RepVelocity{Fatigue: e.fatigue}
	}

	mean := stat.Mean(e.samples, nil)
	peak := floats.Max(e.samples)
	if mean > e.best {
		e.best = mean
	}
	if e.best > 0 {
		loss := 1 - mean/e.best
		e.fatigue.VelocityLossPct = loss * 100
		if loss > e.cfg.AutoStopThreshold {
			e.fatigue.AutoStop = true
		}
	}
	e.fatigue.BestMeanVelocity = e.toVelocity(e.best)

	return RepVelocity{
		Mean:         e.toVelocity(mean),
		Peak:         e.toVelocity(peak),
		RelativeMean: mean,
		Samples:      len(e.samples),
		Fatigue:      e.fatigue,
	}
}

// Fatigue returns the current set fatigue status.
func (e *Engine) Fatigue() models.FatigueStatus { return e.fatigue }

// DiscardRep drops concentric samples of an unfinished rep.
func (e *Engine) DiscardRep() {
	e.samples = e.samples[:0]
}

// ResetSet clears fatigue tracking for a new set. Calibration is kept.
func (e *Engine) ResetSet() {
	e.DiscardRep()
	e.best = 0
	e.fatigue = models.FatigueStatus{}
	e.havePrev = false
	e.haveEMA = false
}
