// Package pipeline routes pose frames through the rep phase machine, the
// velocity engine and the form analyzer for one active session.
//
// Processing is synchronous: Process handles one frame completely before
// returning, and everything that happened is returned in the Tick. The same
// events are also offered on per-type output channels for live consumers.
// Channel sends never block; when a consumer falls behind the event is
// dropped and counted, and the SetSummary remains the authoritative record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/repforge/internal/form"
	"github.com/claude/repforge/internal/geometry"
	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/repphase"
	"github.com/claude/repforge/internal/rpe"
	"github.com/claude/repforge/internal/velocity"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoExercise is returned when a set operation needs an exercise.
	ErrNoExercise = errors.New("no exercise selected")
	// ErrSetInProgress is returned when switching exercise mid-set.
	ErrSetInProgress = errors.New("set in progress")
	// ErrSessionEnded is returned after End.
	ErrSessionEnded = errors.New("session ended")
)

// Config tunes per-session processing.
type Config struct {
	MinConfidence    float64
	MovementEpsilon  float64
	IdleTimeout      time.Duration
	MaxMissingFrames int
	// Hysteresis overrides the profile's band when positive.
	Hysteresis float64
	Velocity   velocity.Config
	// Buffer is the capacity of each output channel.
	Buffer int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:    models.DefaultMinConfidence,
		MovementEpsilon:  2,
		IdleTimeout:      10 * time.Second,
		MaxMissingFrames: 15,
		Velocity:         velocity.DefaultConfig(),
		Buffer:           64,
	}
}

// NoticeKind classifies a pipeline notice.
type NoticeKind string

const (
	NoticeTrackingLost      NoticeKind = "tracking_lost"
	NoticeTimedOut          NoticeKind = "timed_out"
	NoticeDescentAborted    NoticeKind = "descent_aborted"
	NoticeAutoStop          NoticeKind = "auto_stop"
	NoticeCalibrated        NoticeKind = "calibrated"
	NoticeCalibrationFailed NoticeKind = "calibration_failed"
)

// Notice reports a non-error condition worth surfacing to the user.
type Notice struct {
	Kind   NoticeKind `json:"kind"`
	At     time.Time  `json:"at"`
	Detail string     `json:"detail,omitempty"`
}

// Tick is everything that happened while processing one frame.
type Tick struct {
	Accepted   bool                 `json:"accepted"`
	Phase      repphase.Phase       `json:"-"`
	PhaseName  string               `json:"phase"`
	Transition repphase.Transition  `json:"-"`
	Velocity   models.Velocity      `json:"velocity"`
	Rep        *models.RepEvent     `json:"rep,omitempty"`
	Issues     []models.FormIssue   `json:"issues,omitempty"`
	Fatigue    models.FatigueStatus `json:"fatigue"`
	Notices    []Notice             `json:"notices,omitempty"`
}

// Drops counts events not delivered on the output channels.
type Drops struct {
	RepEvents uint64 `json:"rep_events"`
	Fatigue   uint64 `json:"fatigue"`
	Issues    uint64 `json:"issues"`
	Notices   uint64 `json:"notices"`
}

// Session owns all mutable state of one training session. Methods are safe
// for concurrent use; frames are processed one at a time.
type Session struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	ended       bool
	user        models.UserContext
	profile     profiles.Profile
	haveProfile bool
	machine     *repphase.Machine
	vel         *velocity.Engine
	form        *form.Analyzer

	calibFrame   models.PoseFrame
	haveCalib    bool
	calibWarned  bool
	lastAt       time.Time
	setStart     time.Time
	reps         []models.RepEvent
	stopNotified bool
	sets         []models.SetSummary

	repCh     chan models.RepEvent
	fatigueCh chan models.FatigueStatus
	issueCh   chan models.FormIssue
	noticeCh  chan Notice

	repDrops, fatigueDrops, issueDrops, noticeDrops atomic.Uint64
}

// NewSession returns a session waiting for an exercise selection.
func NewSession(cfg Config, user models.UserContext, log *slog.Logger) *Session {
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Velocity.MinConfidence == 0 {
		cfg.Velocity.MinConfidence = cfg.MinConfidence
	}
	return &Session{
		cfg:       cfg,
		log:       log,
		user:      user,
		repCh:     make(chan models.RepEvent, cfg.Buffer),
		fatigueCh: make(chan models.FatigueStatus, cfg.Buffer),
		issueCh:   make(chan models.FormIssue, cfg.Buffer),
		noticeCh:  make(chan Notice, cfg.Buffer),
	}
}

// RepEvents delivers one event per completed rep.
func (s *Session) RepEvents() <-chan models.RepEvent { return s.repCh }

// FatigueUpdates delivers the fatigue status after every rep.
func (s *Session) FatigueUpdates() <-chan models.FatigueStatus { return s.fatigueCh }

// Issues delivers form issues in the tick they are detected.
func (s *Session) Issues() <-chan models.FormIssue { return s.issueCh }

// Notices delivers tracking and calibration notices.
func (s *Session) Notices() <-chan Notice { return s.noticeCh }

// Drops returns the undelivered event counts.
func (s *Session) Drops() Drops {
	return Drops{
		RepEvents: s.repDrops.Load(),
		Fatigue:   s.fatigueDrops.Load(),
		Issues:    s.issueDrops.Load(),
		Notices:   s.noticeDrops.Load(),
	}
}

func offer[T any](ch chan T, v T, drops *atomic.Uint64) {
	select {
	case ch <- v:
	default:
		drops.Add(1)
	}
}

// SetUser replaces the user context. A new height drops the calibration,
// which is redone at the next neutral frame; that is refused mid-set.
func (s *Session) SetUser(u models.UserContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.HeightM != s.user.HeightM {
		if len(s.reps) > 0 {
			return fmt.Errorf("changing height: %w", ErrSetInProgress)
		}
		s.haveCalib = false
		s.calibWarned = false
		if s.haveProfile {
			s.vel = velocity.New(s.cfg.Velocity, s.profile.BarJoints)
		}
	}
	s.user = u
	return nil
}

// User returns the current user context.
func (s *Session) User() models.UserContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SelectExercise activates a profile. It fails while reps of another set
// are pending.
func (s *Session) SelectExercise(p profiles.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	if len(s.reps) > 0 {
		return fmt.Errorf("selecting %s: %w", p.Name, ErrSetInProgress)
	}
	h := p.Hysteresis
	if s.cfg.Hysteresis > 0 {
		h = s.cfg.Hysteresis
	}
	s.profile = p
	s.haveProfile = true
	s.machine = repphase.NewMachine(repphase.Thresholds{
		Top:              p.TopAngle,
		Bottom:           p.BottomAngle,
		Hysteresis:       h,
		MovementEpsilon:  s.cfg.MovementEpsilon,
		IdleTimeout:      s.cfg.IdleTimeout,
		MaxMissingFrames: s.cfg.MaxMissingFrames,
		StartsAtBottom:   p.StartsAtBottom,
	})
	s.vel = velocity.New(s.cfg.Velocity, p.BarJoints)
	if s.haveCalib {
		if err := s.vel.Calibrate(s.user.HeightM, s.calibFrame); err != nil {
			s.haveCalib = false
		}
	}
	s.form = form.NewAnalyzer(p, s.cfg.MinConfidence)
	s.setStart = time.Time{}
	s.stopNotified = false
	s.log.Debug("exercise selected", "exercise", p.Name)
	return nil
}

// Exercise returns the active exercise name, or "".
func (s *Session) Exercise() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveProfile {
		return ""
	}
	return s.profile.Name
}

// Process handles one frame. Frames before an exercise is selected, after
// End, or not newer than the previous frame are ignored.
func (s *Session) Process(f models.PoseFrame) Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || !s.haveProfile {
		return Tick{PhaseName: repphase.Idle.String()}
	}
	if !s.lastAt.IsZero() && !f.Timestamp.After(s.lastAt) {
		return Tick{Phase: s.machine.Phase(), PhaseName: s.machine.Phase().String(), Fatigue: s.vel.Fatigue()}
	}
	s.lastAt = f.Timestamp
	if s.setStart.IsZero() {
		s.setStart = f.Timestamp
	}

	tick := Tick{Accepted: true}
	next := s.machine.Reps() + 1
	angle := geometry.FirstAngle(f, s.cfg.MinConfidence, s.profile.Tracked...)
	tr, cycle, done := s.machine.Feed(repphase.Input{At: f.Timestamp, Angle: angle})
	tick.Transition = tr
	tick.Phase = tr.To
	tick.PhaseName = tr.To.String()

	if n, ok := s.calibrate(f, tr.To); ok {
		tick.Notices = append(tick.Notices, n)
	}

	switch tr.Event {
	case repphase.EventTrackingLost:
		s.vel.DiscardRep()
		tick.Notices = append(tick.Notices, Notice{Kind: NoticeTrackingLost, At: f.Timestamp})
		s.log.Warn("tracking lost, rep discarded", "exercise", s.profile.Name)
	case repphase.EventTimedOut:
		s.vel.DiscardRep()
		tick.Notices = append(tick.Notices, Notice{Kind: NoticeTimedOut, At: f.Timestamp})
	case repphase.EventAborted:
		s.vel.DiscardRep()
		tick.Notices = append(tick.Notices, Notice{Kind: NoticeDescentAborted, At: f.Timestamp})
	}

	// The frame that reaches the top still carries concentric motion.
	moving := tr.To
	if tr.Event == repphase.EventRepCompleted {
		moving = tr.From
	}
	tick.Velocity = s.vel.Observe(f, moving)
	tick.Issues = s.form.Observe(f, tr, next)
	for _, is := range tick.Issues {
		offer(s.issueCh, is, &s.issueDrops)
	}

	if done {
		ev := s.completeRep(cycle, f.Timestamp)
		tick.Rep = &ev
		s.log.Debug("rep completed", "exercise", ev.Exercise, "rep", ev.Number, "loss_pct", ev.VelocityLossPct)
		if s.vel.Fatigue().AutoStop && !s.stopNotified {
			s.stopNotified = true
			n := Notice{Kind: NoticeAutoStop, At: f.Timestamp, Detail: fmt.Sprintf("velocity loss %.1f%%", ev.VelocityLossPct)}
			tick.Notices = append(tick.Notices, n)
			s.log.Info("auto-stop tripped", "exercise", ev.Exercise, "rep", ev.Number)
		}
	}

	tick.Fatigue = s.vel.Fatigue()
	for _, n := range tick.Notices {
		offer(s.noticeCh, n, &s.noticeDrops)
	}
	return tick
}

// calibrate attempts calibration on a neutral frame once a height is known.
func (s *Session) calibrate(f models.PoseFrame, phase repphase.Phase) (Notice, bool) {
	if s.haveCalib || s.user.HeightM <= 0 || (phase != repphase.Idle && phase != repphase.TopHold) {
		return Notice{}, false
	}
	if err := s.vel.Calibrate(s.user.HeightM, f); err != nil {
		if s.calibWarned {
			return Notice{}, false
		}
		s.calibWarned = true
		return Notice{Kind: NoticeCalibrationFailed, At: f.Timestamp, Detail: err.Error()}, true
	}
	s.haveCalib = true
	s.calibFrame = f
	return Notice{Kind: NoticeCalibrated, At: f.Timestamp, Detail: fmt.Sprintf("%.4f m/unit", s.vel.Scale())}, true
}

func (s *Session) completeRep(c repphase.Cycle, at time.Time) models.RepEvent {
	rv := s.vel.CompleteRep()
	rf := s.form.CompleteRep(c)
	ev := models.RepEvent{
		Number:                 c.Number,
		Exercise:               s.profile.Name,
		EccentricDuration:      c.Eccentric(),
		ConcentricDuration:     c.Concentric(),
		FormScore:              rf.Score,
		ROMDegrees:             rf.ROMDegrees,
		BarPathDeviation:       rf.BarPathDeviation,
		MeanConcentricVelocity: rv.Mean,
		PeakConcentricVelocity: rv.Peak,
		VelocityLossPct:        rv.Fatigue.VelocityLossPct,
		CompletedAt:            at,
		Issues:                 rf.Issues,
	}
	s.reps = append(s.reps, ev)
	offer(s.repCh, ev, &s.repDrops)
	offer(s.fatigueCh, rv.Fatigue, &s.fatigueDrops)
	return ev
}

// Fatigue returns the fatigue status of the active set.
func (s *Session) Fatigue() models.FatigueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vel == nil {
		return models.FatigueStatus{}
	}
	return s.vel.Fatigue()
}

// PendingReps returns the completed reps of the active set.
func (s *Session) PendingReps() []models.RepEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RepEvent, len(s.reps))
	copy(out, s.reps)
	return out
}

// Abort discards the in-flight rep. Completed reps are kept.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveProfile {
		return
	}
	s.machine.Abort()
	s.vel.DiscardRep()
	s.form.Discard()
}

// EndSet closes the active set at the given external load and returns its
// summary. The in-flight rep, if any, is discarded.
func (s *Session) EndSet(loadKg float64) (models.SetSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return models.SetSummary{}, ErrSessionEnded
	}
	if !s.haveProfile {
		return models.SetSummary{}, ErrNoExercise
	}

	sum := summarize(s.profile, s.reps, s.vel.Fatigue(), loadKg)
	sum.StartedAt = s.setStart
	sum.EndedAt = s.lastAt
	s.sets = append(s.sets, sum)

	s.machine.ResetSet()
	s.vel.ResetSet()
	s.form.Discard()
	s.reps = nil
	s.setStart = time.Time{}
	s.stopNotified = false

	s.log.Info("set ended", "exercise", s.profile.Name, "reps", sum.Record.Reps, "rpe", sum.RPE)
	return sum, nil
}

func summarize(p profiles.Profile, reps []models.RepEvent, fat models.FatigueStatus, loadKg float64) models.SetSummary {
	rec := models.SetRecord{
		Exercise:        p.Name,
		Reps:            len(reps),
		LoadKg:          loadKg,
		EffectiveLoadKg: velocity.EffectiveLoad(loadKg, p.Resistance),
	}
	sum := models.SetSummary{Reps: reps, Fatigue: fat}

	var velocities, scores []float64
	for _, r := range reps {
		scores = append(scores, r.FormScore)
		if r.MeanConcentricVelocity.Available {
			velocities = append(velocities, r.MeanConcentricVelocity.MetersPerSecond)
		}
		for _, is := range r.Issues {
			switch is.Severity {
			case models.SeverityMajor:
				sum.MajorIssues++
			case models.SeverityMinor:
				sum.MinorIssues++
			}
		}
	}
	if len(scores) > 0 {
		rec.FormScore = stat.Mean(scores, nil)
	}
	if len(velocities) > 0 {
		rec.MeanVelocity = models.KnownVelocity(stat.Mean(velocities, nil))
	}
	if len(reps) > 0 {
		est := rpe.FromVelocityLoss(fat.VelocityLossPct, p.Name)
		sum.RPE, sum.RIR = est.RPE, est.RIR
	}
	sum.Record = rec
	return sum
}

// Sets returns the summaries of all ended sets.
func (s *Session) Sets() []models.SetSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copySets()
}

func (s *Session) copySets() []models.SetSummary {
	out := make([]models.SetSummary, len(s.sets))
	copy(out, s.sets)
	return out
}

// End closes the session and its output channels and returns all set
// summaries. Reps of an unfinished set are discarded.
func (s *Session) End() []models.SetSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.copySets()
	}
	s.ended = true
	if len(s.reps) > 0 {
		s.log.Warn("session ended with unfinished set", "exercise", s.profile.Name, "reps", len(s.reps))
	}
	close(s.repCh)
	close(s.fatigueCh)
	close(s.issueCh)
	close(s.noticeCh)
	return s.copySets()
}

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (models.PoseFrame, error)
}

// Run processes frames from src until it is exhausted or ctx is done.
// Frame-level problems never stop the loop.
func (s *Session) Run(ctx context.Context, src FrameSource) error {
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		s.Process(f)
	}
}
