package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backSquat(t *testing.T) profiles.Profile {
	t.Helper()
	s, err := profiles.NewStore()
	require.NoError(t, err)
	p, err := s.Get("back_squat")
	require.NoError(t, err)
	return p
}

// squatFrame poses the left leg with the given knee angle. The shin is
// vertical and the shoulders sit directly above the ankle so the bar moves
// only vertically.
func squatFrame(at time.Time, kneeDeg float64) models.PoseFrame {
	ankle := models.Point{X: 0.5, Y: 0.9}
	knee := models.Point{X: 0.5, Y: 0.7}
	rad := kneeDeg * math.Pi / 180
	hip := models.Point{X: knee.X + 0.2*math.Sin(rad), Y: knee.Y + 0.2*math.Cos(rad)}
	shoulder := models.Point{X: 0.5, Y: hip.Y - 0.3}
	p := func(pt models.Point) models.Sample { return models.Present(pt, 0.9) }
	return models.PoseFrame{Timestamp: at, Joints: map[models.JointID]models.Sample{
		models.JointLeftAnkle:     p(ankle),
		models.JointLeftKnee:      p(knee),
		models.JointLeftHip:       p(hip),
		models.JointLeftShoulder:  p(shoulder),
		models.JointRightShoulder: p(shoulder),
	}}
}

// clip builds a 30 fps frame sequence.
type clip struct {
	n      int
	frames []models.PoseFrame
}

func (c *clip) at() time.Time { return t0.Add(time.Duration(c.n) * time.Second / 30) }

func (c *clip) add(kneeDeg float64) {
	c.frames = append(c.frames, squatFrame(c.at(), kneeDeg))
	c.n++
}

func (c *clip) missing(n int) {
	for range n {
		c.frames = append(c.frames, models.PoseFrame{Timestamp: c.at()})
		c.n++
	}
}

// cycle appends one rep from the top (175°) through the bottom (85°) and
// back, taking period.
func (c *clip) cycle(period time.Duration) {
	per := int(period.Seconds() * 30)
	for k := 0; k < per; k++ {
		c.add(130 + 45*math.Cos(2*math.Pi*float64(k)/float64(per)))
	}
}

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s := NewSession(cfg, models.UserContext{HeightM: 1.8, BodyweightKg: 80, Sex: models.SexMale}, discardLogger())
	require.NoError(t, s.SelectExercise(backSquat(t)))
	return s
}

func feed(s *Session, frames []models.PoseFrame) []Tick {
	ticks := make([]Tick, 0, len(frames))
	for _, f := range frames {
		ticks = append(ticks, s.Process(f))
	}
	return ticks
}

func TestRepsAndSetSummary(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var c clip
	for range 5 {
		c.cycle(2 * time.Second)
	}
	c.add(175)

	var reps []models.RepEvent
	calibrated := false
	for _, tk := range feed(s, c.frames) {
		require.True(t, tk.Accepted)
		if tk.Rep != nil {
			reps = append(reps, *tk.Rep)
		}
		for _, n := range tk.Notices {
			if n.Kind == NoticeCalibrated {
				calibrated = true
			}
		}
	}
	require.True(t, calibrated, "first neutral frame should calibrate")
	require.Len(t, reps, 5)
	for i, r := range reps {
		assert.Equal(t, i+1, r.Number)
		assert.Equal(t, "back_squat", r.Exercise)
		assert.True(t, r.MeanConcentricVelocity.Available)
		assert.Greater(t, r.PeakConcentricVelocity.MetersPerSecond, r.MeanConcentricVelocity.MetersPerSecond)
		assert.InDelta(t, 90, r.ROMDegrees, 2)
		assert.Greater(t, r.FormScore, 50.0)
	}
	assert.Len(t, s.RepEvents(), 5)
	assert.False(t, s.Fatigue().AutoStop)

	sum, err := s.EndSet(100)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Record.Reps)
	assert.Equal(t, 100.0, sum.Record.EffectiveLoadKg)
	assert.True(t, sum.Record.MeanVelocity.Available)
	assert.Equal(t, 10-sum.RPE, sum.RIR)
	assert.GreaterOrEqual(t, sum.RPE, 5.0)
	assert.Equal(t, c.frames[0].Timestamp, sum.StartedAt)
	assert.Equal(t, c.frames[len(c.frames)-1].Timestamp, sum.EndedAt)

	assert.Equal(t, 0, s.Fatigue().Reps, "EndSet resets fatigue")
	assert.Empty(t, s.PendingReps())
	assert.Len(t, s.Sets(), 1)
}

// TestAutoStopNotifiedOnce verifies a slow rep trips auto-stop and a later
// fast rep neither clears it nor notifies again.
func TestAutoStopNotifiedOnce(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var c clip
	c.cycle(2 * time.Second)
	c.cycle(2 * time.Second)
	c.cycle(3 * time.Second)
	c.cycle(2 * time.Second)
	c.add(175)

	notices := 0
	var last Tick
	for _, tk := range feed(s, c.frames) {
		for _, n := range tk.Notices {
			if n.Kind == NoticeAutoStop {
				notices++
			}
		}
		if tk.Rep != nil {
			last = tk
		}
	}
	assert.Equal(t, 1, notices)
	assert.Equal(t, 4, last.Rep.Number)
	assert.True(t, last.Fatigue.AutoStop)
	assert.True(t, s.Fatigue().AutoStop)
}

func TestTrackingLostDiscardsRep(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var c clip
	for k := 0; k < 20; k++ {
		c.add(130 + 45*math.Cos(2*math.Pi*float64(k)/60))
	}
	c.missing(DefaultConfig().MaxMissingFrames + 1)
	c.cycle(2 * time.Second)
	c.add(175)

	lost := 0
	var reps []models.RepEvent
	for _, tk := range feed(s, c.frames) {
		for _, n := range tk.Notices {
			if n.Kind == NoticeTrackingLost {
				lost++
			}
		}
		if tk.Rep != nil {
			reps = append(reps, *tk.Rep)
		}
	}
	assert.Equal(t, 1, lost)
	require.Len(t, reps, 1)
	assert.Equal(t, 1, reps[0].Number)
}

func TestAbortDiscardsInFlightRep(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var c clip
	c.cycle(2 * time.Second)
	for k := 0; k < 30; k++ {
		c.add(130 + 45*math.Cos(2*math.Pi*float64(k)/60))
	}
	feed(s, c.frames)
	require.Len(t, s.PendingReps(), 1)

	s.Abort()
	sum, err := s.EndSet(60)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Record.Reps)
	assert.Len(t, sum.Reps, 1)
}

func TestFramesIgnoredWithoutExercise(t *testing.T) {
	s := NewSession(DefaultConfig(), models.UserContext{}, discardLogger())
	tk := s.Process(squatFrame(t0, 175))
	assert.False(t, tk.Accepted)
	_, err := s.EndSet(100)
	assert.ErrorIs(t, err, ErrNoExercise)
}

func TestStaleFramesIgnored(t *testing.T) {
	s := newSession(t, DefaultConfig())
	assert.True(t, s.Process(squatFrame(t0.Add(time.Second), 175)).Accepted)
	assert.False(t, s.Process(squatFrame(t0, 175)).Accepted)
	assert.False(t, s.Process(squatFrame(t0.Add(time.Second), 175)).Accepted)
}

func TestUncalibratedWithoutHeight(t *testing.T) {
	s := NewSession(DefaultConfig(), models.UserContext{BodyweightKg: 80}, discardLogger())
	require.NoError(t, s.SelectExercise(backSquat(t)))
	var c clip
	c.cycle(2 * time.Second)
	c.add(175)
	var rep *models.RepEvent
	for _, tk := range feed(s, c.frames) {
		if tk.Rep != nil {
			rep = tk.Rep
		}
	}
	require.NotNil(t, rep)
	assert.False(t, rep.MeanConcentricVelocity.Available)
	sum, err := s.EndSet(100)
	require.NoError(t, err)
	assert.False(t, sum.Record.MeanVelocity.Available)
}

func TestSelectExerciseMidSet(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var c clip
	c.cycle(2 * time.Second)
	c.add(175)
	feed(s, c.frames)
	assert.ErrorIs(t, s.SelectExercise(backSquat(t)), ErrSetInProgress)
	assert.ErrorIs(t, s.SetUser(models.UserContext{HeightM: 1.6}), ErrSetInProgress)
	_, err := s.EndSet(100)
	require.NoError(t, err)
	assert.NoError(t, s.SelectExercise(backSquat(t)))
}

func TestChannelDropsCounted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer = 1
	s := newSession(t, cfg)
	var c clip
	for range 3 {
		c.cycle(2 * time.Second)
	}
	c.add(175)
	feed(s, c.frames)

	d := s.Drops()
	assert.Equal(t, uint64(2), d.RepEvents)
	assert.Equal(t, uint64(2), d.Fatigue)
	assert.Len(t, s.PendingReps(), 3, "the set keeps every rep regardless of drops")
}

func TestEndClosesChannels(t *testing.T) {
	s := newSession(t, DefaultConfig())
	s.End()
	_, ok := <-s.RepEvents()
	assert.False(t, ok)
	_, ok = <-s.Notices()
	assert.False(t, ok)
	assert.False(t, s.Process(squatFrame(t0, 175)).Accepted)
	_, err := s.EndSet(1)
	assert.ErrorIs(t, err, ErrSessionEnded)
	s.End() // idempotent
}

func TestRunJSONSource(t *testing.T) {
	var c clip
	for range 3 {
		c.cycle(2 * time.Second)
	}
	c.add(175)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, f := range c.frames {
		rec := models.FrameRecord{Timestamp: f.Timestamp, Joints: map[models.JointID]models.Observation{}}
		for id, smp := range f.Joints {
			p, _ := smp.Get()
			rec.Joints[id] = models.Observation{X: p.X, Y: p.Y, Confidence: smp.Confidence()}
		}
		require.NoError(t, enc.Encode(rec))
		if i == 30 {
			buf.WriteString("{\"ts\": not-json}\n\n")
		}
	}

	s := newSession(t, DefaultConfig())
	src := NewJSONSource(&buf, models.DefaultMinConfidence)
	require.NoError(t, s.Run(context.Background(), src))
	assert.Len(t, s.PendingReps(), 3)

	n, err := src.Skipped()
	assert.Equal(t, 1, n)
	assert.ErrorContains(t, err, "line 32")
}

// The frame that reaches the top closes the rep and still counts toward
// concentric velocity.
func TestCompletingFrameCountsTowardVelocity(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var c clip
	for _, a := range []float64{175, 160, 145, 130, 115, 100, 88, 102, 175} {
		c.add(a)
	}
	ticks := feed(s, c.frames)
	last := ticks[len(ticks)-1]
	require.NotNil(t, last.Rep)
	require.True(t, last.Velocity.Available)
	require.True(t, last.Rep.PeakConcentricVelocity.Available)

	prev := ticks[len(ticks)-2].Velocity.MetersPerSecond
	assert.InDelta(t, last.Velocity.MetersPerSecond, last.Rep.PeakConcentricVelocity.MetersPerSecond, 1e-9)
	assert.Greater(t, last.Rep.MeanConcentricVelocity.MetersPerSecond, prev)
}

func TestEndReturnsCopy(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var c clip
	c.cycle(2 * time.Second)
	c.add(175)
	feed(s, c.frames)
	_, err := s.EndSet(100)
	require.NoError(t, err)

	sets := s.End()
	require.Len(t, sets, 1)
	sets[0].Record.Reps = 99
	assert.Equal(t, 1, s.Sets()[0].Record.Reps)
	assert.Equal(t, 1, s.End()[0].Record.Reps)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSession(t, DefaultConfig())
	mb := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, mb) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
