package form

import (
	"math"
	"testing"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/repphase"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func squatProfile(t *testing.T) profiles.Profile {
	t.Helper()
	s, err := profiles.NewStore()
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Get("back_squat")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// squatFrame places the torso with the given forward lean and the bar
// (shoulders) at horizontal offset dx.
func squatFrame(at time.Time, leanDeg, dx float64) models.PoseFrame {
	hip := models.Point{X: 0.5, Y: 0.6}
	rad := leanDeg * math.Pi / 180
	sh := models.Point{X: hip.X + 0.3*math.Sin(rad) + dx, Y: hip.Y - 0.3*math.Cos(rad)}
	p := func(pt models.Point) models.Sample { return models.Present(pt, 0.9) }
	return models.PoseFrame{Timestamp: at, Joints: map[models.JointID]models.Sample{
		models.JointLeftShoulder:  p(sh),
		models.JointRightShoulder: p(sh),
		models.JointLeftHip:       p(hip),
	}}
}

var startDescent = repphase.Transition{Event: repphase.EventPhaseChanged, From: repphase.TopHold, To: repphase.Descending}
var hold = repphase.Transition{Event: repphase.EventNone, From: repphase.Descending, To: repphase.Descending}

func TestScorePerfectRep(t *testing.T) {
	p := squatProfile(t)
	got := Score(p, 80, 2, 1, 0)
	if math.Abs(got-100) > 1e-9 {
		t.Errorf("score = %f, want 100", got)
	}
}

func TestScoreComponents(t *testing.T) {
	p := squatProfile(t)
	tests := []struct {
		name          string
		rom, ecc, con float64
		dev           float64
		want          float64
	}{
		{"half depth", 40, 2, 1, 0, 75},
		{"rushed eccentric", 80, 1, 1, 0, 92.5},
		{"drift at envelope", 80, 2, 1, 0.15, 100},
		{"drift at double envelope", 80, 2, 1, 0.30, 80},
		{"everything wrong", 0, 10, 10, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(p, tt.rom, tt.ecc, tt.con, tt.dev)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("score = %f, want %f", got, tt.want)
			}
		})
	}
}

// TestMajorIssueSurfacesSameTick verifies a major issue is returned from the
// very Observe call that detected it.
func TestMajorIssueSurfacesSameTick(t *testing.T) {
	a := NewAnalyzer(squatProfile(t), models.DefaultMinConfidence)

	if got := a.Observe(squatFrame(t0, 10, 0), startDescent, 1); len(got) != 0 {
		t.Fatalf("upright frame issues = %v, want none", got)
	}
	got := a.Observe(squatFrame(t0.Add(time.Second/30), 65, 0), hold, 1)
	if len(got) == 0 {
		t.Fatal("expected forward_lean issue on this frame")
	}
	if got[0].Code != "forward_lean" || got[0].Severity != models.SeverityMajor || got[0].Rep != 1 {
		t.Errorf("issue = %+v, want major forward_lean on rep 1", got[0])
	}
}

// TestIssuesDeduplicatedPerRep verifies repeated frames report once and an
// escalation is still reported.
func TestIssuesDeduplicatedPerRep(t *testing.T) {
	p := squatProfile(t)
	p.Issues = p.Issues[:1] // forward_lean only; leaning also moves the bar
	a := NewAnalyzer(p, models.DefaultMinConfidence)
	a.Observe(squatFrame(t0, 10, 0), startDescent, 1)

	var all []models.FormIssue
	for i, lean := range []float64{50, 52, 50, 62, 63} {
		all = append(all, a.Observe(squatFrame(t0.Add(time.Duration(i+1)*time.Second/30), lean, 0), hold, 1)...)
	}
	if len(all) != 2 {
		t.Fatalf("issues = %d (%v), want minor then major", len(all), all)
	}
	if all[0].Severity != models.SeverityMinor || all[1].Severity != models.SeverityMajor {
		t.Errorf("severities = %s,%s, want minor,major", all[0].Severity, all[1].Severity)
	}

	rf := a.CompleteRep(repphase.Cycle{})
	if len(rf.Issues) != 2 {
		t.Errorf("rep issues = %d, want 2", len(rf.Issues))
	}
	// Next rep starts clean.
	a.Observe(squatFrame(t0.Add(time.Second), 10, 0), startDescent, 2)
	if got := a.Observe(squatFrame(t0.Add(2*time.Second), 50, 0), hold, 2); len(got) != 1 {
		t.Errorf("next rep issues = %d, want 1", len(got))
	}
}

// TestBarPathDeviation verifies drift is measured from the rep's start frame
// and normalized by torso length.
func TestBarPathDeviation(t *testing.T) {
	a := NewAnalyzer(squatProfile(t), models.DefaultMinConfidence)
	a.Observe(squatFrame(t0, 0, 0), startDescent, 1)
	a.Observe(squatFrame(t0.Add(time.Second/30), 0, 0.03), hold, 1)
	a.Observe(squatFrame(t0.Add(2*time.Second/30), 0, 0.015), hold, 1)

	c := repphase.Cycle{
		DescentStart: t0, BottomAt: t0.Add(2 * time.Second),
		AscentStart: t0.Add(2 * time.Second), TopAt: t0.Add(3 * time.Second),
		MinAngle: 90, MaxAngle: 170,
	}
	rf := a.CompleteRep(c)
	if math.Abs(rf.BarPathDeviation-0.1) > 1e-9 {
		t.Errorf("deviation = %f, want 0.1 (0.03 / 0.3 torso)", rf.BarPathDeviation)
	}
	if math.Abs(rf.Score-100) > 1e-9 {
		t.Errorf("score = %f, want 100", rf.Score)
	}
	if rf.ROMDegrees != 80 {
		t.Errorf("ROM = %f, want 80", rf.ROMDegrees)
	}
}

// TestAbortDiscardsRep verifies an aborted descent clears per-rep state.
func TestAbortDiscardsRep(t *testing.T) {
	a := NewAnalyzer(squatProfile(t), models.DefaultMinConfidence)
	a.Observe(squatFrame(t0, 0, 0), startDescent, 1)
	a.Observe(squatFrame(t0, 50, 0), hold, 1)
	a.Observe(squatFrame(t0, 0, 0), repphase.Transition{Event: repphase.EventAborted, From: repphase.Descending, To: repphase.TopHold}, 1)
	if got := a.Observe(squatFrame(t0, 50, 0), hold, 1); len(got) != 0 {
		t.Errorf("issues while idle = %v, want none", got)
	}
}
