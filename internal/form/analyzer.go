// Package form scores completed reps against an exercise profile and flags
// discrete form issues frame by frame.
package form

import (
	"math"

	"github.com/claude/repforge/internal/geometry"
	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/repphase"
)

// Score weights. They sum to 100.
const (
	romWeight       = 50.0
	tempoWeight     = 30.0
	deviationWeight = 20.0
)

// RepForm is the form result for one rep.
type RepForm struct {
	Score            float64
	ROMDegrees       float64
	BarPathDeviation float64
	Issues           []models.FormIssue
}

// Analyzer is owned by a single session pipeline.
type Analyzer struct {
	p       profiles.Profile
	minConf float64

	active   bool
	rep      int
	startBar models.Sample
	torso    float64
	maxDrift float64
	reported map[string]models.Severity
	issues   []models.FormIssue
}

// NewAnalyzer returns an analyzer for the profile.
func NewAnalyzer(p profiles.Profile, minConfidence float64) *Analyzer {
	return &Analyzer{p: p, minConf: minConfidence, reported: make(map[string]models.Severity)}
}

// Observe processes one frame after the phase machine has stepped. Issues
// detected on this frame are returned immediately; repNumber is the number
// the in-flight rep will get when it completes.
func (a *Analyzer) Observe(f models.PoseFrame, tr repphase.Transition, repNumber int) []models.FormIssue {
	switch tr.Event {
	case repphase.EventAborted, repphase.EventTrackingLost, repphase.EventTimedOut:
		a.reset()
		return nil
	}
	if !a.active && (tr.To == repphase.Descending || (tr.From == repphase.Idle && tr.To == repphase.BottomHold)) {
		a.begin(f, repNumber)
	}
	if !a.active {
		return nil
	}

	bar := geometry.Center(f, a.minConf, a.p.BarJoints...)
	if !a.startBar.IsPresent() {
		a.startBar = bar
	}
	drift := models.Missing()
	if off, ok := geometry.LateralOffset(a.startBar, bar).Get(); ok {
		d := off / a.torso
		a.maxDrift = math.Max(a.maxDrift, d)
		drift = models.Measured(d, 1)
	}

	var out []models.FormIssue
	for _, rule := range a.p.Issues {
		v := a.measure(f, rule, drift)
		val, ok := v.Get()
		if !ok {
			continue
		}
		sev, hit := classify(rule, val)
		if !hit || rank(sev) <= rank(a.reported[rule.Code]) {
			continue
		}
		a.reported[rule.Code] = sev
		issue := models.FormIssue{Code: rule.Code, Severity: sev, Value: val, Rep: a.rep, At: f.Timestamp}
		a.issues = append(a.issues, issue)
		out = append(out, issue)
	}
	return out
}

func (a *Analyzer) begin(f models.PoseFrame, repNumber int) {
	a.reset()
	a.active = true
	a.rep = repNumber
	a.startBar = geometry.Center(f, a.minConf, a.p.BarJoints...)
	a.torso = 1
	for _, s := range a.p.Torso {
		if l, ok := geometry.SegmentLength(f.Joint(s.From, a.minConf), f.Joint(s.To, a.minConf)).Get(); ok && l > 0 {
			a.torso = l
			break
		}
	}
}

func (a *Analyzer) reset() {
	a.active = false
	a.startBar = models.Absent()
	a.maxDrift = 0
	a.issues = nil
	clear(a.reported)
}

func (a *Analyzer) measure(f models.PoseFrame, r profiles.IssueRule, drift models.Reading) models.Reading {
	switch r.Kind {
	case profiles.RuleAngleBelow, profiles.RuleAngleAbove:
		return geometry.FirstAngle(f, a.minConf, r.Angles...)
	case profiles.RuleLean:
		for _, s := range r.Segments {
			if v := geometry.LeanFromVertical(f.Joint(s.From, a.minConf), f.Joint(s.To, a.minConf)); v.IsMeasured() {
				return v
			}
		}
	case profiles.RuleBarDrift:
		return drift
	}
	return models.Missing()
}

func classify(r profiles.IssueRule, v float64) (models.Severity, bool) {
	if r.Kind == profiles.RuleAngleBelow {
		switch {
		case v < r.Major:
			return models.SeverityMajor, true
		case v < r.Minor:
			return models.SeverityMinor, true
		}
		return "", false
	}
	switch {
	case v > r.Major:
		return models.SeverityMajor, true
	case v > r.Minor:
		return models.SeverityMinor, true
	}
	return "", false
}

func rank(s models.Severity) int {
	switch s {
	case models.SeverityMinor:
		return 1
	case models.SeverityMajor:
		return 2
	}
	return 0
}

// CompleteRep scores the rep that just finished and resets per-rep state.
func (a *Analyzer) CompleteRep(c repphase.Cycle) RepForm {
	rf := RepForm{
		ROMDegrees:       c.ROM(),
		BarPathDeviation: a.maxDrift,
		Issues:           a.issues,
	}
	rf.Score = Score(a.p, c.ROM(), c.Eccentric().Seconds(), c.Concentric().Seconds(), a.maxDrift)
	a.reset()
	return rf
}

// Discard drops the in-flight rep without scoring.
func (a *Analyzer) Discard() { a.reset() }

// Score combines ROM attainment, tempo adherence and bar-path deviation
// into a 0-100 score.
func Score(p profiles.Profile, rom, eccSec, conSec, deviation float64) float64 {
	romAttain := clamp01(rom / (p.TopAngle - p.BottomAngle))
	tempo := (adherence(eccSec, p.Tempo.Eccentric.Seconds()) + adherence(conSec, p.Tempo.Concentric.Seconds())) / 2
	penalty := 0.0
	if env := p.MaxBarPath; env > 0 {
		penalty = clamp01((deviation - env) / env)
	}
	return clamp(romWeight*romAttain+tempoWeight*tempo+deviationWeight*(1-penalty), 0, 100)
}

func adherence(actual, target float64) float64 {
	if target <= 0 {
		return 1
	}
	return clamp01(1 - math.Abs(actual-target)/target)
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
