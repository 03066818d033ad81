// Package repphase tracks movement phase from a joint-angle trajectory and
// emits one cycle per completed repetition.
//
// Transitions use hysteresis-separated thresholds derived from the
// exercise's top and bottom angles. With hysteresis h:
//
//	leave top     angle < top - 2h
//	reach bottom  angle <= bottom + h
//	leave bottom  angle > bottom + 2h
//	reach top     angle >= top - h
//
// From Idle a rep can only begin after the angle has been seen at the top,
// unless the lift starts at the bottom (e.g. a deadlift off the floor).
//
// Step is a pure function of (State, Input); Machine wraps it with rep
// timing and counting.
package repphase

import (
	"fmt"
	"math"
	"time"

	"github.com/claude/repforge/internal/models"
)

// Phase is the movement phase.
type Phase int

const (
	Idle Phase = iota
	Descending
	BottomHold
	Ascending
	TopHold
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Descending:
		return "descending"
	case BottomHold:
		return "bottom_hold"
	case Ascending:
		return "ascending"
	case TopHold:
		return "top_hold"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Event classifies what a step did.
type Event int

const (
	EventNone Event = iota
	EventPhaseChanged
	EventRepCompleted
	EventAborted
	EventTrackingLost
	EventTimedOut
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventPhaseChanged:
		return "phase_changed"
	case EventRepCompleted:
		return "rep_completed"
	case EventAborted:
		return "aborted"
	case EventTrackingLost:
		return "tracking_lost"
	case EventTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Thresholds configures the state machine.
type Thresholds struct {
	Top        float64
	Bottom     float64
	Hysteresis float64

	// MovementEpsilon is the angle change (degrees) that counts as movement.
	MovementEpsilon float64
	// IdleTimeout returns the machine to Idle after this long without movement.
	// Zero disables the timeout.
	IdleTimeout time.Duration
	// MaxMissingFrames is the consecutive-missing budget before tracking is
	// declared lost.
	MaxMissingFrames int
	// StartsAtBottom lets Idle enter BottomHold directly.
	StartsAtBottom bool
}

func (t Thresholds) topExit() float64     { return t.Top - 2*t.Hysteresis }
func (t Thresholds) topEnter() float64    { return t.Top - t.Hysteresis }
func (t Thresholds) bottomEnter() float64 { return t.Bottom + t.Hysteresis }
func (t Thresholds) bottomExit() float64  { return t.Bottom + 2*t.Hysteresis }

// Input is one tracked-angle observation.
type Input struct {
	At    time.Time
	Angle models.Reading
}

// State is the full machine state needed by Step.
type State struct {
	Phase        Phase
	Missing      int
	Anchor       float64
	HaveAnchor   bool
	LastMovement time.Time
	// AtTop records that the top was reached since the last reset, which
	// arms Idle for a descent.
	AtTop bool
}

// Transition describes the result of one step.
type Transition struct {
	Event Event
	From  Phase
	To    Phase
}

// Step advances the state by one input.
func Step(s State, in Input, th Thresholds) (State, Transition) {
	from := s.Phase
	angle, ok := in.Angle.Get()
	if !ok {
		s.Missing++
		if s.Missing == th.MaxMissingFrames+1 {
			s.Phase = Idle
			s.HaveAnchor = false
			s.AtTop = false
			return s, Transition{Event: EventTrackingLost, From: from, To: Idle}
		}
		return s, Transition{Event: EventNone, From: from, To: from}
	}
	s.Missing = 0
	if angle >= th.topEnter() {
		s.AtTop = true
	}

	moved := !s.HaveAnchor || math.Abs(angle-s.Anchor) > th.MovementEpsilon
	if moved {
		s.Anchor = angle
		s.HaveAnchor = true
		s.LastMovement = in.At
	} else if s.Phase != Idle && th.IdleTimeout > 0 && in.At.Sub(s.LastMovement) >= th.IdleTimeout {
		s.Phase = Idle
		s.AtTop = angle >= th.topExit()
		return s, Transition{Event: EventTimedOut, From: from, To: Idle}
	}

	next, ev := from, EventNone
	switch from {
	case Idle:
		if !moved {
			break
		}
		switch {
		case th.StartsAtBottom && angle <= th.bottomEnter():
			next, ev = BottomHold, EventPhaseChanged
		case s.AtTop && angle < th.topExit():
			next, ev = Descending, EventPhaseChanged
		}
	case TopHold:
		if angle < th.topExit() {
			next, ev = Descending, EventPhaseChanged
		}
	case Descending:
		if angle <= th.bottomEnter() {
			next, ev = BottomHold, EventPhaseChanged
		} else if angle >= th.topEnter() {
			next, ev = TopHold, EventAborted
		}
	case BottomHold:
		if angle > th.bottomExit() {
			next, ev = Ascending, EventPhaseChanged
		}
	case Ascending:
		if angle >= th.topEnter() {
			next, ev = TopHold, EventRepCompleted
		} else if angle <= th.bottomEnter() {
			next, ev = BottomHold, EventPhaseChanged
		}
	}
	s.Phase = next
	return s, Transition{Event: ev, From: from, To: next}
}
