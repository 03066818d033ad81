package repphase

import (
	"math"
	"time"
)

// Cycle is the timing and angle envelope of one completed rep.
type Cycle struct {
	Number       int
	DescentStart time.Time
	BottomAt     time.Time
	AscentStart  time.Time
	TopAt        time.Time
	MinAngle     float64
	MaxAngle     float64
}

// Eccentric is the time from leaving the top to reaching the bottom.
func (c Cycle) Eccentric() time.Duration { return c.BottomAt.Sub(c.DescentStart) }

// Concentric is the time from leaving the bottom to reaching the top.
func (c Cycle) Concentric() time.Duration { return c.TopAt.Sub(c.AscentStart) }

// ROM is the angle excursion of the rep in degrees.
func (c Cycle) ROM() float64 { return c.MaxAngle - c.MinAngle }

// Machine counts reps over a stream of angle inputs. It is not safe for
// concurrent use; each session owns one.
type Machine struct {
	th    Thresholds
	state State
	reps  int

	active  bool
	cur     Cycle
	topPeak float64
}

// NewMachine returns a machine in Idle.
func NewMachine(th Thresholds) *Machine {
	return &Machine{th: th, topPeak: math.Inf(-1)}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.state.Phase }

// Reps returns the reps completed since the last ResetSet.
func (m *Machine) Reps() int { return m.reps }

// InRep reports whether a rep is in flight.
func (m *Machine) InRep() bool { return m.active }

// Feed advances the machine. When the step completes a rep, the cycle is
// returned with ok=true.
func (m *Machine) Feed(in Input) (tr Transition, c Cycle, ok bool) {
	m.state, tr = Step(m.state, in, m.th)
	angle, measured := in.Angle.Get()

	switch tr.Event {
	case EventTrackingLost, EventTimedOut, EventAborted:
		m.discard()
		if tr.Event == EventAborted && measured {
			m.topPeak = angle
		}
		return tr, Cycle{}, false
	case EventPhaseChanged, EventRepCompleted:
		m.enter(tr, in.At, angle)
	}

	if measured {
		if m.active {
			m.cur.MinAngle = math.Min(m.cur.MinAngle, angle)
			m.cur.MaxAngle = math.Max(m.cur.MaxAngle, angle)
		} else if p := m.state.Phase; p == Idle || p == TopHold {
			m.topPeak = math.Max(m.topPeak, angle)
		}
	}

	if tr.Event == EventRepCompleted {
		m.reps++
		c = m.cur
		c.Number = m.reps
		m.active = false
		m.topPeak = angle
		return tr, c, true
	}
	return tr, Cycle{}, false
}

func (m *Machine) enter(tr Transition, at time.Time, angle float64) {
	switch tr.To {
	case Descending:
		m.active = true
		peak := math.Max(m.topPeak, angle)
		m.cur = Cycle{DescentStart: at, MinAngle: angle, MaxAngle: peak}
		m.topPeak = math.Inf(-1)
	case BottomHold:
		if !m.active {
			// Started from the bottom (e.g. a deadlift off the floor).
			m.active = true
			m.cur = Cycle{DescentStart: at, MinAngle: angle, MaxAngle: angle}
		}
		if m.cur.BottomAt.IsZero() {
			m.cur.BottomAt = at
		}
	case Ascending:
		m.cur.AscentStart = at
	case TopHold:
		m.cur.TopAt = at
	}
}

func (m *Machine) discard() {
	m.active = false
	m.cur = Cycle{}
	m.topPeak = math.Inf(-1)
}

// Abort discards any in-flight rep and returns to Idle without emitting.
func (m *Machine) Abort() {
	m.discard()
	m.state = State{}
}

// ResetSet aborts and clears the rep counter.
func (m *Machine) ResetSet() {
	m.Abort()
	m.reps = 0
}
