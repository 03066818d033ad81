package models

import "time"

// LoggedSession is a workout logged in another app (e.g. an Alpha
// Progression CSV export).
type LoggedSession struct {
	Name      string
	Date      time.Time
	Duration  string
	Exercises []LoggedExercise
}

// LoggedExercise is a single exercise within a logged session.
type LoggedExercise struct {
	Number     int
	Name       string
	Equipment  string
	TargetReps int
	Sets       []LoggedSet
}

// LoggedSet is one logged set (working or warmup).
type LoggedSet struct {
	Number           int
	WeightKg         float64
	IsBodyweightPlus bool
	Reps             int
	RIR              float64
	IsWarmup         bool
}

// WorkingSets counts non-warmup sets.
func (e LoggedExercise) WorkingSets() int {
	n := 0
	for _, s := range e.Sets {
		if !s.IsWarmup {
			n++
		}
	}
	return n
}
