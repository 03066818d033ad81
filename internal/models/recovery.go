package models

import "time"

// Muscle identifies a muscle group on the recovery heatmap.
type Muscle string

const (
	MuscleChest      Muscle = "chest"
	MuscleBack       Muscle = "back"
	MuscleShoulders  Muscle = "shoulders"
	MuscleBiceps     Muscle = "biceps"
	MuscleTriceps    Muscle = "triceps"
	MuscleQuads      Muscle = "quads"
	MuscleHamstrings Muscle = "hamstrings"
	MuscleGlutes     Muscle = "glutes"
	MuscleCalves     Muscle = "calves"
	MuscleCore       Muscle = "core"
)

// AllMuscles lists the heatmap muscles in display order.
var AllMuscles = []Muscle{
	MuscleChest, MuscleBack, MuscleShoulders, MuscleBiceps, MuscleTriceps,
	MuscleQuads, MuscleHamstrings, MuscleGlutes, MuscleCalves, MuscleCore,
}

// MuscleRecoveryState is the per-muscle recovery model state.
type MuscleRecoveryState struct {
	Muscle      Muscle    `json:"muscle"`
	Score       float64   `json:"score"`
	LastTrained time.Time `json:"last_trained"`
	WeeklySets  float64   `json:"weekly_sets"`
	WeekStart   time.Time `json:"week_start"`
}

// VolumeEvent is logged training volume attributed to one muscle.
type VolumeEvent struct {
	Muscle Muscle    `json:"muscle"`
	Sets   float64   `json:"sets"`
	At     time.Time `json:"at"`
}

// RecoveryInputs carries externally computed recovery signals. Scores are
// 0-100 and may be Missing.
type RecoveryInputs struct {
	HRVScore       Reading
	SleepScore     Reading
	RestingHRScore Reading

	// HRVToday and HRVBaseline (up to 14 prior daily values, ms) drive the
	// HRV-drop deload trigger.
	HRVToday    Reading
	HRVBaseline []float64

	// SleepHours holds recent nightly sleep, oldest first.
	SleepHours []float64

	// SessionVelocities holds recent session mean velocities, oldest first.
	SessionVelocities []float64
}

// DeloadModifier scales planned volume and intensity.
type DeloadModifier struct {
	Triggered bool     `json:"triggered"`
	Volume    float64  `json:"volume"`
	Intensity float64  `json:"intensity"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Readiness is the composite readiness view.
type Readiness struct {
	Score         float64        `json:"score"`
	MuscleAverage float64        `json:"muscle_average"`
	Deload        DeloadModifier `json:"deload"`
}

// DailyRecoveryInput is one day of externally computed recovery signals.
// Nil fields were not reported for that day.
type DailyRecoveryInput struct {
	Day            time.Time `json:"day"`
	HRVScore       *float64  `json:"hrv_score,omitempty"`
	SleepScore     *float64  `json:"sleep_score,omitempty"`
	RestingHRScore *float64  `json:"resting_hr_score,omitempty"`
	HRVMs          *float64  `json:"hrv_ms,omitempty"`
	SleepHours     *float64  `json:"sleep_hours,omitempty"`
}
