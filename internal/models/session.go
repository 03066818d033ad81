package models

import "time"

// Velocity is a bar speed in m/s that may be unavailable when the engine
// has no calibration.
type Velocity struct {
	MetersPerSecond float64 `json:"mps"`
	Available       bool    `json:"available"`
}

// KnownVelocity returns an available velocity.
func KnownVelocity(mps float64) Velocity {
	return Velocity{MetersPerSecond: mps, Available: true}
}

// Severity grades a form issue.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// FormIssue is a discrete form fault detected on a frame.
type FormIssue struct {
	Code     string    `json:"code"`
	Severity Severity  `json:"severity"`
	Value    float64   `json:"value"`
	Rep      int       `json:"rep"`
	At       time.Time `json:"at"`
}

// RepEvent describes one completed repetition. It is built once and never
// mutated.
type RepEvent struct {
	Number                 int           `json:"number"`
	Exercise               string        `json:"exercise"`
	EccentricDuration      time.Duration `json:"eccentric_ns"`
	ConcentricDuration     time.Duration `json:"concentric_ns"`
	FormScore              float64       `json:"form_score"`
	ROMDegrees             float64       `json:"rom_degrees"`
	BarPathDeviation       float64       `json:"bar_path_deviation"`
	MeanConcentricVelocity Velocity      `json:"mean_concentric_velocity"`
	PeakConcentricVelocity Velocity      `json:"peak_concentric_velocity"`
	VelocityLossPct        float64       `json:"velocity_loss_pct"`
	CompletedAt            time.Time     `json:"completed_at"`
	Issues                 []FormIssue   `json:"issues,omitempty"`
}

// FatigueStatus is the set-level fatigue view. AutoStop stays true for the
// remainder of the set once tripped.
type FatigueStatus struct {
	VelocityLossPct  float64  `json:"velocity_loss_pct"`
	BestMeanVelocity Velocity `json:"best_mean_velocity"`
	AutoStop         bool     `json:"auto_stop"`
	Reps             int      `json:"reps"`
}

// ResistanceClass describes how an implement's resistance changes over the
// range of motion.
type ResistanceClass string

const (
	ResistanceLinear     ResistanceClass = "linear"
	ResistanceAscending  ResistanceClass = "ascending"
	ResistanceDescending ResistanceClass = "descending"
)

// SetRecord is the ranking engine's input unit.
type SetRecord struct {
	Exercise        string   `json:"exercise"`
	Reps            int      `json:"reps"`
	LoadKg          float64  `json:"load_kg"`
	EffectiveLoadKg float64  `json:"effective_load_kg"`
	MeanVelocity    Velocity `json:"mean_velocity"`
	FormScore       float64  `json:"form_score"`
}

// SetSummary is emitted at the end of each set.
type SetSummary struct {
	Record      SetRecord     `json:"record"`
	Reps        []RepEvent    `json:"reps"`
	Fatigue     FatigueStatus `json:"fatigue"`
	RPE         float64       `json:"rpe"`
	RIR         float64       `json:"rir"`
	MajorIssues int           `json:"major_issues"`
	MinorIssues int           `json:"minor_issues"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
}

// Sex selects the reference table used to normalize ranking points.
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = ""
)

// UserContext is supplied before a session for calibration and scoring.
type UserContext struct {
	HeightM      float64 `json:"height_m"`
	BodyweightKg float64 `json:"bodyweight_kg"`
	Sex          Sex     `json:"sex"`
}
