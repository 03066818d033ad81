package profiles

import (
	"time"

	"github.com/claude/repforge/internal/geometry"
	"github.com/claude/repforge/internal/models"
)

var (
	kneeL  = geometry.Triple{A: models.JointLeftHip, Vertex: models.JointLeftKnee, C: models.JointLeftAnkle}
	kneeR  = geometry.Triple{A: models.JointRightHip, Vertex: models.JointRightKnee, C: models.JointRightAnkle}
	hipL   = geometry.Triple{A: models.JointLeftShoulder, Vertex: models.JointLeftHip, C: models.JointLeftKnee}
	hipR   = geometry.Triple{A: models.JointRightShoulder, Vertex: models.JointRightHip, C: models.JointRightKnee}
	elbowL = geometry.Triple{A: models.JointLeftShoulder, Vertex: models.JointLeftElbow, C: models.JointLeftWrist}
	elbowR = geometry.Triple{A: models.JointRightShoulder, Vertex: models.JointRightElbow, C: models.JointRightWrist}

	torso = []Segment{
		{From: models.JointLeftShoulder, To: models.JointLeftHip},
		{From: models.JointRightShoulder, To: models.JointRightHip},
	}
	shoulders = []models.JointID{models.JointLeftShoulder, models.JointRightShoulder}
	wrists    = []models.JointID{models.JointLeftWrist, models.JointRightWrist}
)

func barDrift(minor, major float64) IssueRule {
	return IssueRule{Code: "bar_drift", Kind: RuleBarDrift, Minor: minor, Major: major}
}

// Builtin returns the default exercise catalog.
func Builtin() []Profile {
	return []Profile{
		{
			Name:        "back_squat",
			Tracked:     []geometry.Triple{kneeL, kneeR},
			BarJoints:   shoulders,
			Torso:       torso,
			TopAngle:    170,
			BottomAngle: 90,
			Hysteresis:  5,
			Tempo:       Tempo{Eccentric: 2 * time.Second, Concentric: time.Second},
			MaxBarPath:  0.15,
			Resistance:  models.ResistanceLinear,
			Muscles: map[models.Muscle]float64{
				models.MuscleQuads: 1, models.MuscleGlutes: 1,
				models.MuscleHamstrings: 0.5, models.MuscleCore: 0.5, models.MuscleBack: 0.25,
			},
			Reference: ReferenceRatios{Male: 1.5, Female: 1.0},
			Issues: []IssueRule{
				{Code: "forward_lean", Kind: RuleLean, Segments: torso, Minor: 45, Major: 60},
				barDrift(0.15, 0.30),
			},
		},
		{
			Name:        "front_squat",
			Tracked:     []geometry.Triple{kneeL, kneeR},
			BarJoints:   shoulders,
			Torso:       torso,
			TopAngle:    170,
			BottomAngle: 85,
			Hysteresis:  5,
			Tempo:       Tempo{Eccentric: 2 * time.Second, Concentric: time.Second},
			MaxBarPath:  0.12,
			Resistance:  models.ResistanceLinear,
			Muscles: map[models.Muscle]float64{
				models.MuscleQuads: 1, models.MuscleGlutes: 0.75, models.MuscleCore: 0.75, models.MuscleBack: 0.25,
			},
			Reference: ReferenceRatios{Male: 1.2, Female: 0.85},
			Issues: []IssueRule{
				{Code: "forward_lean", Kind: RuleLean, Segments: torso, Minor: 35, Major: 50},
				barDrift(0.12, 0.25),
			},
		},
		{
			Name:           "deadlift",
			Tracked:        []geometry.Triple{hipL, hipR},
			BarJoints:      wrists,
			Torso:          torso,
			TopAngle:       170,
			BottomAngle:    80,
			Hysteresis:     5,
			StartsAtBottom: true,
			Tempo:          Tempo{Eccentric: 1500 * time.Millisecond, Concentric: 1500 * time.Millisecond},
			MaxBarPath:     0.10,
			Resistance:     models.ResistanceLinear,
			Muscles: map[models.Muscle]float64{
				models.MuscleHamstrings: 1, models.MuscleGlutes: 1, models.MuscleBack: 1,
				models.MuscleQuads: 0.5, models.MuscleCore: 0.5,
			},
			Reference: ReferenceRatios{Male: 2.0, Female: 1.4},
			Issues: []IssueRule{
				{Code: "squatting_the_pull", Kind: RuleAngleBelow, Angles: []geometry.Triple{kneeL, kneeR}, Minor: 110, Major: 95},
				barDrift(0.10, 0.20),
			},
		},
		{
			Name:        "bench_press",
			Tracked:     []geometry.Triple{elbowL, elbowR},
			BarJoints:   wrists,
			Torso:       torso,
			TopAngle:    165,
			BottomAngle: 80,
			Hysteresis:  5,
			Tempo:       Tempo{Eccentric: 2 * time.Second, Concentric: time.Second},
			MaxBarPath:  0.20,
			Resistance:  models.ResistanceLinear,
			Muscles: map[models.Muscle]float64{
				models.MuscleChest: 1, models.MuscleTriceps: 0.5, models.MuscleShoulders: 0.5,
			},
			Reference: ReferenceRatios{Male: 1.0, Female: 0.65},
			Issues:    []IssueRule{barDrift(0.20, 0.35)},
		},
		{
			Name:        "banded_bench_press",
			Tracked:     []geometry.Triple{elbowL, elbowR},
			BarJoints:   wrists,
			Torso:       torso,
			TopAngle:    165,
			BottomAngle: 80,
			Hysteresis:  5,
			Tempo:       Tempo{Eccentric: 2 * time.Second, Concentric: time.Second},
			MaxBarPath:  0.20,
			Resistance:  models.ResistanceAscending,
			Muscles: map[models.Muscle]float64{
				models.MuscleChest: 1, models.MuscleTriceps: 0.75, models.MuscleShoulders: 0.5,
			},
			Reference: ReferenceRatios{Male: 1.0, Female: 0.65},
			Issues:    []IssueRule{barDrift(0.20, 0.35)},
		},
		{
			Name:        "overhead_press",
			Tracked:     []geometry.Triple{elbowL, elbowR},
			BarJoints:   wrists,
			Torso:       torso,
			TopAngle:    165,
			BottomAngle: 70,
			Hysteresis:  5,
			Tempo:       Tempo{Eccentric: 1500 * time.Millisecond, Concentric: time.Second},
			MaxBarPath:  0.12,
			Resistance:  models.ResistanceLinear,
			Muscles: map[models.Muscle]float64{
				models.MuscleShoulders: 1, models.MuscleTriceps: 0.5, models.MuscleCore: 0.25,
			},
			Reference: ReferenceRatios{Male: 0.65, Female: 0.45},
			Issues: []IssueRule{
				{Code: "back_lean", Kind: RuleLean, Segments: torso, Minor: 15, Major: 25},
				barDrift(0.12, 0.25),
			},
		},
		{
			Name:        "barbell_row",
			Tracked:     []geometry.Triple{elbowL, elbowR},
			BarJoints:   wrists,
			Torso:       torso,
			TopAngle:    165,
			BottomAngle: 75,
			Hysteresis:  5,
			Tempo:       Tempo{Eccentric: 1500 * time.Millisecond, Concentric: time.Second},
			MaxBarPath:  0.20,
			Resistance:  models.ResistanceLinear,
			Muscles: map[models.Muscle]float64{
				models.MuscleBack: 1, models.MuscleBiceps: 0.5, models.MuscleCore: 0.25,
			},
			Reference: ReferenceRatios{Male: 1.0, Female: 0.7},
			Issues:    []IssueRule{barDrift(0.20, 0.35)},
		},
		{
			Name:        "leg_press",
			Tracked:     []geometry.Triple{kneeL, kneeR},
			BarJoints:   []models.JointID{models.JointLeftAnkle, models.JointRightAnkle},
			Torso:       torso,
			TopAngle:    165,
			BottomAngle: 90,
			Hysteresis:  5,
			Tempo:       Tempo{Eccentric: 2 * time.Second, Concentric: time.Second},
			MaxBarPath:  0.15,
			Resistance:  models.ResistanceDescending,
			Muscles: map[models.Muscle]float64{
				models.MuscleQuads: 1, models.MuscleGlutes: 0.5,
			},
			Reference: ReferenceRatios{Male: 2.5, Female: 1.8},
			Issues:    []IssueRule{barDrift(0.15, 0.30)},
		},
	}
}
