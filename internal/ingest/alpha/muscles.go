package alpha

import (
	"strings"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
)

// keywordMuscles maps name fragments to muscle weights. Order matters: the
// first fragment found in the lowercased name wins.
var keywordMuscles = []struct {
	fragment string
	muscles  map[models.Muscle]float64
}{
	{"calf", map[models.Muscle]float64{models.MuscleCalves: 1}},
	{"leg raise", map[models.Muscle]float64{models.MuscleCore: 1}},
	{"crunch", map[models.Muscle]float64{models.MuscleCore: 1}},
	{"plank", map[models.Muscle]float64{models.MuscleCore: 1}},
	{"leg curl", map[models.Muscle]float64{models.MuscleHamstrings: 1}},
	{"leg extension", map[models.Muscle]float64{models.MuscleQuads: 1}},
	{"hyperextension", map[models.Muscle]float64{models.MuscleHamstrings: 1, models.MuscleGlutes: 0.5, models.MuscleBack: 0.5}},
	{"deadlift", map[models.Muscle]float64{models.MuscleHamstrings: 1, models.MuscleGlutes: 0.5, models.MuscleBack: 0.5}},
	{"good morning", map[models.Muscle]float64{models.MuscleHamstrings: 1, models.MuscleBack: 0.5}},
	{"hip thrust", map[models.Muscle]float64{models.MuscleGlutes: 1, models.MuscleHamstrings: 0.5}},
	{"squat", map[models.Muscle]float64{models.MuscleQuads: 1, models.MuscleGlutes: 0.5}},
	{"lunge", map[models.Muscle]float64{models.MuscleQuads: 1, models.MuscleGlutes: 0.5}},
	{"leg press", map[models.Muscle]float64{models.MuscleQuads: 1, models.MuscleGlutes: 0.5}},
	{"curl", map[models.Muscle]float64{models.MuscleBiceps: 1}},
	{"bench", map[models.Muscle]float64{models.MuscleChest: 1, models.MuscleTriceps: 0.5, models.MuscleShoulders: 0.5}},
	{"chest", map[models.Muscle]float64{models.MuscleChest: 1, models.MuscleTriceps: 0.5}},
	{"fly", map[models.Muscle]float64{models.MuscleChest: 1}},
	{"push-up", map[models.Muscle]float64{models.MuscleChest: 1, models.MuscleTriceps: 0.5}},
	{"dip", map[models.Muscle]float64{models.MuscleTriceps: 1, models.MuscleChest: 0.5}},
	{"overhead", map[models.Muscle]float64{models.MuscleShoulders: 1, models.MuscleTriceps: 0.5}},
	{"shoulder", map[models.Muscle]float64{models.MuscleShoulders: 1, models.MuscleTriceps: 0.5}},
	{"lateral raise", map[models.Muscle]float64{models.MuscleShoulders: 1}},
	{"row", map[models.Muscle]float64{models.MuscleBack: 1, models.MuscleBiceps: 0.5}},
	{"pull", map[models.Muscle]float64{models.MuscleBack: 1, models.MuscleBiceps: 0.5}},
	{"chin", map[models.Muscle]float64{models.MuscleBack: 1, models.MuscleBiceps: 0.5}},
	{"triceps", map[models.Muscle]float64{models.MuscleTriceps: 1}},
	{"pushdown", map[models.Muscle]float64{models.MuscleTriceps: 1}},
}

// profileName turns "Bench Press" into "bench_press".
func profileName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// MusclesFor returns the muscle weights trained by a logged exercise. A
// tracked exercise profile with the same name takes precedence over the
// keyword table.
func MusclesFor(store *profiles.Store, name string) (map[models.Muscle]float64, bool) {
	if store != nil {
		if p, err := store.Get(profileName(name)); err == nil && len(p.Muscles) > 0 {
			return p.Muscles, true
		}
	}
	lower := strings.ToLower(name)
	for _, k := range keywordMuscles {
		if strings.Contains(lower, k.fragment) {
			return k.muscles, true
		}
	}
	return nil, false
}
