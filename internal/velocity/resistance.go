package velocity

import "github.com/claude/repforge/internal/models"

// Load corrections for non-linear resistance curves. Bar speed under bands
// or cams is not comparable to free-weight speed at the same nominal load,
// so the nominal load is scaled before load and velocity are combined.
var resistanceCorrection = map[models.ResistanceClass]float64{
	models.ResistanceLinear:     1.00,
	models.ResistanceAscending:  0.85,
	models.ResistanceDescending: 0.90,
}

// EffectiveLoad applies the resistance-profile correction to a nominal load.
// Unknown classes are treated as linear.
func EffectiveLoad(loadKg float64, class models.ResistanceClass) float64 {
	c, ok := resistanceCorrection[class]
	if !ok {
		c = 1
	}
	return loadKg * c
}
