// Package rpe estimates exertion (RPE) and reps in reserve from set velocity
// loss using fixed per-exercise regression curves. Estimate is pure.
package rpe

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// Estimate is an exertion estimate on the 0-10 RPE scale.
type Estimate struct {
	RPE float64 `json:"rpe"`
	RIR float64 `json:"rir"`
	// Raw is the unrounded curve value.
	Raw float64 `json:"raw"`
}

// curve maps velocity loss (percent) to RPE. Every curve passes through
// 20% => 8.
type curve struct {
	loss []float64
	rpe  []float64
}

var curves = map[string]curve{
	"generic": {
		loss: []float64{0, 10, 20, 30, 40, 50},
		rpe:  []float64{5, 6.5, 8, 9, 9.5, 10},
	},
	// Lower-body lifts tolerate more velocity loss before failure.
	"squat": {
		loss: []float64{0, 10, 20, 30, 40, 45},
		rpe:  []float64{5.5, 7, 8, 8.75, 9.5, 10},
	},
	"hinge": {
		loss: []float64{0, 10, 20, 30, 40},
		rpe:  []float64{5.5, 7, 8, 9, 10},
	},
	// Upper-body presses lose velocity faster near failure.
	"press": {
		loss: []float64{0, 10, 20, 30, 40},
		rpe:  []float64{5, 6.5, 8, 9.25, 10},
	},
}

var exerciseCurve = map[string]string{
	"back_squat":         "squat",
	"front_squat":        "squat",
	"leg_press":          "squat",
	"deadlift":           "hinge",
	"bench_press":        "press",
	"banded_bench_press": "press",
	"overhead_press":     "press",
}

var fitted = map[string]*interp.PiecewiseLinear{}

func init() {
	for name, c := range curves {
		pl := &interp.PiecewiseLinear{}
		if err := pl.Fit(c.loss, c.rpe); err != nil {
			panic(fmt.Sprintf("rpe: fitting %s curve: %v", name, err))
		}
		fitted[name] = pl
	}
}

// CurveFor returns the curve family used for an exercise.
func CurveFor(exercise string) string {
	if c, ok := exerciseCurve[exercise]; ok {
		return c
	}
	return "generic"
}

// FromVelocityLoss maps a velocity-loss percentage to an exertion estimate.
// Negative or NaN loss is treated as zero. RPE is rounded to the nearest
// half point and clamped to [0,10]; RIR = 10 - RPE.
func FromVelocityLoss(lossPct float64, exercise string) Estimate {
	if math.IsNaN(lossPct) || lossPct < 0 {
		lossPct = 0
	}
	raw := fitted[CurveFor(exercise)].Predict(lossPct)
	raw = math.Max(0, math.Min(10, raw))
	rounded := math.Round(raw*2) / 2
	return Estimate{RPE: rounded, RIR: 10 - rounded, Raw: raw}
}
