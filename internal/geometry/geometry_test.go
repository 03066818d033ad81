package geometry

import (
	"math"
	"testing"

	"github.com/claude/repforge/internal/models"
)

func at(x, y float64) models.Sample {
	return models.Present(models.Point{X: x, Y: y}, 0.9)
}

func TestAngle(t *testing.T) {
	tests := []struct {
		name    string
		a, v, c models.Sample
		want    float64
	}{
		{"right angle", at(0, 1), at(0, 0), at(1, 0), 90},
		{"straight", at(-1, 0), at(0, 0), at(1, 0), 180},
		{"acute", at(1, 1), at(0, 0), at(1, 0), 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Angle(tt.a, tt.v, tt.c).Get()
			if !ok {
				t.Fatal("angle missing")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("angle = %f, want %f", got, tt.want)
			}
		})
	}
}

// TestAbsentPropagates verifies absent joints never produce values.
func TestAbsentPropagates(t *testing.T) {
	if Angle(at(0, 1), models.Absent(), at(1, 0)).IsMeasured() {
		t.Error("angle with absent vertex should be missing")
	}
	if SegmentLength(models.Absent(), at(1, 0)).IsMeasured() {
		t.Error("length with absent joint should be missing")
	}
	if Midpoint(at(0, 0), models.Absent()).IsPresent() {
		t.Error("midpoint with absent joint should be absent")
	}
	if Angle(at(0, 0), at(0, 0), at(1, 0)).IsMeasured() {
		t.Error("degenerate angle should be missing")
	}
}

func TestSegmentAndConfidence(t *testing.T) {
	r := SegmentLength(at(0, 0), models.Present(models.Point{X: 3, Y: 4}, 0.6))
	v, ok := r.Get()
	if !ok || v != 5 {
		t.Errorf("length = %v/%v, want 5", v, ok)
	}
	if r.Confidence() != 0.6 {
		t.Errorf("confidence = %f, want 0.6", r.Confidence())
	}
}

func TestLeanFromVertical(t *testing.T) {
	// Shoulder directly above hip.
	if v, _ := LeanFromVertical(at(0.5, 0.2), at(0.5, 0.6)).Get(); math.Abs(v) > 1e-9 {
		t.Errorf("upright lean = %f, want 0", v)
	}
	// 45 degree lean forward.
	if v, _ := LeanFromVertical(at(0.9, 0.2), at(0.5, 0.6)).Get(); math.Abs(v-45) > 1e-9 {
		t.Errorf("lean = %f, want 45", v)
	}
}

func TestFirstAngleFallsBack(t *testing.T) {
	f := models.PoseFrame{Joints: map[models.JointID]models.Sample{
		models.JointRightHip:   at(0, 0),
		models.JointRightKnee:  at(0, 1),
		models.JointRightAnkle: at(1, 1),
	}}
	left := Triple{A: models.JointLeftHip, Vertex: models.JointLeftKnee, C: models.JointLeftAnkle}
	right := Triple{A: models.JointRightHip, Vertex: models.JointRightKnee, C: models.JointRightAnkle}
	v, ok := FirstAngle(f, 0.5, left, right).Get()
	if !ok || math.Abs(v-90) > 1e-9 {
		t.Errorf("FirstAngle = %v/%v, want 90 from right side", v, ok)
	}
}

func TestCenter(t *testing.T) {
	f := models.PoseFrame{Joints: map[models.JointID]models.Sample{
		models.JointLeftWrist:  at(0.4, 0.5),
		models.JointRightWrist: at(0.6, 0.7),
	}}
	p, ok := Center(f, 0.5, models.JointLeftWrist, models.JointRightWrist).Get()
	if !ok || math.Abs(p.X-0.5) > 1e-9 || math.Abs(p.Y-0.6) > 1e-9 {
		t.Errorf("center = %v/%v, want (0.5,0.6)", p, ok)
	}
}
