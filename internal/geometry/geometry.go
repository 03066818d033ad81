// Package geometry computes 2D joint angles, segment lengths and
// displacements over pose samples. Any absent input yields a Missing reading.
package geometry

import (
	"math"

	"github.com/claude/repforge/internal/models"
)

// Angle returns the angle at vertex formed by a-vertex-c, in degrees [0,180].
func Angle(a, vertex, c models.Sample) models.Reading {
	pa, ok1 := a.Get()
	pv, ok2 := vertex.Get()
	pc, ok3 := c.Get()
	if !ok1 || !ok2 || !ok3 {
		return models.Missing()
	}
	ux, uy := pa.X-pv.X, pa.Y-pv.Y
	wx, wy := pc.X-pv.X, pc.Y-pv.Y
	nu := math.Hypot(ux, uy)
	nw := math.Hypot(wx, wy)
	if nu == 0 || nw == 0 {
		return models.Missing()
	}
	cos := (ux*wx + uy*wy) / (nu * nw)
	cos = math.Max(-1, math.Min(1, cos))
	return models.Measured(math.Acos(cos)*180/math.Pi, minConf(a, vertex, c))
}

// SegmentLength returns the distance between two joints.
func SegmentLength(a, b models.Sample) models.Reading {
	pa, ok1 := a.Get()
	pb, ok2 := b.Get()
	if !ok1 || !ok2 {
		return models.Missing()
	}
	return models.Measured(math.Hypot(pb.X-pa.X, pb.Y-pa.Y), minConf(a, b))
}

// Displacement returns the distance a joint travelled between two frames.
func Displacement(prev, cur models.Sample) models.Reading {
	return SegmentLength(prev, cur)
}

// LateralOffset returns the absolute horizontal offset of cur from origin.
func LateralOffset(origin, cur models.Sample) models.Reading {
	po, ok1 := origin.Get()
	pc, ok2 := cur.Get()
	if !ok1 || !ok2 {
		return models.Missing()
	}
	return models.Measured(math.Abs(pc.X-po.X), minConf(origin, cur))
}

// Midpoint returns the midpoint of two joints.
func Midpoint(a, b models.Sample) models.Sample {
	pa, ok1 := a.Get()
	pb, ok2 := b.Get()
	if !ok1 || !ok2 {
		return models.Absent()
	}
	return models.Present(models.Point{X: (pa.X + pb.X) / 2, Y: (pa.Y + pb.Y) / 2}, minConf(a, b))
}

// LeanFromVertical returns the angle in degrees between the segment
// bottom->top and the vertical axis.
func LeanFromVertical(top, bottom models.Sample) models.Reading {
	pt, ok1 := top.Get()
	pb, ok2 := bottom.Get()
	if !ok1 || !ok2 {
		return models.Missing()
	}
	dx := pt.X - pb.X
	dy := pb.Y - pt.Y // image Y grows downward
	if dx == 0 && dy == 0 {
		return models.Missing()
	}
	return models.Measured(math.Abs(math.Atan2(dx, dy))*180/math.Pi, minConf(top, bottom))
}

// Triple names the three joints of an angle, vertex in the middle.
type Triple struct {
	A      models.JointID `yaml:"a" json:"a"`
	Vertex models.JointID `yaml:"vertex" json:"vertex"`
	C      models.JointID `yaml:"c" json:"c"`
}

// AngleIn measures the triple on a frame.
func (t Triple) AngleIn(f models.PoseFrame, minConfidence float64) models.Reading {
	return Angle(f.Joint(t.A, minConfidence), f.Joint(t.Vertex, minConfidence), f.Joint(t.C, minConfidence))
}

// FirstAngle returns the first measurable angle among the triples, so a
// profile can fall back to the other body side when one is occluded.
func FirstAngle(f models.PoseFrame, minConfidence float64, triples ...Triple) models.Reading {
	for _, t := range triples {
		if r := t.AngleIn(f, minConfidence); r.IsMeasured() {
			return r
		}
	}
	return models.Missing()
}

// Center returns the midpoint of the listed joints when all are present. A
// single joint is returned as-is.
func Center(f models.PoseFrame, minConfidence float64, joints ...models.JointID) models.Sample {
	if len(joints) == 0 {
		return models.Absent()
	}
	s := f.Joint(joints[0], minConfidence)
	for _, j := range joints[1:] {
		s = Midpoint(s, f.Joint(j, minConfidence))
	}
	return s
}

func minConf(samples ...models.Sample) float64 {
	c := 1.0
	for _, s := range samples {
		c = math.Min(c, s.Confidence())
	}
	return c
}
