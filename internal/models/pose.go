package models

import "time"

// JointID names a tracked body landmark.
type JointID string

const (
	JointNose          JointID = "nose"
	JointLeftShoulder  JointID = "left_shoulder"
	JointRightShoulder JointID = "right_shoulder"
	JointLeftElbow     JointID = "left_elbow"
	JointRightElbow    JointID = "right_elbow"
	JointLeftWrist     JointID = "left_wrist"
	JointRightWrist    JointID = "right_wrist"
	JointLeftHip       JointID = "left_hip"
	JointRightHip      JointID = "right_hip"
	JointLeftKnee      JointID = "left_knee"
	JointRightKnee     JointID = "right_knee"
	JointLeftAnkle     JointID = "left_ankle"
	JointRightAnkle    JointID = "right_ankle"
)

// DefaultMinConfidence is the confidence below which a joint counts as absent.
const DefaultMinConfidence = 0.5

// Point is a position in normalized pose space. Y grows downward, as in
// image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample is one joint observation: either Present with a position and
// confidence, or Absent. The zero value is Absent.
type Sample struct {
	present    bool
	pos        Point
	confidence float64
}

// Present returns a sample for an observed joint.
func Present(p Point, confidence float64) Sample {
	return Sample{present: true, pos: p, confidence: confidence}
}

// Absent returns a sample for a joint that was not observed.
func Absent() Sample {
	return Sample{}
}

// Get returns the position and whether the joint is present.
func (s Sample) Get() (Point, bool) {
	return s.pos, s.present
}

// IsPresent reports whether the sample carries a position.
func (s Sample) IsPresent() bool { return s.present }

// Confidence returns the detector confidence, 0 for absent samples.
func (s Sample) Confidence() float64 { return s.confidence }

// Reading is a derived scalar (angle, length, speed) that is either Measured
// or Missing. The zero value is Missing.
type Reading struct {
	ok         bool
	value      float64
	confidence float64
}

// Measured returns a present reading.
func Measured(v, confidence float64) Reading {
	return Reading{ok: true, value: v, confidence: confidence}
}

// Missing returns an absent reading.
func Missing() Reading {
	return Reading{}
}

// Get returns the value and whether it is present.
func (r Reading) Get() (float64, bool) { return r.value, r.ok }

// IsMeasured reports whether the reading carries a value.
func (r Reading) IsMeasured() bool { return r.ok }

// Confidence returns the lowest confidence of the inputs the reading was derived from.
func (r Reading) Confidence() float64 { return r.confidence }

// Observation is the wire shape of a joint sample.
type Observation struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// PoseFrame is one sampled snapshot of body joints.
type PoseFrame struct {
	Timestamp time.Time
	Joints    map[JointID]Sample
}

// NewPoseFrame builds a frame from raw observations. Observations below
// minConfidence become Absent.
func NewPoseFrame(ts time.Time, obs map[JointID]Observation, minConfidence float64) PoseFrame {
	f := PoseFrame{Timestamp: ts, Joints: make(map[JointID]Sample, len(obs))}
	for id, o := range obs {
		if o.Confidence < minConfidence {
			f.Joints[id] = Absent()
			continue
		}
		f.Joints[id] = Present(Point{X: o.X, Y: o.Y}, o.Confidence)
	}
	return f
}

// Joint returns the joint's sample, or Absent when the joint is missing from
// the frame or its confidence is below minConfidence.
func (f PoseFrame) Joint(id JointID, minConfidence float64) Sample {
	s, ok := f.Joints[id]
	if !ok || !s.present || s.confidence < minConfidence {
		return Absent()
	}
	return s
}

// FrameRecord is the serialized form of a PoseFrame used by the replay tool
// and the HTTP frame endpoint.
type FrameRecord struct {
	Timestamp time.Time               `json:"ts"`
	Joints    map[JointID]Observation `json:"joints"`
}

// Frame converts the record into a PoseFrame.
func (r FrameRecord) Frame(minConfidence float64) PoseFrame {
	return NewPoseFrame(r.Timestamp, r.Joints, minConfidence)
}
