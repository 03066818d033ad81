package models

import (
	"encoding/json"
	"testing"
	"time"
)

// TestNewPoseFrameThreshold verifies low-confidence observations become Absent.
func TestNewPoseFrameThreshold(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := NewPoseFrame(ts, map[JointID]Observation{
		JointLeftHip:  {X: 0.5, Y: 0.5, Confidence: 0.9},
		JointLeftKnee: {X: 0.5, Y: 0.7, Confidence: 0.2},
	}, DefaultMinConfidence)

	if p, ok := f.Joint(JointLeftHip, DefaultMinConfidence).Get(); !ok || p.Y != 0.5 {
		t.Errorf("hip = %v/%v, want present at y=0.5", p, ok)
	}
	if f.Joint(JointLeftKnee, DefaultMinConfidence).IsPresent() {
		t.Error("knee below threshold should be absent")
	}
	if f.Joint(JointLeftAnkle, DefaultMinConfidence).IsPresent() {
		t.Error("unobserved ankle should be absent")
	}
	// A stricter caller threshold hides a joint the frame kept.
	if f.Joint(JointLeftHip, 0.95).IsPresent() {
		t.Error("hip should be absent at threshold 0.95")
	}
}

// TestZeroValuesAreAbsent verifies the zero values of the tagged unions.
func TestZeroValuesAreAbsent(t *testing.T) {
	var s Sample
	if s.IsPresent() {
		t.Error("zero Sample should be absent")
	}
	var r Reading
	if r.IsMeasured() {
		t.Error("zero Reading should be missing")
	}
	if v := (Velocity{}); v.Available {
		t.Error("zero Velocity should be unavailable")
	}
}

// TestTierJSON verifies tiers serialize by name.
func TestTierJSON(t *testing.T) {
	b, err := json.Marshal(TierPlatinum)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"platinum"` {
		t.Errorf("marshal = %s, want \"platinum\"", b)
	}
	var got Tier
	if err := json.Unmarshal([]byte(`"master"`), &got); err != nil {
		t.Fatal(err)
	}
	if got != TierMaster {
		t.Errorf("unmarshal = %v, want master", got)
	}
	if err := json.Unmarshal([]byte(`"wood"`), &got); err == nil {
		t.Error("expected error for unknown tier")
	}
}

// TestVelocityPtr verifies unavailable velocities map to NULL.
func TestVelocityPtr(t *testing.T) {
	if VelocityPtr(Velocity{}) != nil {
		t.Error("unavailable velocity should be nil")
	}
	if p := VelocityPtr(KnownVelocity(0.4)); p == nil || *p != 0.4 {
		t.Errorf("VelocityPtr = %v, want 0.4", p)
	}
}
