package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func squatRecord(at time.Time, kneeDeg float64) models.FrameRecord {
	rad := kneeDeg * math.Pi / 180
	hipX, hipY := 0.5+0.2*math.Sin(rad), 0.7+0.2*math.Cos(rad)
	obs := func(x, y float64) models.Observation { return models.Observation{X: x, Y: y, Confidence: 0.9} }
	return models.FrameRecord{Timestamp: at, Joints: map[models.JointID]models.Observation{
		models.JointLeftAnkle:     obs(0.5, 0.9),
		models.JointLeftKnee:      obs(0.5, 0.7),
		models.JointLeftHip:       obs(hipX, hipY),
		models.JointLeftShoulder:  obs(0.5, hipY-0.3),
		models.JointRightShoulder: obs(0.5, hipY-0.3),
	}}
}

// recording writes n two-second squat reps at 30 fps as JSONL.
func recording(t *testing.T, n int) string {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	k := 0
	for range n {
		for i := range 60 {
			at := t0.Add(time.Duration(k) * time.Second / 30)
			require.NoError(t, enc.Encode(squatRecord(at, 130+45*math.Cos(2*math.Pi*float64(i)/60))))
			k++
		}
	}
	require.NoError(t, enc.Encode(squatRecord(t0.Add(time.Duration(k)*time.Second/30), 175)))
	return buf.String()
}

func TestReplayFromStdin(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-height", "1.8", "-load", "100"},
		strings.NewReader(recording(t, 3)), &out, &errOut)
	require.NoError(t, err, errOut.String())

	var reps []string
	for _, l := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(l, "rep ") {
			reps = append(reps, l)
		}
	}
	require.Len(t, reps, 3)
	assert.True(t, strings.HasPrefix(reps[0], "rep 1:"))
	assert.Contains(t, reps[0], "m/s")
	assert.Contains(t, out.String(), "set: back_squat 3 reps at 100.0 kg")
}

func TestReplayWithRank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "squat.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(recording(t, 5)), 0o644))

	var out, errOut bytes.Buffer
	err := run(context.Background(),
		[]string{"-in", path, "-height", "1.8", "-bodyweight", "80", "-sex", "male", "-load", "100", "-rank"},
		nil, &out, &errOut)
	require.NoError(t, err, errOut.String())
	assert.Contains(t, out.String(), "rank: +")
	assert.Contains(t, out.String(), "recovery: quads")
}

func TestReplayRankWithoutBodyweight(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-height", "1.8", "-load", "60", "-rank"},
		strings.NewReader(recording(t, 2)), &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "rank: not computed")
}

func TestReplayFlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown exercise", []string{"-exercise", "curling"}},
		{"bad sex", []string{"-sex", "x"}},
		{"negative load", []string{"-load", "-5"}},
		{"zero speed", []string{"-realtime", "-speed", "0"}},
		{"missing file", []string{"-in", "/nonexistent/frames.jsonl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestReplaySkipsBadLines(t *testing.T) {
	lines := strings.SplitAfter(recording(t, 2), "\n")
	in := strings.Join(lines[:10], "") + "{\"ts\": not-json}\n" + strings.Join(lines[10:], "")

	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-height", "1.8"}, strings.NewReader(in), &out, &errOut)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "set: back_squat 2 reps")
	assert.Contains(t, errOut.String(), "1 malformed frame lines skipped")
	assert.Contains(t, errOut.String(), "line 11")
}

func TestReplayRealtime(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-realtime", "-speed", "20", "-height", "1.8"},
		strings.NewReader(recording(t, 2)), &out, &errOut)
	require.NoError(t, err, errOut.String())
	assert.Contains(t, out.String(), "set: back_squat")
	assert.Contains(t, out.String(), "realtime: 121 frames published")
}
