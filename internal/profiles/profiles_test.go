package profiles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/claude/repforge/internal/models"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestBuiltinProfilesValid verifies every built-in profile passes validation.
func TestBuiltinProfilesValid(t *testing.T) {
	for _, p := range Builtin() {
		if err := p.Validate(); err != nil {
			t.Errorf("builtin %s invalid: %v", p.Name, err)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	s, err := NewStore()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("underwater_basket_weaving"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("back_squat"); err != nil {
		t.Errorf("back_squat: %v", err)
	}
}

const customYAML = `
profiles:
  - name: goblet_squat
    tracked:
      - {a: left_hip, vertex: left_knee, c: left_ankle}
    bar_joints: [left_wrist, right_wrist]
    top_angle: 170
    bottom_angle: 80
    hysteresis: 4
    tempo:
      eccentric: 3s
      concentric: 1s
    max_bar_path: 0.1
    resistance: linear
    muscles:
      quads: 1
    reference: {male: 0.5, female: 0.35}
    issues:
      - {code: bar_drift, kind: bar_drift, minor: 0.1, major: 0.2}
  - name: back_squat
    tracked:
      - {a: right_hip, vertex: right_knee, c: right_ankle}
    bar_joints: [right_shoulder]
    top_angle: 175
    bottom_angle: 95
    hysteresis: 5
    resistance: linear
`

// TestLoadFileMergesBuiltins verifies file profiles add to and replace built-ins.
func TestLoadFileMergesBuiltins(t *testing.T) {
	s, err := LoadFile(writeTemp(t, customYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := s.Get("goblet_squat")
	if err != nil {
		t.Fatal(err)
	}
	if g.Tempo.Eccentric != 3*time.Second {
		t.Errorf("eccentric = %v, want 3s", g.Tempo.Eccentric)
	}
	if g.Muscles[models.MuscleQuads] != 1 {
		t.Errorf("quads weight = %f, want 1", g.Muscles[models.MuscleQuads])
	}
	bs, _ := s.Get("back_squat")
	if bs.TopAngle != 175 {
		t.Errorf("back_squat top = %f, want override 175", bs.TopAngle)
	}
	if _, err := s.Get("deadlift"); err != nil {
		t.Errorf("builtin deadlift lost: %v", err)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	bad := `
profiles:
  - name: broken
    tracked:
      - {a: left_hip, vertex: left_knee, c: left_ankle}
    bar_joints: [left_wrist]
    top_angle: 90
    bottom_angle: 170
    hysteresis: 5
    resistance: linear
`
	if _, err := LoadFile(writeTemp(t, bad)); err == nil {
		t.Error("expected error for inverted angles")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNames(t *testing.T) {
	s, _ := NewStore()
	names := s.Names()
	if len(names) != len(Builtin()) {
		t.Fatalf("names = %d, want %d", len(names), len(Builtin()))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}
