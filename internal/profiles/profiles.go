// Package profiles holds per-exercise target profiles: which angle drives
// rep detection, target angles, tempo, bar-path envelope, resistance class,
// trained muscles, ranking reference ratios and form issue rules.
package profiles

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/claude/repforge/internal/geometry"
	"github.com/claude/repforge/internal/models"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no profile exists for an exercise.
var ErrNotFound = errors.New("exercise profile not found")

// RuleKind selects how an issue rule measures a frame.
type RuleKind string

const (
	// RuleAngleBelow flags an angle smaller than the thresholds.
	RuleAngleBelow RuleKind = "angle_below"
	// RuleAngleAbove flags an angle larger than the thresholds.
	RuleAngleAbove RuleKind = "angle_above"
	// RuleLean flags a segment leaning from vertical by more than the thresholds.
	RuleLean RuleKind = "lean"
	// RuleBarDrift flags lateral bar drift (torso-normalized) above the thresholds.
	RuleBarDrift RuleKind = "bar_drift"
)

// Segment is a pair of joints, e.g. shoulder to hip.
type Segment struct {
	From models.JointID `yaml:"from" json:"from"`
	To   models.JointID `yaml:"to" json:"to"`
}

// IssueRule flags a discrete form fault. Minor and Major are thresholds in
// the rule's unit; Major is always the more extreme one.
type IssueRule struct {
	Code     string            `yaml:"code" json:"code"`
	Kind     RuleKind          `yaml:"kind" json:"kind"`
	Angles   []geometry.Triple `yaml:"angles,omitempty" json:"angles,omitempty"`
	Segments []Segment         `yaml:"segments,omitempty" json:"segments,omitempty"`
	Minor    float64           `yaml:"minor" json:"minor"`
	Major    float64           `yaml:"major" json:"major"`
}

// Tempo holds target phase durations.
type Tempo struct {
	Eccentric  time.Duration `yaml:"eccentric" json:"eccentric"`
	Concentric time.Duration `yaml:"concentric" json:"concentric"`
}

// ReferenceRatios are the load/bodyweight ratios that earn the base point
// rate, by sex.
type ReferenceRatios struct {
	Male   float64 `yaml:"male" json:"male"`
	Female float64 `yaml:"female" json:"female"`
}

// Profile describes one exercise.
type Profile struct {
	Name        string            `yaml:"name" json:"name"`
	Tracked     []geometry.Triple `yaml:"tracked" json:"tracked"`
	BarJoints   []models.JointID  `yaml:"bar_joints" json:"bar_joints"`
	Torso       []Segment         `yaml:"torso" json:"torso"`
	TopAngle    float64           `yaml:"top_angle" json:"top_angle"`
	BottomAngle float64           `yaml:"bottom_angle" json:"bottom_angle"`
	Hysteresis  float64           `yaml:"hysteresis" json:"hysteresis"`
	// StartsAtBottom marks lifts whose first rep begins from the bottom
	// position, such as pulls from the floor.
	StartsAtBottom bool                      `yaml:"starts_at_bottom" json:"starts_at_bottom"`
	Tempo          Tempo                     `yaml:"tempo" json:"tempo"`
	MaxBarPath     float64                   `yaml:"max_bar_path" json:"max_bar_path"`
	Resistance     models.ResistanceClass    `yaml:"resistance" json:"resistance"`
	Muscles        map[models.Muscle]float64 `yaml:"muscles" json:"muscles"`
	Reference      ReferenceRatios           `yaml:"reference" json:"reference"`
	Issues         []IssueRule               `yaml:"issues" json:"issues"`
}

// Validate checks the profile is usable by the pipeline.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Tracked) == 0 {
		return fmt.Errorf("%s: tracked angle is required", p.Name)
	}
	if len(p.BarJoints) == 0 {
		return fmt.Errorf("%s: bar_joints is required", p.Name)
	}
	if p.TopAngle <= p.BottomAngle {
		return fmt.Errorf("%s: top_angle must exceed bottom_angle", p.Name)
	}
	if p.Hysteresis <= 0 || p.TopAngle-p.BottomAngle <= 4*p.Hysteresis {
		return fmt.Errorf("%s: hysteresis must be positive and below a quarter of the range", p.Name)
	}
	switch p.Resistance {
	case models.ResistanceLinear, models.ResistanceAscending, models.ResistanceDescending:
	default:
		return fmt.Errorf("%s: unknown resistance class %q", p.Name, p.Resistance)
	}
	for _, r := range p.Issues {
		if err := r.validate(); err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
	}
	return nil
}

func (r IssueRule) validate() error {
	switch r.Kind {
	case RuleAngleBelow:
		if len(r.Angles) == 0 || r.Major > r.Minor {
			return fmt.Errorf("rule %s: needs angles and major <= minor", r.Code)
		}
	case RuleAngleAbove:
		if len(r.Angles) == 0 || r.Major < r.Minor {
			return fmt.Errorf("rule %s: needs angles and major >= minor", r.Code)
		}
	case RuleLean:
		if len(r.Segments) == 0 || r.Major < r.Minor {
			return fmt.Errorf("rule %s: needs segments and major >= minor", r.Code)
		}
	case RuleBarDrift:
		if r.Major < r.Minor {
			return fmt.Errorf("rule %s: major must be >= minor", r.Code)
		}
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.Code, r.Kind)
	}
	return nil
}

// Store is an in-memory exercise profile catalog.
type Store struct {
	profiles map[string]Profile
}

// NewStore returns a store holding the built-in profiles plus extra, which
// replace built-ins of the same name.
func NewStore(extra ...Profile) (*Store, error) {
	s := &Store{profiles: make(map[string]Profile)}
	for _, p := range Builtin() {
		s.profiles[p.Name] = p
	}
	for _, p := range extra {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid profile: %w", err)
		}
		s.profiles[p.Name] = p
	}
	return s, nil
}

type file struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadFile builds a store from the built-ins and the profiles in a YAML file.
// An empty path returns the built-ins only.
func LoadFile(path string) (*Store, error) {
	if path == "" {
		return NewStore()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing profiles file: %w", err)
	}
	return NewStore(f.Profiles...)
}

// Get returns the profile for an exercise.
func (s *Store) Get(name string) (Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p, nil
}

// Names lists the known exercises in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for n := range s.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
