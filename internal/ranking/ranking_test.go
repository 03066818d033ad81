package ranking

import (
	"math/rand"
	"testing"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := profiles.NewStore()
	require.NoError(t, err)
	e, err := New(DefaultConfig(), store)
	require.NoError(t, err)
	return e
}

var lifter = models.UserContext{HeightM: 1.8, BodyweightKg: 80, Sex: models.SexMale}

func squatSet() models.SetRecord {
	return models.SetRecord{
		Exercise:        "back_squat",
		Reps:            5,
		LoadKg:          100,
		EffectiveLoadKg: 100,
		MeanVelocity:    models.KnownVelocity(0.45),
		FormScore:       92,
	}
}

// TestGoldenSession pins the point formula: 10 × (1.25 / 1.5) × 5 × 0.975 × 0.96.
func TestGoldenSession(t *testing.T) {
	e := newEngine(t)
	pts, err := e.SetPoints(squatSet(), lifter)
	require.NoError(t, err)
	assert.InDelta(t, 39.0, pts, 1e-9)

	delta, err := e.SessionDelta([]models.SetRecord{squatSet()}, lifter)
	require.NoError(t, err)
	assert.Equal(t, 39, delta)
}

func TestModifiers(t *testing.T) {
	e := newEngine(t)
	assert.InDelta(t, 1.0, e.VelocityModifier(models.Velocity{}), 1e-9)
	assert.InDelta(t, 1.0, e.VelocityModifier(models.KnownVelocity(0.5)), 1e-9)
	assert.InDelta(t, 1.2, e.VelocityModifier(models.KnownVelocity(2.0)), 1e-9)
	assert.InDelta(t, 0.8, e.VelocityModifier(models.KnownVelocity(0.0)), 1e-9)
	assert.InDelta(t, 0.5, FormModifier(0), 1e-9)
	assert.InDelta(t, 1.0, FormModifier(100), 1e-9)
	assert.InDelta(t, 1.0, FormModifier(140), 1e-9)
}

func TestReferenceRatio(t *testing.T) {
	e := newEngine(t)
	assert.InDelta(t, 1.5, e.ReferenceRatio("back_squat", models.SexMale), 1e-9)
	assert.InDelta(t, 1.0, e.ReferenceRatio("back_squat", models.SexFemale), 1e-9)
	assert.InDelta(t, 1.25, e.ReferenceRatio("back_squat", models.SexUnknown), 1e-9)
	assert.InDelta(t, 1.0, e.ReferenceRatio("cable_fly", models.SexMale), 1e-9)
	assert.InDelta(t, 0.65, e.ReferenceRatio("cable_fly", models.SexFemale), 1e-9)
}

// TestZeroBodyweightNotComputed verifies the state is untouched.
func TestZeroBodyweightNotComputed(t *testing.T) {
	e := newEngine(t)
	state := models.RankState{Points: 250}
	out, next := e.Apply(state, []models.SetRecord{squatSet()}, models.UserContext{Sex: models.SexMale})
	assert.False(t, out.Computed)
	assert.NotEmpty(t, out.Reason)
	assert.Equal(t, 250, out.Total)
	if diff := cmp.Diff(state, next); diff != "" {
		t.Errorf("state changed (-want +got):\n%s", diff)
	}
}

func TestDeterministic(t *testing.T) {
	e := newEngine(t)
	sets := []models.SetRecord{squatSet(), squatSet(), {
		Exercise: "bench_press", Reps: 8, LoadKg: 70, EffectiveLoadKg: 70, FormScore: 75,
	}}
	state := models.RankState{Points: 1234, Tier: models.TierGold}
	a, sa := e.Apply(state, sets, lifter)
	b, sb := e.Apply(state, sets, lifter)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("outcome differs:\n%s", diff)
	}
	if diff := cmp.Diff(sa, sb); diff != "" {
		t.Errorf("state differs:\n%s", diff)
	}
}

// TestPointsMonotonic verifies points and displayed tier never decrease.
func TestPointsMonotonic(t *testing.T) {
	e := newEngine(t)
	rng := rand.New(rand.NewSource(7))
	state := models.RankState{}
	for i := 0; i < 300; i++ {
		set := squatSet()
		set.Reps = rng.Intn(10)
		set.EffectiveLoadKg = rng.Float64() * 200
		set.FormScore = rng.Float64() * 100
		out, next := e.Apply(state, []models.SetRecord{set}, lifter)
		require.True(t, out.Computed)
		require.GreaterOrEqual(t, out.Delta, 0)
		require.GreaterOrEqual(t, next.Points, state.Points)
		require.GreaterOrEqual(t, next.Tier, state.Tier)
		require.LessOrEqual(t, next.Tier, e.TierFor(next.Points))
		state = next
	}
}

func TestTierFor(t *testing.T) {
	e := newEngine(t)
	tests := []struct {
		points int
		want   models.Tier
	}{
		{0, models.TierIron},
		{299, models.TierIron},
		{300, models.TierBronze},
		{1199, models.TierGold},
		{5200, models.TierChampion},
		{99999, models.TierChampion},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.TierFor(tt.points), "points %d", tt.points)
	}
}

// TestPromotionSeries walks a lifter across the Bronze threshold.
func TestPromotionSeries(t *testing.T) {
	e := newEngine(t)
	state := models.RankState{Points: 290}

	state, promoted := e.Advance(state, 39)
	require.False(t, promoted)
	require.True(t, state.Series.Open, "series should open when raw tier passes displayed tier")
	assert.Equal(t, models.TierBronze, state.Series.Target)
	assert.Equal(t, 39, state.Series.Baseline)
	assert.Equal(t, 0, state.Series.Wins)
	assert.Equal(t, models.TierIron, state.Tier)

	for i, d := range []int{40, 41} {
		state, promoted = e.Advance(state, d)
		require.False(t, promoted)
		assert.Equal(t, i+1, state.Series.Wins)
	}
	state, promoted = e.Advance(state, 41)
	require.True(t, promoted, "third consecutive non-decreasing session promotes")
	assert.Equal(t, models.TierBronze, state.Tier)
	assert.False(t, state.Series.Open)
	assert.Equal(t, 290+39+40+41+41, state.Points)

	state, promoted = e.Advance(state, 50)
	assert.False(t, promoted, "promotion happens exactly once")
	assert.False(t, state.Series.Open)
}

// TestSeriesResetKeepsPoints verifies a weaker session resets the series but
// never takes points away.
func TestSeriesResetKeepsPoints(t *testing.T) {
	e := newEngine(t)
	state := models.RankState{Points: 290}
	state, _ = e.Advance(state, 39)
	state, _ = e.Advance(state, 45)
	require.Equal(t, 1, state.Series.Wins)

	before := state.Points
	state, promoted := e.Advance(state, 30)
	assert.False(t, promoted)
	assert.Equal(t, 0, state.Series.Wins)
	assert.Equal(t, 30, state.Series.Baseline)
	assert.Equal(t, before+30, state.Points)
	assert.True(t, state.Series.Open)
}

// TestSeriesReopensWhenStillBehind verifies a lifter two tiers ahead gets a
// fresh series after each promotion.
func TestSeriesReopensWhenStillBehind(t *testing.T) {
	e := newEngine(t)
	state := models.RankState{Points: 650}
	state, _ = e.Advance(state, 100) // 750: raw Silver, displayed Iron
	require.Equal(t, models.TierBronze, state.Series.Target)
	for range 3 {
		state, _ = e.Advance(state, 100)
	}
	require.Equal(t, models.TierBronze, state.Tier)
	require.False(t, state.Series.Open)

	state, _ = e.Advance(state, 100)
	assert.True(t, state.Series.Open)
	assert.Equal(t, models.TierSilver, state.Series.Target)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.TierThresholds = []int{0, 10}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.TierThresholds[3] = bad.TierThresholds[2]
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.WinsNeeded = 0
	assert.Error(t, bad.Validate())
}
