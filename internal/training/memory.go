package training

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/storage"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for offline replays and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.SessionRow
	sets     []models.SetRow
	rank     map[int]models.RankState
	rankAt   map[int]time.Time
	recovery map[int]map[models.Muscle]models.MuscleRecoveryState
	inputs   map[int][]models.DailyRecoveryInput

	// FailCommits makes CommitSession return this error when set.
	FailCommits error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]models.SessionRow),
		rank:     make(map[int]models.RankState),
		rankAt:   make(map[int]time.Time),
		recovery: make(map[int]map[models.Muscle]models.MuscleRecoveryState),
		inputs:   make(map[int][]models.DailyRecoveryInput),
	}
}

func (m *MemoryStore) GetRankState(_ context.Context, userID int) (models.RankState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rank[userID], nil
}

func (m *MemoryStore) GetRecoveryStates(_ context.Context, userID int) ([]models.MuscleRecoveryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MuscleRecoveryState
	for _, s := range m.recovery[userID] {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) SaveRecoveryStates(_ context.Context, userID int, states []models.MuscleRecoveryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveRecovery(userID, states)
	return nil
}

func (m *MemoryStore) saveRecovery(userID int, states []models.MuscleRecoveryState) {
	cur := m.recovery[userID]
	if cur == nil {
		cur = make(map[models.Muscle]models.MuscleRecoveryState)
		m.recovery[userID] = cur
	}
	for _, s := range states {
		if old, ok := cur[s.Muscle]; ok && old.LastTrained.After(s.LastTrained) {
			continue
		}
		cur[s.Muscle] = s
	}
}

func (m *MemoryStore) SaveRecoveryInput(_ context.Context, userID int, in models.DailyRecoveryInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in.Day = in.Day.UTC().Truncate(24 * time.Hour)
	days := m.inputs[userID]
	i := slices.IndexFunc(days, func(d models.DailyRecoveryInput) bool { return d.Day.Equal(in.Day) })
	if i < 0 {
		days = append(days, in)
	} else {
		keep := func(dst **float64, src *float64) {
			if src != nil {
				*dst = src
			}
		}
		keep(&days[i].HRVScore, in.HRVScore)
		keep(&days[i].SleepScore, in.SleepScore)
		keep(&days[i].RestingHRScore, in.RestingHRScore)
		keep(&days[i].HRVMs, in.HRVMs)
		keep(&days[i].SleepHours, in.SleepHours)
	}
	slices.SortFunc(days, func(a, b models.DailyRecoveryInput) int { return a.Day.Compare(b.Day) })
	m.inputs[userID] = days
	return nil
}

func (m *MemoryStore) QueryRecoveryInputs(_ context.Context, userID int, start, end time.Time) ([]models.DailyRecoveryInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start = start.UTC().Truncate(24 * time.Hour)
	var out []models.DailyRecoveryInput
	for _, d := range m.inputs[userID] {
		if !d.Day.Before(start) && !d.Day.After(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecentSessionVelocities(_ context.Context, userID, n int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type sv struct {
		at  time.Time
		sum float64
		n   int
	}
	by := map[uuid.UUID]*sv{}
	for _, r := range m.sets {
		if r.UserID != userID || r.MeanVelocity == nil {
			continue
		}
		v := by[r.SessionID]
		if v == nil {
			v = &sv{at: m.sessions[r.SessionID].EndedAt}
			by[r.SessionID] = v
		}
		v.sum += *r.MeanVelocity
		v.n++
	}
	all := make([]*sv, 0, len(by))
	for _, v := range by {
		all = append(all, v)
	}
	slices.SortFunc(all, func(a, b *sv) int { return a.at.Compare(b.at) })
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]float64, len(all))
	for i, v := range all {
		out[i] = v.sum / float64(v.n)
	}
	return out, nil
}

func (m *MemoryStore) CommitSession(_ context.Context, res models.SessionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCommits != nil {
		return m.FailCommits
	}
	if _, ok := m.sessions[res.SessionID]; ok {
		return nil
	}
	sess, sets, _ := storage.SessionRows(res)
	m.sessions[res.SessionID] = sess
	m.sets = append(m.sets, sets...)
	// Rank is only replaced by a session that ended no earlier.
	if res.Outcome.Computed && !m.rankAt[res.UserID].After(res.EndedAt) {
		m.rank[res.UserID] = res.Rank
		m.rankAt[res.UserID] = res.EndedAt
	}
	m.saveRecovery(res.UserID, res.Recovery)
	return nil
}

func (m *MemoryStore) QuerySessionSets(_ context.Context, userID int, sessionID uuid.UUID) ([]models.SetRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SetRow
	for _, r := range m.sets {
		if r.UserID == userID && r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) QuerySets(_ context.Context, userID int, start, end time.Time, exercise string) ([]models.SetRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SetRow
	for _, r := range m.sets {
		if r.UserID != userID || r.StartedAt.Before(start) || !r.StartedAt.Before(end) {
			continue
		}
		if exercise != "" && r.Exercise != exercise {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.SetRow) int { return cmp.Compare(b.StartedAt.UnixNano(), a.StartedAt.UnixNano()) })
	return out, nil
}

// Sessions returns the number of committed sessions.
func (m *MemoryStore) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
