// Package training runs live sessions and turns finished ones into rank
// and recovery updates.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/outbox"
	"github.com/claude/repforge/internal/pipeline"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/ranking"
	"github.com/claude/repforge/internal/recovery"
	"github.com/claude/repforge/internal/rpe"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session IDs and for sessions
// owned by another user.
var ErrSessionNotFound = errors.New("session not found")

// ErrCommitPending is returned when earlier results for the user are still
// queued and could not be delivered. Scoring on top of them would be lost
// once they land.
var ErrCommitPending = errors.New("earlier session results not yet committed")

// Store is the persistence collaborator.
type Store interface {
	GetRankState(ctx context.Context, userID int) (models.RankState, error)
	GetRecoveryStates(ctx context.Context, userID int) ([]models.MuscleRecoveryState, error)
	SaveRecoveryStates(ctx context.Context, userID int, states []models.MuscleRecoveryState) error
	SaveRecoveryInput(ctx context.Context, userID int, in models.DailyRecoveryInput) error
	QueryRecoveryInputs(ctx context.Context, userID int, start, end time.Time) ([]models.DailyRecoveryInput, error)
	RecentSessionVelocities(ctx context.Context, userID, n int) ([]float64, error)
	CommitSession(ctx context.Context, res models.SessionResult) error
	QuerySessionSets(ctx context.Context, userID int, sessionID uuid.UUID) ([]models.SetRow, error)
	QuerySets(ctx context.Context, userID int, start, end time.Time, exercise string) ([]models.SetRow, error)
}

// Outbox holds results whose commit failed.
type Outbox interface {
	Enqueue(res models.SessionResult) error
	PendingFor(userID int) (int, error)
	Flush(ctx context.Context, commit outbox.CommitFunc) (int, error)
}

// Config tunes the service.
type Config struct {
	Pipeline pipeline.Config
	// VelocityHistory is how many past sessions feed the velocity-decline
	// deload trigger.
	VelocityHistory int
	// OutcomeBuffer is the capacity of the Outcomes channel.
	OutcomeBuffer int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Pipeline: pipeline.DefaultConfig(), VelocityHistory: 5, OutcomeBuffer: 16}
}

type active struct {
	userID    int
	startedAt time.Time
	sess      *pipeline.Session
}

// Service owns the live sessions and the per-user rank and recovery state.
type Service struct {
	cfg      Config
	profiles *profiles.Store
	ranking  *ranking.Engine
	recovery *recovery.Engine
	store    Store
	outbox   Outbox
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*active

	// stateMu serializes read-modify-write of rank and recovery state. The
	// caches hold the newest state per user, which may not be committed yet.
	stateMu  sync.Mutex
	rank     map[int]models.RankState
	recStore map[int]recovery.States

	outcomes     chan models.SessionResult
	outcomeDrops atomic.Uint64
}

// New creates a service. outbox may be nil, in which case a failed commit
// is returned as an error.
func New(cfg Config, store *profiles.Store, rank *ranking.Engine, rec *recovery.Engine,
	db Store, outbox Outbox, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		profiles: store,
		ranking:  rank,
		recovery: rec,
		store:    db,
		outbox:   outbox,
		log:      log,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*active),
		rank:     make(map[int]models.RankState),
		recStore: make(map[int]recovery.States),
		outcomes: make(chan models.SessionResult, max(cfg.OutcomeBuffer, 0)),
	}
}

// Outcomes delivers every finished session result. Sends never block;
// results nobody is waiting for are counted by OutcomeDrops.
func (s *Service) Outcomes() <-chan models.SessionResult { return s.outcomes }

// OutcomeDrops returns the number of undelivered session results.
func (s *Service) OutcomeDrops() uint64 { return s.outcomeDrops.Load() }

// Start opens a session for userID.
func (s *Service) Start(userID int, user models.UserContext) uuid.UUID {
	id := uuid.New()
	sess := pipeline.NewSession(s.cfg.Pipeline, user, s.log.With("session", id))

	s.mu.Lock()
	s.sessions[id] = &active{userID: userID, startedAt: s.now(), sess: sess}
	s.mu.Unlock()

	s.log.Info("session started", "session", id, "user_id", userID)
	return id
}

func (s *Service) get(userID int, id uuid.UUID) (*active, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.sessions[id]
	if !ok || a.userID != userID {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return a, nil
}

// Session returns the live pipeline of a session.
func (s *Service) Session(userID int, id uuid.UUID) (*pipeline.Session, error) {
	a, err := s.get(userID, id)
	if err != nil {
		return nil, err
	}
	return a.sess, nil
}

// SetUser replaces the user context of a live session.
func (s *Service) SetUser(userID int, id uuid.UUID, u models.UserContext) error {
	a, err := s.get(userID, id)
	if err != nil {
		return err
	}
	return a.sess.SetUser(u)
}

// SelectExercise activates an exercise profile by name.
func (s *Service) SelectExercise(userID int, id uuid.UUID, exercise string) error {
	a, err := s.get(userID, id)
	if err != nil {
		return err
	}
	p, err := s.profiles.Get(exercise)
	if err != nil {
		return err
	}
	return a.sess.SelectExercise(p)
}

// FrameBatch aggregates the ticks of one pushed batch of frames.
type FrameBatch struct {
	Accepted int                  `json:"accepted"`
	Ignored  int                  `json:"ignored"`
	Phase    string               `json:"phase"`
	Reps     []models.RepEvent    `json:"reps,omitempty"`
	Issues   []models.FormIssue   `json:"issues,omitempty"`
	Notices  []pipeline.Notice    `json:"notices,omitempty"`
	Fatigue  models.FatigueStatus `json:"fatigue"`
}

// PushFrames processes records in order.
func (s *Service) PushFrames(userID int, id uuid.UUID, records []models.FrameRecord) (FrameBatch, error) {
	a, err := s.get(userID, id)
	if err != nil {
		return FrameBatch{}, err
	}
	var b FrameBatch
	for _, rec := range records {
		tk := a.sess.Process(rec.Frame(s.cfg.Pipeline.MinConfidence))
		if !tk.Accepted {
			b.Ignored++
			continue
		}
		b.Accepted++
		b.Phase = tk.PhaseName
		if tk.Rep != nil {
			b.Reps = append(b.Reps, *tk.Rep)
		}
		b.Issues = append(b.Issues, tk.Issues...)
		b.Notices = append(b.Notices, tk.Notices...)
	}
	b.Fatigue = a.sess.Fatigue()
	return b, nil
}

// Fatigue returns the live fatigue status of the current set.
func (s *Service) Fatigue(userID int, id uuid.UUID) (models.FatigueStatus, error) {
	a, err := s.get(userID, id)
	if err != nil {
		return models.FatigueStatus{}, err
	}
	return a.sess.Fatigue(), nil
}

// EndSet closes the current set at the given external load.
func (s *Service) EndSet(userID int, id uuid.UUID, loadKg float64) (models.SetSummary, error) {
	a, err := s.get(userID, id)
	if err != nil {
		return models.SetSummary{}, err
	}
	return a.sess.EndSet(loadKg)
}

// Abort discards the in-flight rep of a session.
func (s *Service) Abort(userID int, id uuid.UUID) error {
	a, err := s.get(userID, id)
	if err != nil {
		return err
	}
	a.sess.Abort()
	return nil
}

// EndSession scores a session, applies its volume to the recovery model
// and commits the result. When the commit fails the result goes to the
// outbox and is still returned. If current state cannot be loaded the
// session stays open so the call can be retried.
func (s *Service) EndSession(ctx context.Context, userID int, id uuid.UUID) (models.SessionResult, error) {
	a, err := s.get(userID, id)
	if err != nil {
		return models.SessionResult{}, err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	rankState, err := s.rankState(ctx, userID)
	if err != nil {
		return models.SessionResult{}, fmt.Errorf("ending session %s: %w", id, err)
	}
	states, err := s.recoveryStates(ctx, userID)
	if err != nil {
		return models.SessionResult{}, fmt.Errorf("ending session %s: %w", id, err)
	}

	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return models.SessionResult{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	sets := a.sess.End()
	endedAt := s.now()
	user := a.sess.User()

	records := make([]models.SetRecord, len(sets))
	for i, sum := range sets {
		records[i] = sum.Record
	}
	outcome, nextRank := s.ranking.Apply(rankState, records, user)
	if !outcome.Computed {
		s.log.Warn("session not ranked", "session", id, "reason", outcome.Reason)
	}

	updates := s.recovery.ApplyVolume(states, recovery.VolumeFromSets(s.profiles, records, endedAt))

	res := models.SessionResult{
		SessionID: id,
		UserID:    userID,
		StartedAt: a.startedAt,
		EndedAt:   endedAt,
		User:      user,
		Sets:      sets,
		Outcome:   outcome,
		Rank:      nextRank,
		Recovery:  ordered(updates),
	}

	s.rank[userID] = nextRank
	s.recStore[userID] = recovery.Merge(states, updates)

	if err := s.commit(ctx, res); err != nil {
		return res, err
	}

	select {
	case s.outcomes <- res:
	default:
		s.outcomeDrops.Add(1)
	}
	s.log.Info("session ended", "session", id, "user_id", userID,
		"sets", len(sets), "delta", outcome.Delta, "tier", nextRank.Tier.String(), "promoted", outcome.Promoted)
	return res, nil
}

func (s *Service) commit(ctx context.Context, res models.SessionResult) error {
	err := s.store.CommitSession(ctx, res)
	if err == nil {
		return nil
	}
	if s.outbox == nil {
		return fmt.Errorf("committing session %s: %w", res.SessionID, err)
	}
	s.log.Warn("commit failed, session queued for retry", "session", res.SessionID, "error", err)
	if qerr := s.outbox.Enqueue(res); qerr != nil {
		return fmt.Errorf("committing session %s: %w", res.SessionID, errors.Join(err, qerr))
	}
	return nil
}

// Commit persists a previously produced result. It is the outbox retry
// target.
func (s *Service) Commit(ctx context.Context, res models.SessionResult) error {
	return s.store.CommitSession(ctx, res)
}

// settle delivers queued results for userID before its state is read from
// the store. Callers hold stateMu.
func (s *Service) settle(ctx context.Context, userID int) error {
	if s.outbox == nil {
		return nil
	}
	n, err := s.outbox.PendingFor(userID)
	if err != nil || n == 0 {
		return err
	}
	done, ferr := s.outbox.Flush(ctx, s.Commit)
	if done > 0 {
		s.log.Info("outbox delivered sessions", "count", done, "user_id", userID)
	}
	if n, err = s.outbox.PendingFor(userID); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%d queued for user %d: %w", n, userID, errors.Join(ErrCommitPending, ferr))
	}
	return nil
}

func (s *Service) rankState(ctx context.Context, userID int) (models.RankState, error) {
	if st, ok := s.rank[userID]; ok {
		return st, nil
	}
	if err := s.settle(ctx, userID); err != nil {
		return models.RankState{}, err
	}
	st, err := s.store.GetRankState(ctx, userID)
	if err != nil {
		return models.RankState{}, fmt.Errorf("loading rank state: %w", err)
	}
	s.rank[userID] = st
	return st, nil
}

func (s *Service) recoveryStates(ctx context.Context, userID int) (recovery.States, error) {
	if st, ok := s.recStore[userID]; ok {
		return st, nil
	}
	if err := s.settle(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.store.GetRecoveryStates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading recovery state: %w", err)
	}
	st := make(recovery.States, len(rows))
	for _, r := range rows {
		st[r.Muscle] = r
	}
	s.recStore[userID] = st
	return st, nil
}

// ordered lists states in heatmap order.
func ordered(st recovery.States) []models.MuscleRecoveryState {
	out := make([]models.MuscleRecoveryState, 0, len(st))
	for _, m := range models.AllMuscles {
		if v, ok := st[m]; ok {
			out = append(out, v)
		}
	}
	return out
}

// ImportVolume applies externally logged training volume to the recovery
// model and stores the touched muscles.
func (s *Service) ImportVolume(ctx context.Context, userID int, events []models.VolumeEvent) ([]models.MuscleRecoveryState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	states, err := s.recoveryStates(ctx, userID)
	if err != nil {
		return nil, err
	}
	updates := s.recovery.ApplyVolume(states, events)
	rows := ordered(updates)
	if err := s.store.SaveRecoveryStates(ctx, userID, rows); err != nil {
		return nil, fmt.Errorf("saving recovery state: %w", err)
	}
	s.recStore[userID] = recovery.Merge(states, updates)
	return rows, nil
}

// RankStatus is the read-only rank view.
type RankStatus struct {
	models.LPOutcome
	NextTierPoints int `json:"next_tier_points"`
}

// RankStatus returns the user's current rank.
func (s *Service) RankStatus(ctx context.Context, userID int) (RankStatus, error) {
	s.stateMu.Lock()
	st, err := s.rankState(ctx, userID)
	s.stateMu.Unlock()
	if err != nil {
		return RankStatus{}, err
	}
	return RankStatus{LPOutcome: s.ranking.Status(st), NextTierPoints: s.ranking.NextThreshold(st.Tier)}, nil
}

// RecoveryView is the heatmap with the composite readiness.
type RecoveryView struct {
	At        time.Time                    `json:"at"`
	Heatmap   []models.MuscleRecoveryState `json:"heatmap"`
	Readiness models.Readiness             `json:"readiness"`
}

// Recovery evaluates the user's recovery state at now.
func (s *Service) Recovery(ctx context.Context, userID int, now time.Time) (RecoveryView, error) {
	s.stateMu.Lock()
	states, err := s.recoveryStates(ctx, userID)
	s.stateMu.Unlock()
	if err != nil {
		return RecoveryView{}, err
	}

	days, err := s.store.QueryRecoveryInputs(ctx, userID, s.recovery.Lookback(now), now)
	if err != nil {
		return RecoveryView{}, fmt.Errorf("loading recovery inputs: %w", err)
	}
	in := s.recovery.Inputs(days, now)
	if s.cfg.VelocityHistory > 0 {
		if in.SessionVelocities, err = s.store.RecentSessionVelocities(ctx, userID, s.cfg.VelocityHistory); err != nil {
			return RecoveryView{}, fmt.Errorf("loading session velocities: %w", err)
		}
	}

	return RecoveryView{
		At:        now,
		Heatmap:   s.recovery.Heatmap(states, now),
		Readiness: s.recovery.Readiness(in, states, now),
	}, nil
}

// RecordRecoveryInput stores one day of externally computed recovery
// signals.
func (s *Service) RecordRecoveryInput(ctx context.Context, userID int, in models.DailyRecoveryInput) error {
	if in.Day.IsZero() {
		in.Day = s.now()
	}
	for _, v := range []*float64{in.HRVScore, in.SleepScore, in.RestingHRScore} {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("recovery scores must be in [0, 100], got %g", *v)
		}
	}
	return s.store.SaveRecoveryInput(ctx, userID, in)
}

// SessionSets returns the stored sets of a finished session.
func (s *Service) SessionSets(ctx context.Context, userID int, id uuid.UUID) ([]models.SetRow, error) {
	return s.store.QuerySessionSets(ctx, userID, id)
}

// RecentSets returns stored sets started in [start, end).
func (s *Service) RecentSets(ctx context.Context, userID int, start, end time.Time, exercise string) ([]models.SetRow, error) {
	return s.store.QuerySets(ctx, userID, start, end, exercise)
}

// Exercises lists the known exercise profiles by name.
func (s *Service) Exercises() []profiles.Profile {
	names := s.profiles.Names()
	out := make([]profiles.Profile, 0, len(names))
	for _, n := range names {
		if p, err := s.profiles.Get(n); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// EstimateRPE maps a velocity loss to effort for an exercise.
func (s *Service) EstimateRPE(lossPct float64, exercise string) rpe.Estimate {
	return rpe.FromVelocityLoss(lossPct, exercise)
}

// ActiveSessions returns the number of live sessions.
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every live session without scoring it.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.sessions {
		a.sess.End()
		s.log.Warn("session discarded at shutdown", "session", id, "user_id", a.userID)
		delete(s.sessions, id)
	}
}
