package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/pipeline"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/training"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxFrameBody bounds one frame batch upload.
const maxFrameBody = 8 << 20

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var user models.UserContext
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}
	if !validUser(w, user) {
		return
	}
	id := s.svc.Start(userIDFromContext(r), user)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id.String()})
}

func validUser(w http.ResponseWriter, user models.UserContext) bool {
	if user.HeightM < 0 || user.BodyweightKg < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "height and bodyweight must not be negative"})
		return false
	}
	return true
}

func (s *Server) handleSetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var user models.UserContext
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if !validUser(w, user) {
		return
	}
	if err := s.svc.SetUser(userIDFromContext(r), id, user); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSelectExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var body struct {
		Exercise string `json:"exercise"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Exercise == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exercise is required"})
		return
	}
	if err := s.svc.SelectExercise(userIDFromContext(r), id, body.Exercise); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"exercise": body.Exercise})
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var frames []models.FrameRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBody)).Decode(&frames); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	batch, err := s.svc.PushFrames(userIDFromContext(r), id, frames)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleFatigue(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	st, err := s.svc.Fatigue(userIDFromContext(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEndSet(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var body struct {
		LoadKg float64 `json:"load_kg"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}
	if body.LoadKg < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "load_kg must not be negative"})
		return
	}
	sum, err := s.svc.EndSet(userIDFromContext(r), id, body.LoadKg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Abort(userIDFromContext(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	res, err := s.svc.EndSession(r.Context(), userIDFromContext(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionSets(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sets, err := s.svc.SessionSets(r.Context(), userIDFromContext(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(sets) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no stored sets for session"})
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handleQuerySets(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sets, err := s.svc.RecentSets(r.Context(), userIDFromContext(r), start, end, r.URL.Query().Get("exercise"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sets == nil {
		sets = []models.SetRow{}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.RankStatus(r.Context(), userIDFromContext(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at must be RFC 3339"})
			return
		}
		at = t
	}
	view, err := s.svc.Recovery(r.Context(), userIDFromContext(r), at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRecoveryInput(w http.ResponseWriter, r *http.Request) {
	var in models.DailyRecoveryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := s.svc.RecordRecoveryInput(r.Context(), userIDFromContext(r), in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRPE(w http.ResponseWriter, r *http.Request) {
	loss, err := strconv.ParseFloat(r.URL.Query().Get("loss"), 64)
	if err != nil || loss < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "loss must be a non-negative percentage"})
		return
	}
	writeJSON(w, http.StatusOK, s.svc.EstimateRPE(loss, r.URL.Query().Get("exercise")))
}

func (s *Server) handleExercises(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Exercises())
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps service errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, training.ErrSessionNotFound), errors.Is(err, profiles.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrSetInProgress),
		errors.Is(err, pipeline.ErrNoExercise),
		errors.Is(err, pipeline.ErrSessionEnded):
		status = http.StatusConflict
	case errors.Is(err, training.ErrCommitPending):
		status = http.StatusServiceUnavailable
	default:
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 7 days
		end = time.Now()
		start = end.AddDate(0, 0, -7)
		return
	}

	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
	}

	if endStr == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
			}
			// End of day for date-only
			end = end.Add(24 * time.Hour)
		}
	}
	return start, end, nil
}
