package mcp

import (
	"context"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 7 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -7)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolGetRankStatus = mcp.NewTool("get_rank_status",
	mcp.WithDescription("Current ranking points, tier, the points needed for the next tier, and any active promotion series."),
)

var toolGetRecoveryHeatmap = mcp.NewTool("get_recovery_heatmap",
	mcp.WithDescription("Per-muscle recovery scores (0-100) with weekly set counts, plus the composite readiness score and deload recommendation."),
	mcp.WithString("at", mcp.Description("Evaluation time (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
)

var toolEstimateRPE = mcp.NewTool("estimate_rpe",
	mcp.WithDescription("Estimate RPE and reps in reserve from the velocity loss within a set."),
	mcp.WithNumber("velocity_loss_pct", mcp.Required(), mcp.Description("Velocity loss from the best rep of the set, in percent")),
	mcp.WithString("exercise", mcp.Description("Exercise name (e.g. back_squat). Selects the exercise-specific curve when one exists.")),
)

var toolGetSessionSets = mcp.NewTool("get_session_sets",
	mcp.WithDescription("Stored sets with reps, load, mean velocity, velocity loss, form score and RPE. Give session_id for one session, or a date range."),
	mcp.WithString("session_id", mcp.Description("Session UUID. When set, start/end/exercise are ignored.")),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
	mcp.WithString("exercise", mcp.Description("Filter by exercise name (e.g. bench_press)")),
)

var toolListExercises = mcp.NewTool("list_exercises",
	mcp.WithDescription("List all known exercises with their resistance class and the muscles they train."),
)

// --- Tool handlers ---

func (h *handlers) getRankStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.ds.RankStatus(ctx, UserIDFromContext(ctx))
	if err != nil {
		h.log.Error("mcp get_rank_status", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(status)
}

func (h *handlers) getRecoveryHeatmap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at := time.Now()
	if s := req.GetString("at", ""); s != "" {
		t, err := parseFlexTime(s)
		if err != nil {
			return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
		}
		at = t
	}

	view, err := h.ds.Recovery(ctx, UserIDFromContext(ctx), at)
	if err != nil {
		h.log.Error("mcp get_recovery_heatmap", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(view)
}

func (h *handlers) estimateRPE(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loss, err := req.RequireFloat("velocity_loss_pct")
	if err != nil {
		return mcp.NewToolResultError("velocity_loss_pct parameter is required"), nil
	}
	if loss < 0 {
		return mcp.NewToolResultError("velocity_loss_pct must not be negative"), nil
	}

	est, err := h.ds.RPE(ctx, loss, req.GetString("exercise", ""))
	if err != nil {
		h.log.Error("mcp estimate_rpe", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(est)
}

func (h *handlers) getSessionSets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := UserIDFromContext(ctx)

	var (
		sets []models.SetRow
		err  error
	)
	if idStr := req.GetString("session_id", ""); idStr != "" {
		id, perr := uuid.Parse(idStr)
		if perr != nil {
			return mcp.NewToolResultError("invalid session_id: " + perr.Error()), nil
		}
		sets, err = h.ds.SessionSets(ctx, uid, id)
	} else {
		start, end, terr := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
		if terr != nil {
			return mcp.NewToolResultError("invalid date format: " + terr.Error()), nil
		}
		sets, err = h.ds.RecentSets(ctx, uid, start, end, req.GetString("exercise", ""))
	}
	if err != nil {
		h.log.Error("mcp get_session_sets", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if sets == nil {
		sets = []models.SetRow{}
	}
	return jsonResult(sets)
}

func (h *handlers) listExercises(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := h.ds.ListExercises(ctx)
	if err != nil {
		h.log.Error("mcp list_exercises", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(catalog(list))
}

// exerciseEntry is the compact catalog view of a profile.
type exerciseEntry struct {
	Name       string                    `json:"name"`
	Resistance models.ResistanceClass    `json:"resistance"`
	Muscles    map[models.Muscle]float64 `json:"muscles"`
}

func catalog(list []profiles.Profile) []exerciseEntry {
	out := make([]exerciseEntry, len(list))
	for i, p := range list {
		out[i] = exerciseEntry{Name: p.Name, Resistance: p.Resistance, Muscles: p.Muscles}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
