package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("RepForge", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("RepForge strength training server. Query rank and promotion status, "+
			"per-muscle recovery and readiness, stored sets with velocity and RPE, and the exercise catalog. "+
			"All data is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolGetRankStatus, Handler: h.getRankStatus},
		server.ServerTool{Tool: toolGetRecoveryHeatmap, Handler: h.getRecoveryHeatmap},
		server.ServerTool{Tool: toolEstimateRPE, Handler: h.estimateRPE},
		server.ServerTool{Tool: toolGetSessionSets, Handler: h.getSessionSets},
		server.ServerTool{Tool: toolListExercises, Handler: h.listExercises},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resRecoveryHeatmap, Handler: h.recoveryHeatmap},
		server.ServerResource{Resource: resExerciseCatalog, Handler: h.exerciseCatalog},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resRecoveryHeatmap = mcp.NewResource(
	"repforge://recovery_heatmap",
	"Recovery Heatmap",
	mcp.WithResourceDescription("Current recovery score of every muscle group with the composite readiness score"),
	mcp.WithMIMEType("application/json"),
)

var resExerciseCatalog = mcp.NewResource(
	"repforge://exercise_catalog",
	"Exercise Catalog",
	mcp.WithResourceDescription("All known exercises with their resistance class and muscle involvement"),
	mcp.WithMIMEType("application/json"),
)
