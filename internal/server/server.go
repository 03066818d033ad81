package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/claude/repforge/internal/ingest/alpha"
	"github.com/claude/repforge/internal/storage"
	"github.com/claude/repforge/internal/training"
	"github.com/go-chi/chi/v5"
)

// ImportLogs records and lists logged-volume imports.
type ImportLogs interface {
	InsertImportLog(ctx context.Context, l storage.ImportLog) (int64, error)
	QueryImportLogs(ctx context.Context, userID, limit int) ([]storage.ImportLog, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	svc     *training.Service
	alpha   *alpha.Provider
	imports ImportLogs
	users   UserResolver
	log     *slog.Logger
	apiKey  string
	router  chi.Router

	tailnet func(http.Handler) http.Handler
	// identified is the route group behind the identity middleware.
	identified chi.Router
}

// New creates a new Server with all routes configured. imports may be nil.
func New(svc *training.Service, alphaProvider *alpha.Provider, imports ImportLogs, users UserResolver,
	apiKey string, log *slog.Logger) *Server {
	s := &Server{
		svc:     svc,
		alpha:   alphaProvider,
		imports: imports,
		users:   users,
		log:     log,
		apiKey:  apiKey,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

// SetTailscale switches request identity from the dev user to the tailnet
// peer resolved through who. Call before serving.
func (s *Server) SetTailscale(who WhoIser) {
	s.tailnet = TailscaleIdentity(who, s.users, s.log)
}

// MountMCP serves an MCP transport under /mcp behind the same identity
// middleware as the REST API.
func (s *Server) MountMCP(h http.Handler) {
	s.identified.Mount("/mcp", h)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) identity(next http.Handler) http.Handler {
	dev := DevIdentity(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tailnet != nil {
			s.tailnet(next).ServeHTTP(w, r)
			return
		}
		dev.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.identity)
		s.identified = r

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/me", s.handleMe)
			r.Get("/exercises", s.handleExercises)
			r.Get("/rpe", s.handleRPE)
			r.Get("/rank", s.handleRank)
			r.Get("/recovery", s.handleRecovery)
			r.Get("/sets", s.handleQuerySets)
			r.Get("/imports", s.handleImportLogs)
			r.Get("/sessions/{id}/fatigue", s.handleFatigue)
			r.Get("/sessions/{id}/sets", s.handleSessionSets)

			// Mutations (API key required)
			r.Group(func(r chi.Router) {
				r.Use(APIKeyAuth(s.apiKey))
				r.Post("/sessions", s.handleStartSession)
				r.Put("/sessions/{id}/user", s.handleSetUser)
				r.Post("/sessions/{id}/exercise", s.handleSelectExercise)
				r.Post("/sessions/{id}/frames", s.handleFrames)
				r.Post("/sessions/{id}/sets", s.handleEndSet)
				r.Post("/sessions/{id}/abort", s.handleAbort)
				r.Post("/sessions/{id}/end", s.handleEndSession)
				r.Post("/recovery/inputs", s.handleRecoveryInput)
				r.Post("/ingest/alpha", s.handleAlphaIngest)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.svc.ActiveSessions(),
	})
}
