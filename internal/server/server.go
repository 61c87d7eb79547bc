package server

import (
	"net/http"
	"time"

	"github.com/peterje/termbridge/internal/api"
	"github.com/peterje/termbridge/internal/metrics"
	"github.com/peterje/termbridge/internal/models"
	ptymgr "github.com/peterje/termbridge/internal/pty"
	"github.com/peterje/termbridge/internal/ws"
	"go.uber.org/zap"
)

type Deps struct {
	Registry  *ptymgr.Registry
	Commands  map[string]ptymgr.Command
	CLIStatus []models.CLIStatus
	// History is nil when session storage is disabled.
	History      api.HistoryStore
	Metrics      *metrics.Metrics
	PollInterval time.Duration
	Logger       *zap.Logger
}

type Server struct {
	mux  *http.ServeMux
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	s := &Server{
		mux:  http.NewServeMux(),
		deps: deps,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the server wrapped in request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	log := s.deps.Logger.Named("http")
	return LoggingMiddleware(log, RecoveryMiddleware(log, s))
}

func (s *Server) routes() {
	sessions := api.NewSessionsHandler(s.deps.Registry, s.deps.History, s.deps.Logger)
	wsHandler := ws.NewHandler(s.deps.Registry, ws.Options{
		Commands:     s.deps.Commands,
		PollInterval: s.deps.PollInterval,
		Logger:       s.deps.Logger,
		Metrics:      s.deps.Metrics,
	})

	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Sessions
	s.mux.HandleFunc("GET /api/sessions", sessions.HandleList)
	s.mux.HandleFunc("POST /terminal/stop", sessions.HandleStopAll)
	s.mux.HandleFunc("POST /terminal/{key}/stop", sessions.HandleStop)

	// WebSocket
	s.mux.Handle("GET /ws/terminal/{key}", wsHandler)

	// Metrics
	s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	commands := s.deps.CLIStatus
	if commands == nil {
		commands = []models.CLIStatus{}
	}
	resp := models.HealthResponse{
		Status:   "ok",
		Commands: commands,
		Storage:  s.deps.History != nil,
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
