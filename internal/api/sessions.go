package api

import (
	"net/http"
	"strconv"

	"github.com/peterje/termbridge/internal/models"
	ptymgr "github.com/peterje/termbridge/internal/pty"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Registry is the slice of *pty.Registry the session endpoints use.
type Registry interface {
	List() []ptymgr.Info
	Stop(key string) bool
	ReleaseAll()
}

// HistoryStore lists recorded sessions. It may be nil.
type HistoryStore interface {
	Recent(limit int) ([]models.SessionRecord, error)
}

type SessionsHandler struct {
	registry Registry
	history  HistoryStore
	log      *zap.Logger
}

func NewSessionsHandler(registry Registry, history HistoryStore, logger *zap.Logger) *SessionsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionsHandler{registry: registry, history: history, log: logger.Named("api")}
}

type sessionsResponse struct {
	Live    []ptymgr.Info          `json:"live"`
	History []models.SessionRecord `json:"history"`
}

// HandleList serves GET /api/sessions?limit=N.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	resp := sessionsResponse{
		Live:    h.registry.List(),
		History: []models.SessionRecord{},
	}
	if h.history != nil {
		records, err := h.history.Recent(limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.History = records
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleStopAll serves POST /terminal/stop: every terminal process is
// stopped and its history discarded.
func (h *SessionsHandler) HandleStopAll(w http.ResponseWriter, _ *http.Request) {
	h.registry.ReleaseAll()
	h.log.Info("all terminals stopped")
	WriteJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

// HandleStop serves POST /terminal/{key}/stop.
func (h *SessionsHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !h.registry.Stop(key) {
		WriteError(w, http.StatusNotFound, "no session for "+key)
		return
	}
	h.log.Info("terminal stopped", zap.String("key", key))
	WriteJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}
