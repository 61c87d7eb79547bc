package ws

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peterje/termbridge/internal/metrics"
	ptymgr "github.com/peterje/termbridge/internal/pty"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 50 * time.Millisecond

	// CloseReplaced is sent when another connection attaches to the same
	// session.
	CloseReplaced = 4000

	writeWait     = 10 * time.Second
	exitDrainWait = 500 * time.Millisecond
	maxMessage    = 1 << 20
	// Close frame payloads are capped at 125 bytes, two of which hold the code.
	maxCloseReason = 123
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Sessions hands out the live session for a key.
type Sessions interface {
	Acquire(key string, cmd ptymgr.Command) (*ptymgr.Session, error)
}

type Options struct {
	// Commands maps each servable key to the command it spawns.
	Commands     map[string]ptymgr.Command
	PollInterval time.Duration
	Logger       *zap.Logger
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Handler serves GET /ws/terminal/{key}, relaying a terminal session over a
// WebSocket. Binary frames carry raw terminal bytes both ways; text frames
// from the client carry resize commands or literal input.
type Handler struct {
	sessions Sessions
	commands map[string]ptymgr.Command
	poll     time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewHandler(sessions Sessions, opts Options) *Handler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		commands: opts.Commands,
		poll:     opts.PollInterval,
		log:      opts.Logger.Named("ws"),
		metrics:  opts.Metrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	cmd, ok := h.commands[key]
	if !ok {
		http.Error(w, "unknown terminal", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.String("key", key), zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessage)

	log := h.log.With(zap.String("key", key), zap.String("conn", uuid.NewString()[:8]))

	sess, err := h.sessions.Acquire(key, cmd)
	if err != nil {
		log.Warn("session unavailable", zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}

	log.Info("client attached", zap.Int("pid", sess.PID()))
	h.relay(r.Context(), conn, sess, log)
	log.Info("client detached")
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, truncateReason(reason))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// truncateReason cuts reason to fit a close frame without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
