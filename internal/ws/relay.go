package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	ptymgr "github.com/peterje/termbridge/internal/pty"
	"go.uber.org/zap"
)

type inbound struct {
	kind int
	data []byte
}

type resizeMsg struct {
	Type string `json:"type"`
	Rows *int   `json:"rows"`
	Cols *int   `json:"cols"`
}

// parseResize accepts {"type":"resize","rows":R,"cols":C} with both
// dimensions in 1..65535.
func parseResize(data []byte) (rows, cols uint16, ok bool) {
	var msg resizeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, 0, false
	}
	if msg.Type != "resize" || msg.Rows == nil || msg.Cols == nil {
		return 0, 0, false
	}
	if *msg.Rows < 1 || *msg.Rows > 65535 || *msg.Cols < 1 || *msg.Cols > 65535 {
		return 0, 0, false
	}
	return uint16(*msg.Rows), uint16(*msg.Cols), true
}

// readLoop owns the read side of conn. gorilla connections are unusable
// after a read deadline fires, so the relay waits on this channel instead.
func readLoop(conn *websocket.Conn, out chan<- inbound, quit <-chan struct{}) {
	defer close(out)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case out <- inbound{kind: kind, data: data}:
		case <-quit:
			return
		}
	}
}

// relay attaches to sess and shuttles bytes until the client goes away,
// the process exits, or a newer connection takes over. It never stops the
// session.
func (h *Handler) relay(ctx context.Context, conn *websocket.Conn, sess *ptymgr.Session, log *zap.Logger) {
	att := sess.Attach()
	defer att.Detach()

	if h.metrics != nil {
		h.metrics.RelayConnections.Inc()
		defer h.metrics.RelayConnections.Dec()
	}

	if len(att.Replay) > 0 {
		if err := h.send(conn, att.Replay); err != nil {
			log.Debug("replay failed", zap.Error(err))
			return
		}
		log.Debug("sent replay", zap.Int("bytes", len(att.Replay)))
	}

	messages := make(chan inbound)
	quit := make(chan struct{})
	defer close(quit)
	go readLoop(conn, messages, quit)

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		if err := h.drain(conn, att); err != nil {
			log.Debug("client write failed", zap.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-att.Preempted():
			closeWith(conn, CloseReplaced, "replaced by another connection")
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			h.handleInbound(sess, msg, log)
		case <-att.Ready():
		case <-ticker.C:
		case <-sess.Exited():
			select {
			case <-sess.OutputDone():
			case <-time.After(exitDrainWait):
			}
			if err := h.drain(conn, att); err != nil {
				return
			}
			closeWith(conn, websocket.CloseNormalClosure, "session ended")
			log.Info("session ended", zap.Int("exit_code", sess.ExitCode()))
			return
		}
	}
}

func (h *Handler) drain(conn *websocket.Conn, att *ptymgr.Attachment) error {
	for {
		chunk, ok := att.ReadNowait()
		if !ok {
			return nil
		}
		if err := h.send(conn, chunk); err != nil {
			return err
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if h.metrics != nil {
		h.metrics.RelayOutputBytes.Add(float64(len(data)))
	}
	return nil
}

func (h *Handler) handleInbound(sess *ptymgr.Session, msg inbound, log *zap.Logger) {
	var (
		kind string
		err  error
	)
	switch msg.kind {
	case websocket.BinaryMessage:
		kind = "binary"
		_, err = sess.Write(msg.data)
	case websocket.TextMessage:
		if rows, cols, ok := parseResize(msg.data); ok {
			kind = "resize"
			err = sess.Resize(rows, cols)
		} else {
			kind = "text"
			_, err = sess.Write(msg.data)
		}
	default:
		return
	}

	if h.metrics != nil {
		h.metrics.RelayInput.WithLabelValues(kind).Inc()
	}
	if err != nil {
		log.Debug("input dropped", zap.String("kind", kind), zap.Error(err))
	}
}
