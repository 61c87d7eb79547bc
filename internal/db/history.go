package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/peterje/termbridge/internal/models"
	"go.uber.org/zap"
)

// History records terminal process lifecycles. It implements pty.Observer.
type History struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

func NewHistory(database *sql.DB, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{db: database, log: logger.Named("history"), now: time.Now}
}

func (h *History) SessionStarted(key string, pid int, argv []string) {
	_, err := h.db.Exec(
		`INSERT INTO sessions (id, key, command, pid, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), key, strings.Join(argv, " "), pid, models.StatusRunning, h.now().UTC(),
	)
	if err != nil {
		h.log.Error("record session start", zap.String("key", key), zap.Int("pid", pid), zap.Error(err))
	}
}

func (h *History) SessionExited(key string, pid int, exitCode int) {
	_, err := h.db.Exec(
		`UPDATE sessions SET status = ?, exit_code = ?, ended_at = ? WHERE key = ? AND pid = ? AND status = ?`,
		models.StatusExited, exitCode, h.now().UTC(), key, pid, models.StatusRunning,
	)
	if err != nil {
		h.log.Error("record session exit", zap.String("key", key), zap.Int("pid", pid), zap.Error(err))
	}
}

// Reconcile marks sessions left running by a previous server process as
// stopped. It returns the number of rows changed.
func (h *History) Reconcile() (int64, error) {
	result, err := h.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ? WHERE status = ?`,
		models.StatusStopped, h.now().UTC(), models.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reconcile sessions: %w", err)
	}
	return result.RowsAffected()
}

// Recent returns up to limit records, newest first.
func (h *History) Recent(limit int) ([]models.SessionRecord, error) {
	rows, err := h.db.Query(
		`SELECT id, key, command, pid, status, exit_code, started_at, ended_at
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	records := []models.SessionRecord{}
	for rows.Next() {
		var (
			rec      models.SessionRecord
			exitCode sql.NullInt64
			endedAt  sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Command, &rec.PID, &rec.Status, &exitCode, &rec.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.ExitCode = &code
		}
		if endedAt.Valid {
			t := endedAt.Time
			rec.EndedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
