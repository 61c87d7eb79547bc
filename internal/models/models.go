package models

import "time"

// Session history statuses.
const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusStopped = "stopped"
)

type SessionRecord struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Command   string     `json:"command"`
	PID       int        `json:"pid"`
	Status    string     `json:"status"`
	ExitCode  *int       `json:"exit_code"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

type CLIStatus struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
}

type HealthResponse struct {
	Status   string      `json:"status"`
	Commands []CLIStatus `json:"commands"`
	Storage  bool        `json:"storage"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
