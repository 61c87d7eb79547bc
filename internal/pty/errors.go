package pty

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn matches every *SpawnError.
	ErrSpawn       = errors.New("spawn failed")
	ErrNotRunning  = errors.New("session not running")
	ErrStopped     = errors.New("session stopped")
	ErrInvalidSize = errors.New("invalid window size")
)

// SpawnError reports a command that could not be started under a PTY.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }
