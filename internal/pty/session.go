package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const (
	DefaultScrollbackSize = 64 * 1024
	DefaultStopGrace      = 3 * time.Second
	DefaultRows           = 24
	DefaultCols           = 80

	readChunkSize = 32 * 1024
	killWait      = 2 * time.Second
	drainWait     = 250 * time.Millisecond
)

// State is the lifecycle state of a Session.
type State int

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Command describes the process a Session spawns.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the server's environment.
	Env  []string
	Rows uint16
	Cols uint16
}

// Argv returns the full command line.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

func (c Command) build() *exec.Cmd {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	return cmd
}

func (c Command) winsize() *pty.Winsize {
	ws := &pty.Winsize{Rows: c.Rows, Cols: c.Cols}
	if ws.Rows == 0 {
		ws.Rows = DefaultRows
	}
	if ws.Cols == 0 {
		ws.Cols = DefaultCols
	}
	return ws
}

// SessionConfig holds the settings shared by every Session a Registry creates.
type SessionConfig struct {
	ScrollbackSize int
	StopGrace      time.Duration
	Logger         *zap.Logger
	Observer       Observer
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ScrollbackSize <= 0 {
		c.ScrollbackSize = DefaultScrollbackSize
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// Info is a point-in-time description of a Session.
type Info struct {
	Key             string    `json:"key"`
	PID             int       `json:"pid"`
	State           string    `json:"state"`
	Command         []string  `json:"command"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	ScrollbackBytes int       `json:"scrollback_bytes"`
	Attached        bool      `json:"attached"`
}

// Session owns one process running under a PTY, the goroutine pumping its
// output, and the scrollback a reconnecting client is replayed from.
//
// The process and the PTY master are non-nil exactly while the state is
// Running. A Stopped session is never restarted.
type Session struct {
	key     string
	command Command
	cfg     SessionConfig
	log     *zap.Logger

	// stopMu serializes teardown between Stop and IsRunning.
	stopMu sync.Mutex

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	ptmx      *os.File
	pid       int
	startedAt time.Time

	exited   chan struct{}
	pumpDone chan struct{}
	idleOnce sync.Once
	// exitCode is written before exited is closed.
	exitCode int

	outMu      sync.Mutex
	pending    [][]byte
	pendingLen int
	scrollback *Scrollback
	attached   *Attachment
}

// NewSession returns a session in the NotStarted state.
func NewSession(key string, command Command, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		key:        key,
		command:    command,
		cfg:        cfg,
		log:        cfg.Logger.Named("pty").With(zap.String("key", key)),
		exited:     make(chan struct{}),
		pumpDone:   make(chan struct{}),
		exitCode:   -1,
		scrollback: NewScrollback(cfg.ScrollbackSize),
	}
}

func (s *Session) Key() string { return s.key }

// Start spawns the command. Calling Start on a running session returns its
// PID without spawning anything.
func (s *Session) Start() (int, error) {
	s.mu.Lock()
	switch s.state {
	case Running:
		pid := s.pid
		s.mu.Unlock()
		return pid, nil
	case Stopped:
		s.mu.Unlock()
		return 0, ErrStopped
	}

	argv := s.command.Argv()
	cmd := s.command.build()
	ptmx, err := pty.StartWithSize(cmd, s.command.winsize())
	if err != nil {
		s.mu.Unlock()
		return 0, &SpawnError{Command: argv, Err: err}
	}

	pid := cmd.Process.Pid
	s.cmd = cmd
	s.ptmx = ptmx
	s.pid = pid
	s.startedAt = time.Now()
	s.state = Running
	s.mu.Unlock()

	s.log.Info("session started", zap.Int("pid", pid), zap.Strings("argv", argv))
	go s.pump(ptmx)
	// Observers may block on I/O; they run unlocked, and before the wait
	// goroutine so SessionStarted always precedes SessionExited.
	s.cfg.Observer.SessionStarted(s.key, pid, argv)
	go s.wait(cmd)
	return pid, nil
}

func (s *Session) pump(r io.Reader) {
	defer close(s.pumpDone)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.appendOutput(chunk)
		}
		if err != nil {
			// EIO is how Linux reports that the slave side hung up.
			s.log.Debug("output pump finished", zap.Error(err))
			return
		}
	}
}

func (s *Session) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	pid := cmd.Process.Pid
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	s.exitCode = code
	close(s.exited)
	s.log.Info("process exited", zap.Int("pid", pid), zap.Int("exit_code", code), zap.NamedError("wait", err))
	s.cfg.Observer.SessionExited(s.key, pid, code)
}

// appendOutput records a chunk in the scrollback and the pending queue as
// one step. The queue is bounded by the scrollback capacity; chunks dropped
// from it are still in the scrollback.
func (s *Session) appendOutput(chunk []byte) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.scrollback.Write(chunk)
	s.pending = append(s.pending, chunk)
	s.pendingLen += len(chunk)
	for s.pendingLen > s.scrollback.Cap() && len(s.pending) > 1 {
		s.pendingLen -= len(s.pending[0])
		s.pending[0] = nil
		s.pending = s.pending[1:]
	}
	if s.attached != nil {
		s.attached.notify()
	}
}

func (s *Session) popLocked() ([]byte, bool) {
	if len(s.pending) == 0 {
		return nil, false
	}
	chunk := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	s.pendingLen -= len(chunk)
	return chunk, true
}

// ReadNowait pops the oldest pending chunk of output. It never blocks.
func (s *Session) ReadNowait() ([]byte, bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.popLocked()
}

// Scrollback returns a copy of the retained output. The pending queue is
// not affected.
func (s *Session) Scrollback() []byte {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.scrollback.Bytes()
}

// Exited is closed once the process has been reaped.
func (s *Session) Exited() <-chan struct{} { return s.exited }

// OutputDone is closed once the output pump has returned.
func (s *Session) OutputDone() <-chan struct{} { return s.pumpDone }

// ExitCode returns the process exit status, or -1 if the process has not
// exited or was killed by a signal.
func (s *Session) ExitCode() int {
	select {
	case <-s.exited:
		return s.exitCode
	default:
		return -1
	}
}

func (s *Session) running() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return nil, ErrNotRunning
	}
	return s.ptmx, nil
}

// Write forwards p to the process's terminal input.
func (s *Session) Write(p []byte) (int, error) {
	ptmx, err := s.running()
	if err != nil {
		return 0, err
	}
	n, err := ptmx.Write(p)
	if err != nil {
		return n, fmt.Errorf("write pty: %w", err)
	}
	return n, nil
}

// Resize sets the terminal window size.
func (s *Session) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return ErrInvalidSize
	}
	ptmx, err := s.running()
	if err != nil {
		return err
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// PID returns the process id, or 0 when the session is not running.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the process is alive. A process that exited
// on its own is cleaned up here the same way Stop would.
func (s *Session) IsRunning() bool {
	if s.State() != Running {
		return false
	}
	select {
	case <-s.exited:
	default:
		return true
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.State() != Running {
		return false
	}
	// Let the pump collect whatever the process wrote before exiting.
	select {
	case <-s.pumpDone:
	case <-time.After(drainWait):
	}
	s.release()
	s.log.Debug("reaped exited session")
	return false
}

// Stop terminates the process and releases the PTY. It is safe to call
// any number of times. The process gets SIGTERM and a hangup first, and
// SIGKILL if it is still alive after the grace period.
func (s *Session) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	state, cmd, ptmx := s.state, s.cmd, s.ptmx
	if state == NotStarted {
		s.state = Stopped
	}
	s.mu.Unlock()

	switch state {
	case NotStarted:
		s.idleOnce.Do(func() {
			close(s.exited)
			close(s.pumpDone)
		})
		return
	case Stopped:
		return
	}

	s.terminate(cmd, ptmx)
	s.release()
	s.log.Info("session stopped", zap.Int("exit_code", s.ExitCode()))
}

func (s *Session) terminate(cmd *exec.Cmd, ptmx *os.File) {
	select {
	case <-s.exited:
		return
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug("sigterm failed", zap.Error(err))
	}
	_ = ptmx.Close()

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-s.exited:
		return
	case <-grace.C:
	}

	s.log.Warn("process ignored SIGTERM, killing", zap.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Kill(); err != nil {
		s.log.Debug("kill failed", zap.Error(err))
	}
	select {
	case <-s.exited:
	case <-time.After(killWait):
		s.log.Error("process not reaped after SIGKILL", zap.Int("pid", cmd.Process.Pid))
	}
}

func (s *Session) release() {
	s.mu.Lock()
	ptmx := s.ptmx
	s.cmd = nil
	s.ptmx = nil
	s.pid = 0
	s.state = Stopped
	s.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
}

// discard drops buffered output and any attachment. Call it after Stop.
func (s *Session) discard() {
	select {
	case <-s.pumpDone:
	case <-time.After(drainWait):
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.pending = nil
	s.pendingLen = 0
	s.scrollback.Reset()
	s.attached = nil
}

func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		Key:       s.key,
		PID:       s.pid,
		State:     s.state.String(),
		Command:   s.command.Argv(),
		StartedAt: s.startedAt,
	}
	s.mu.Unlock()

	s.outMu.Lock()
	info.ScrollbackBytes = s.scrollback.Len()
	info.Attached = s.attached != nil
	s.outMu.Unlock()
	return info
}
