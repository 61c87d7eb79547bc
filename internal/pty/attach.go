package pty

import "sync"

// Attachment is one consumer's claim on a session's live output. A session
// has at most one current attachment; attaching again preempts the previous
// one.
type Attachment struct {
	// Replay is the scrollback as of the moment of attaching. Every chunk
	// ReadNowait returns was produced after it.
	Replay []byte

	sess      *Session
	ready     chan struct{}
	preempted chan struct{}
	once      sync.Once
}

// Attach clears the pending queue, snapshots the scrollback and makes the
// returned attachment the only reader of live output.
func (s *Session) Attach() *Attachment {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if prev := s.attached; prev != nil {
		prev.preempt()
		s.log.Info("attachment preempted")
	}
	a := &Attachment{
		Replay:    s.scrollback.Bytes(),
		sess:      s,
		ready:     make(chan struct{}, 1),
		preempted: make(chan struct{}),
	}
	s.pending = nil
	s.pendingLen = 0
	s.attached = a
	return a
}

// ReadNowait pops the oldest pending chunk if a is still the current
// attachment.
func (a *Attachment) ReadNowait() ([]byte, bool) {
	s := a.sess
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.attached != a {
		return nil, false
	}
	return s.popLocked()
}

// Ready receives a value after new output has been queued for a. Signals
// coalesce, so drain with ReadNowait until it reports nothing.
func (a *Attachment) Ready() <-chan struct{} { return a.ready }

// Preempted is closed when a newer attachment replaces a.
func (a *Attachment) Preempted() <-chan struct{} { return a.preempted }

// Detach gives up the claim. Output keeps accumulating in the session.
func (a *Attachment) Detach() {
	s := a.sess
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.attached == a {
		s.attached = nil
	}
}

func (a *Attachment) notify() {
	select {
	case a.ready <- struct{}{}:
	default:
	}
}

func (a *Attachment) preempt() {
	a.once.Do(func() { close(a.preempted) })
}
