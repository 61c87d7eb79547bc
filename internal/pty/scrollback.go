package pty

// Scrollback keeps the most recent output of a session, up to a fixed
// number of bytes. Once full, the oldest bytes are evicted first.
//
// Scrollback is not safe for concurrent use; Session guards it with its
// output lock.
type Scrollback struct {
	buf []byte
	max int
}

func NewScrollback(max int) *Scrollback {
	if max <= 0 {
		max = DefaultScrollbackSize
	}
	return &Scrollback{max: max}
}

// Write appends p, trimming from the front so that at most Cap bytes remain.
func (s *Scrollback) Write(p []byte) (int, error) {
	n := len(p)
	if n >= s.max {
		s.buf = append(s.buf[:0], p[n-s.max:]...)
		return n, nil
	}
	if over := len(s.buf) + n - s.max; over > 0 {
		kept := copy(s.buf, s.buf[over:])
		s.buf = s.buf[:kept]
	}
	s.buf = append(s.buf, p...)
	return n, nil
}

// Bytes returns a copy of the retained output.
func (s *Scrollback) Bytes() []byte {
	cp := make([]byte, len(s.buf))
	copy(cp, s.buf)
	return cp
}

func (s *Scrollback) Len() int { return len(s.buf) }

func (s *Scrollback) Cap() int { return s.max }

// Reset drops the retained output and its backing array.
func (s *Scrollback) Reset() { s.buf = nil }
