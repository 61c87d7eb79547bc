package pty

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Registry maps session keys to at most one live Session each.
type Registry struct {
	cfg   SessionConfig
	log   *zap.Logger
	group singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session
	// gen counts ReleaseAll calls. An Acquire that started before a release
	// must not store its session after it.
	gen uint64
}

func NewRegistry(cfg SessionConfig) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:      cfg,
		log:      cfg.Logger.Named("registry"),
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the running session for key, starting one from cmd if
// there is none. A stored session whose process has died is stopped and
// replaced. Concurrent calls for the same key share one start. A session
// whose start overlaps ReleaseAll is stopped and ErrStopped is returned.
func (r *Registry) Acquire(key string, cmd Command) (*Session, error) {
	v, err, _ := r.group.Do(key, func() (any, error) {
		if existing := r.Get(key); existing != nil {
			if existing.IsRunning() {
				return existing, nil
			}
			r.log.Info("replacing dead session", zap.String("key", key))
			existing.Stop()
			r.remove(key, existing)
		}

		r.mu.RLock()
		gen := r.gen
		r.mu.RUnlock()

		sess := NewSession(key, cmd, r.cfg)
		if _, err := sess.Start(); err != nil {
			r.log.Warn("session start failed", zap.String("key", key), zap.Error(err))
			return nil, err
		}

		r.mu.Lock()
		if r.gen != gen {
			r.mu.Unlock()
			r.log.Info("session released while starting", zap.String("key", key))
			sess.Stop()
			sess.discard()
			return nil, ErrStopped
		}
		r.sessions[key] = sess
		r.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Get returns the stored session for key, live or not.
func (r *Registry) Get(key string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[key]
}

// Stop stops and forgets the session for key. It reports whether there
// was one.
func (r *Registry) Stop(key string) bool {
	r.mu.Lock()
	sess := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.Stop()
	sess.discard()
	return true
}

// ReleaseAll stops every session in parallel, drops their buffers and
// empties the registry.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.gen++
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Stop()
			sess.discard()
		}()
	}
	wg.Wait()
	if len(sessions) > 0 {
		r.log.Info("released sessions", zap.Int("count", len(sessions)))
	}
}

// List describes every stored session, ordered by key.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

func (r *Registry) remove(key string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == sess {
		delete(r.sessions, key)
	}
}
