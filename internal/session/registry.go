package session

import (
	"context"
	"sync"
	"time"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/internal/logging"
)

// Config holds registry policy knobs.
type Config struct {
	// MaxQueueSize bounds waiting messages per session.
	MaxQueueSize int
	// IdleGrace is how long a session with zero attached channels survives.
	// A reconnect within the grace period keeps the session alive.
	IdleGrace time.Duration
	// CancelOnEvict aborts an in-flight message at eviction. When false the
	// message runs to completion and the result is dropped.
	CancelOnEvict bool
}

// SpriteNamer derives the stable friendly name for a user key.
type SpriteNamer func(userKey string) string

// Registry is the process-wide map from user key to live Session. It is the
// only globally shared mutable structure; the lock guards map access only,
// never session work, so unrelated sessions are not serialized.
type Registry struct {
	cfg      Config
	executor Executor
	namer    SpriteNamer

	// onCreate runs async for every new session (workspace provisioning).
	onCreate func(*Session)
	// onEvict runs after a session leaves the map.
	onEvict func(*Session)

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	s      *Session
	cancel context.CancelFunc
	stopCh chan struct{}
}

// NewRegistry creates a registry driving jobs through the given executor.
func NewRegistry(cfg Config, executor Executor, namer SpriteNamer) *Registry {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = 60 * time.Second
	}
	if namer == nil {
		namer = func(userKey string) string { return userKey }
	}
	return &Registry{
		cfg:      cfg,
		executor: executor,
		namer:    namer,
		sessions: make(map[string]*entry),
	}
}

// OnCreate registers the hook run (in its own goroutine) for each new
// session. Used by the workspace provisioner.
func (r *Registry) OnCreate(fn func(*Session)) { r.onCreate = fn }

// OnEvict registers the hook run after a session is evicted.
func (r *Registry) OnEvict(fn func(*Session)) { r.onEvict = fn }

// GetOrCreate returns the live session for a user key, creating it on first
// use. Idempotent and race-free: concurrent calls with the same key observe
// the same instance.
func (r *Registry) GetOrCreate(userKey string) *Session {
	r.mu.RLock()
	if e, ok := r.sessions[userKey]; ok {
		r.mu.RUnlock()
		return e.s
	}
	r.mu.RUnlock()

	r.mu.Lock()
	if e, ok := r.sessions[userKey]; ok {
		r.mu.Unlock()
		return e.s
	}

	s := newSession(userKey, r.namer(userKey), r.cfg.MaxQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{s: s, cancel: cancel, stopCh: make(chan struct{})}
	r.sessions[userKey] = e
	r.mu.Unlock()

	go r.runWorker(ctx, s, e.stopCh)
	if r.onCreate != nil {
		go r.onCreate(s)
	}

	logging.Info().Str("user", userKey).Str("sprite", s.spriteName).Msg("session created")
	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionData{UserKey: userKey, SpriteName: s.spriteName},
	})
	return s
}

// Get returns the live session for a user key, or nil.
func (r *Registry) Get(userKey string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[userKey]; ok {
		return e.s
	}
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Attach binds a channel to the user's session, creating the session when
// absent. Retries when an eviction races the attach.
func (r *Registry) Attach(userKey string, ch Channel) *Session {
	for {
		s := r.GetOrCreate(userKey)
		if s.Attach(ch) {
			return s
		}
		// The session was evicted between fetch and attach; the eviction
		// also removed it from the map, so the next round creates a fresh one.
	}
}

// Detach removes a channel from its session. When the last channel across
// all kinds detaches, an idle-grace timer is armed instead of evicting
// immediately, since a reconnect is expected within seconds.
func (r *Registry) Detach(s *Session, ch Channel) {
	remaining, gen := s.detach(ch)
	if remaining > 0 {
		return
	}
	time.AfterFunc(r.cfg.IdleGrace, func() {
		r.EvictIfIdle(s, gen)
	})
}

// EvictIfIdle evicts the session if no channel reattached since the grace
// timer was armed. A reattach bumps the session's attach generation, making
// the pending timer a no-op. The evicted flag is set under the session lock
// together with the idle check, so an Attach landing after the decision sees
// the flag and retries through the registry instead of binding to a session
// that is being torn down.
func (r *Registry) EvictIfIdle(s *Session, gen uint64) {
	s.mu.Lock()
	if s.channelCountLocked() > 0 || s.attachGen != gen || s.evicted {
		s.mu.Unlock()
		return
	}
	s.evicted = true
	s.mu.Unlock()

	r.evict(s)
}

// evict removes the session from the map and tears it down. Still-queued
// messages are cancelled with reason session_closed; the in-flight message
// follows the CancelOnEvict policy.
func (r *Registry) evict(s *Session) {
	r.mu.Lock()
	e, ok := r.sessions[s.userKey]
	if !ok || e.s != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.userKey)
	r.mu.Unlock()

	s.queue.drain(r.cfg.CancelOnEvict)
	if r.cfg.CancelOnEvict {
		e.cancel()
	} else {
		close(e.stopCh)
	}
	s.closeResources()

	logging.Info().Str("user", s.userKey).Msg("session evicted")
	event.Publish(event.Event{
		Type: event.SessionEvicted,
		Data: event.SessionData{UserKey: s.userKey, SpriteName: s.spriteName},
	})

	if r.onEvict != nil {
		r.onEvict(s)
	}
}

// Shutdown evicts every session. Used on daemon stop.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		if e.s.markEvicted() {
			r.evict(e.s)
		}
		e.cancel()
	}
}
