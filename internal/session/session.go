// Package session implements the session and queue orchestration core:
// a process-wide registry of per-user sessions, each holding a bounded
// single-flight admission queue and the set of attached channels.
package session

import (
	"sync"
	"time"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// Channel is one live transport attachment of a given kind. Implemented by
// the server's websocket channel; Send must never block the caller.
type Channel interface {
	// Kind returns the channel kind (chat, terminal, files).
	Kind() types.ChannelKind

	// Send queues an event for delivery. It returns false when the channel's
	// outbound buffer is full, in which case the caller detaches and closes
	// the channel rather than blocking the pipeline.
	Send(v any) bool

	// Close tears down the transport.
	Close() error
}

// TerminalProc is the session's single live PTY process, owned by the
// terminal bridge. At most one per session.
type TerminalProc interface {
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Close() error
}

// Session is the server-side state bound to one user identity. All mutation
// of session-owned state goes through its mutex; different sessions share
// nothing but the registry map.
type Session struct {
	userKey    string
	spriteName string
	createdAt  time.Time

	queue *Queue

	mu       sync.Mutex
	channels map[types.ChannelKind]map[Channel]struct{}
	terminal TerminalProc
	watcher  interface{ Close() error }

	// workspace state is monotonic: once initialized it stays initialized
	// until an explicit reset.
	workspaceReady bool
	workspaceDir   string

	// attachGen increments on every attach so a pending idle-eviction timer
	// can tell whether a channel reattached after it was armed.
	attachGen uint64

	evicted bool
}

func newSession(userKey, spriteName string, maxQueue int) *Session {
	s := &Session{
		userKey:    userKey,
		spriteName: spriteName,
		createdAt:  time.Now(),
		channels:   make(map[types.ChannelKind]map[Channel]struct{}),
	}
	s.queue = newQueue(s, maxQueue)
	return s
}

// UserKey returns the stable user key this session is bound to.
func (s *Session) UserKey() string { return s.userKey }

// SpriteName returns the friendly name derived from the user key.
func (s *Session) SpriteName() string { return s.spriteName }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Queue returns the session's admission queue.
func (s *Session) Queue() *Queue { return s.queue }

// Attach binds a channel to the session and returns false if the session
// was already evicted (the caller should retry through the registry).
func (s *Session) Attach(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return false
	}
	set, ok := s.channels[ch.Kind()]
	if !ok {
		set = make(map[Channel]struct{})
		s.channels[ch.Kind()] = set
	}
	set[ch] = struct{}{}
	s.attachGen++
	event.Publish(event.Event{
		Type: event.ChannelAttached,
		Data: event.ChannelData{UserKey: s.userKey, Kind: ch.Kind(), Remaining: s.channelCountLocked()},
	})
	return true
}

// detach removes a channel. It returns the number of channels remaining
// across all kinds and the attach generation at removal time.
func (s *Session) detach(ch Channel) (remaining int, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.channels[ch.Kind()]; ok {
		delete(set, ch)
	}
	remaining = s.channelCountLocked()
	gen = s.attachGen
	event.Publish(event.Event{
		Type: event.ChannelDetached,
		Data: event.ChannelData{UserKey: s.userKey, Kind: ch.Kind(), Remaining: remaining},
	})
	return remaining, gen
}

func (s *Session) channelCountLocked() int {
	n := 0
	for _, set := range s.channels {
		n += len(set)
	}
	return n
}

// ChannelCounts returns the number of attached channels per kind.
func (s *Session) ChannelCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.channels))
	for kind, set := range s.channels {
		counts[string(kind)] = len(set)
	}
	return counts
}

// Broadcast delivers an event to every attached channel of the given kind.
// With no channels attached the event is dropped; durable history is the
// history store's job. A channel whose buffer overflows is detached and
// closed so a slow consumer never blocks the pipeline.
func (s *Session) Broadcast(kind types.ChannelKind, v any) {
	s.mu.Lock()
	set := s.channels[kind]
	targets := make([]Channel, 0, len(set))
	for ch := range set {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	for _, ch := range targets {
		if !ch.Send(v) {
			logging.Warn().
				Str("user", s.userKey).
				Str("kind", string(kind)).
				Msg("channel buffer overflow, disconnecting slow consumer")
			s.detach(ch)
			ch.Close()
		}
	}
}

// SetTerminal installs the session's PTY process, closing any previous one.
// Terminal input is not admission-queued: single-flight at the session level
// means one terminal process per session.
func (s *Session) SetTerminal(t TerminalProc) {
	s.mu.Lock()
	prev := s.terminal
	s.terminal = t
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Terminal returns the live PTY process, or nil.
func (s *Session) Terminal() TerminalProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// SetWatcher installs the session's workspace watcher, closing any previous.
func (s *Session) SetWatcher(w interface{ Close() error }) {
	s.mu.Lock()
	prev := s.watcher
	s.watcher = w
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Watcher returns the live workspace watcher, or nil.
func (s *Session) Watcher() interface{ Close() error } {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watcher
}

// MarkWorkspaceReady records that the workspace finished provisioning.
// The flag only ever moves forward; ResetWorkspace is the explicit exception.
func (s *Session) MarkWorkspaceReady(dir string) {
	s.mu.Lock()
	s.workspaceReady = true
	s.workspaceDir = dir
	s.mu.Unlock()
}

// Workspace reports the workspace directory and whether it is initialized.
func (s *Session) Workspace() (dir string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceDir, s.workspaceReady
}

// ResetWorkspace clears the initialized flag. Only an explicit reset may
// report an initialized workspace as uninitialized again.
func (s *Session) ResetWorkspace() {
	s.mu.Lock()
	s.workspaceReady = false
	s.mu.Unlock()
}

// Status returns the REST status view of the session.
func (s *Session) Status() types.SessionStatus {
	dir, ready := s.Workspace()
	return types.SessionStatus{
		UserID:     s.userKey,
		SpriteName: s.spriteName,
		CreatedAt:  s.createdAt.UnixMilli(),
		Queue:      s.queue.Status(),
		Channels:   s.ChannelCounts(),
		Workspace:  types.WorkspaceStatus{Initialized: ready, Dir: dir},
	}
}

// markEvicted flags the session evicted unconditionally (shutdown path).
// Returns false when eviction already happened.
func (s *Session) markEvicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return false
	}
	s.evicted = true
	return true
}

// closeResources tears down the terminal and watcher during eviction. The
// evicted flag is already set by the eviction decision.
func (s *Session) closeResources() {
	s.mu.Lock()
	term := s.terminal
	watcher := s.watcher
	s.terminal = nil
	s.watcher = nil
	s.mu.Unlock()

	if term != nil {
		term.Close()
	}
	if watcher != nil {
		watcher.Close()
	}
}
