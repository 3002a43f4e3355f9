package session

import (
	"strings"
	"sync"
	"time"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// Cancellation reasons reported on the wire.
const (
	ReasonCancelledBefore = "Cancelled before processing"
	ReasonCancelledDuring = "Cancelled during processing"
	ReasonSessionClosed   = "session_closed"
)

// QueuedMessage is one admitted chat request. Owned by the queue until it
// reaches a terminal state, after which it is discarded.
type QueuedMessage struct {
	ID          string
	Content     string
	SubmittedAt time.Time
	Status      types.MessageStatus
}

// SubmitAction classifies what admission did with an inbound message.
type SubmitAction string

const (
	// ActionQueued: the message was appended to the queue.
	ActionQueued SubmitAction = "queued"
	// ActionQueueFull: the queue was at capacity; nothing was enqueued.
	ActionQueueFull SubmitAction = "queue_full"
	// ActionDuplicate: the id was already admitted on this session; nothing
	// was enqueued.
	ActionDuplicate SubmitAction = "duplicate"
	// ActionSkipped: a control message (cancel/stop with nothing in flight)
	// that was not enqueued.
	ActionSkipped SubmitAction = "skipped"
	// ActionCancelRequested: a bare cancel/stop that aborted the in-flight
	// message; nothing was enqueued.
	ActionCancelRequested SubmitAction = "cancel_requested"
)

// SubmitResult reports the outcome of a submit call.
type SubmitResult struct {
	Action   SubmitAction
	Position int // 1-based FIFO position, for ActionQueued
	// Interrupted is set when an urgent-prefixed message cancelled the
	// in-flight message before being enqueued.
	Interrupted bool
}

// Queue is a per-session bounded FIFO enforcing single-flight processing.
// Capacity bounds waiting messages; the in-flight message is not counted.
type Queue struct {
	session *Session
	max     int

	mu         sync.Mutex
	waiting    []*QueuedMessage
	processing *QueuedMessage
	// cancelRequested marks a cooperative abort of the in-flight message.
	// The executor may finish first; that race is an accepted outcome.
	cancelRequested bool
	abort           func()
	// seen enforces message-id uniqueness for the session's lifetime.
	seen map[string]struct{}

	// wake signals the worker that the queue is non-empty.
	wake chan struct{}
}

func newQueue(s *Session, max int) *Queue {
	return &Queue{
		session: s,
		max:     max,
		seen:    make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Submit admits a message. A full queue rejects fast with queue_full and
// never blocks the submitter. Control content (cancel/stop, urgent prefix)
// is sniffed before admission.
func (q *Queue) Submit(id, content string) SubmitResult {
	q.mu.Lock()

	trimmed := strings.ToLower(strings.TrimSpace(content))
	interrupted := false

	switch {
	case isCancelWord(trimmed):
		if q.processing != nil {
			q.requestCancelLocked()
			q.mu.Unlock()
			return SubmitResult{Action: ActionCancelRequested}
		}
		q.mu.Unlock()
		return SubmitResult{Action: ActionSkipped}

	case strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "urgent:"):
		if q.processing != nil {
			q.requestCancelLocked()
			interrupted = true
		}
	}

	// Uniqueness is enforced here, under the queue lock, so concurrent
	// submits of the same id from different channels cannot both pass a
	// transport-level check and both enqueue.
	if _, dup := q.seen[id]; dup {
		q.mu.Unlock()
		return SubmitResult{Action: ActionDuplicate, Interrupted: interrupted}
	}

	if len(q.waiting) >= q.max {
		size := len(q.waiting)
		q.mu.Unlock()
		q.session.Broadcast(types.ChannelChat, types.QueuedEvent{
			Type:         types.TypeQueued,
			MessageID:    id,
			Status:       types.StatusQueueFull,
			QueueSize:    size,
			MaxQueueSize: q.max,
			Reason:       "Queue is full",
		})
		return SubmitResult{Action: ActionQueueFull, Interrupted: interrupted}
	}

	msg := &QueuedMessage{
		ID:          id,
		Content:     content,
		SubmittedAt: time.Now(),
		Status:      types.StatusQueued,
	}
	q.seen[id] = struct{}{}
	q.waiting = append(q.waiting, msg)
	pos := len(q.waiting)
	q.mu.Unlock()

	q.session.Broadcast(types.ChannelChat, types.QueuedEvent{
		Type:          types.TypeQueued,
		MessageID:     id,
		QueuePosition: pos,
	})
	event.PublishSync(event.Event{
		Type: event.MessageQueued,
		Data: event.MessageData{UserKey: q.session.userKey, MessageID: id, Content: content},
	})

	q.signal()
	return SubmitResult{Action: ActionQueued, Position: pos, Interrupted: interrupted}
}

// Cancel cancels a message by id. A queued message is removed and later
// positions shift down by one. For the in-flight message the abort is
// cooperative: the executor may complete first, in which case the result is
// delivered as completed and the cancel is a no-op. Returns false when the
// id matches neither.
func (q *Queue) Cancel(messageID string) bool {
	q.mu.Lock()

	if q.processing != nil && (messageID == "" || q.processing.ID == messageID) {
		q.requestCancelLocked()
		q.mu.Unlock()
		return true
	}

	for i, msg := range q.waiting {
		if msg.ID == messageID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			msg.Status = types.StatusCancelled
			q.mu.Unlock()

			q.session.Broadcast(types.ChannelChat, types.CancelledEvent{
				Type:      types.TypeCancelled,
				MessageID: messageID,
				Reason:    ReasonCancelledBefore,
			})
			event.PublishSync(event.Event{
				Type: event.MessageCancelled,
				Data: event.MessageData{UserKey: q.session.userKey, MessageID: messageID, Reason: ReasonCancelledBefore},
			})
			q.broadcastPositions()
			return true
		}
	}

	q.mu.Unlock()
	return false
}

// requestCancelLocked flags the in-flight message for cooperative abort.
func (q *Queue) requestCancelLocked() {
	q.cancelRequested = true
	if q.abort != nil {
		q.abort()
	}
}

// drain empties the waiting queue during eviction, reporting each message
// cancelled with reason session_closed. The in-flight message is aborted
// only when cancelInflight is set; otherwise it runs to completion with the
// result dropped.
func (q *Queue) drain(cancelInflight bool) {
	q.mu.Lock()
	waiting := q.waiting
	q.waiting = nil
	if cancelInflight && q.processing != nil {
		q.requestCancelLocked()
	}
	q.mu.Unlock()

	for _, msg := range waiting {
		msg.Status = types.StatusCancelled
		event.PublishSync(event.Event{
			Type: event.MessageCancelled,
			Data: event.MessageData{UserKey: q.session.userKey, MessageID: msg.ID, Reason: ReasonSessionClosed},
		})
	}
}

// next pops the queue head into the processing slot. Returns nil when the
// queue is empty or a message is already in flight.
func (q *Queue) next() *QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing != nil || len(q.waiting) == 0 {
		return nil
	}
	msg := q.waiting[0]
	q.waiting = q.waiting[1:]
	msg.Status = types.StatusProcessing
	q.processing = msg
	q.cancelRequested = false
	q.abort = nil
	return msg
}

// finish clears the processing slot after a terminal state.
func (q *Queue) finish() {
	q.mu.Lock()
	q.processing = nil
	q.cancelRequested = false
	q.abort = nil
	more := len(q.waiting) > 0
	q.mu.Unlock()
	if more {
		q.signal()
	}
}

// setAbort installs the cooperative abort hook for the in-flight message.
// When a cancel already landed before the hook existed, it fires at once.
func (q *Queue) setAbort(abort func()) (alreadyCancelled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abort = abort
	return q.cancelRequested
}

func (q *Queue) wasCancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelRequested
}

// broadcastPositions re-reports the 1-based position of every waiting
// message so stale client positions are corrected rather than left wrong.
func (q *Queue) broadcastPositions() {
	q.mu.Lock()
	snapshot := make([]*QueuedMessage, len(q.waiting))
	copy(snapshot, q.waiting)
	q.mu.Unlock()

	for i, msg := range snapshot {
		q.session.Broadcast(types.ChannelChat, types.QueuedEvent{
			Type:          types.TypeQueued,
			MessageID:     msg.ID,
			QueuePosition: i + 1,
		})
	}
}

// Status returns a point-in-time queue snapshot.
func (q *Queue) Status() types.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := types.QueueStatus{
		QueueSize:       len(q.waiting),
		MaxQueueSize:    q.max,
		IsProcessing:    q.processing != nil,
		CancelRequested: q.cancelRequested,
	}
	if q.processing != nil {
		st.CurrentMessageID = q.processing.ID
	}
	return st
}

// Len returns the number of waiting messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// isCancelWord matches the bare control words that abort the in-flight
// message instead of being enqueued.
func isCancelWord(s string) bool {
	switch s {
	case "cancel", "/cancel", "stop", "/stop":
		return true
	}
	return false
}
