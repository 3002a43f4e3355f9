package session

import (
	"context"
	"errors"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// Job is one unit of chat work handed to the executor.
type Job struct {
	UserKey      string
	MessageID    string
	Content      string
	WorkspaceDir string
	SpriteName   string
}

// StreamEvents receives intermediate events while a job runs. Callbacks are
// invoked in executor emission order; the adapter re-emits them to attached
// chat channels in the same order.
type StreamEvents struct {
	OnText       func(delta string)
	OnToolUse    func(toolUseID, name string, input map[string]any)
	OnToolResult func(toolUseID, content string, isError bool)
}

// Executor runs one chat job to completion, streaming intermediate events
// and returning the final response text. Implementations must honor ctx
// cancellation promptly; cancellation is cooperative and the adapter
// tolerates a job finishing before the abort lands.
type Executor interface {
	Execute(ctx context.Context, job Job, events StreamEvents) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job Job, events StreamEvents) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, job Job, events StreamEvents) (string, error) {
	return f(ctx, job, events)
}

// runWorker is the session's single-flight processing pipeline. One worker
// goroutine per session; different sessions execute fully in parallel.
// ctx cancellation aborts the in-flight job; stopCh asks the worker to exit
// once the current job (if any) has resolved.
func (r *Registry) runWorker(ctx context.Context, s *Session, stopCh <-chan struct{}) {
	q := s.queue

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-q.wake:
		}

		for {
			msg := q.next()
			if msg == nil {
				break
			}
			r.process(ctx, s, msg)
			q.finish()

			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			default:
			}
		}
	}
}

// process drives one message through the executor and resolves it to a
// terminal state.
func (r *Registry) process(ctx context.Context, s *Session, msg *QueuedMessage) {
	q := s.queue

	s.Broadcast(types.ChannelChat, types.ProcessingStartedEvent{
		Type:           types.TypeProcessingStarted,
		MessageID:      msg.ID,
		QueueRemaining: q.Len(),
	})
	event.PublishSync(event.Event{
		Type: event.MessageStarted,
		Data: event.MessageData{UserKey: s.userKey, MessageID: msg.ID, Content: msg.Content},
	})
	// Waiting messages all moved up one slot.
	q.broadcastPositions()

	jobCtx, abort := context.WithCancel(ctx)
	defer abort()

	if q.setAbort(abort) {
		// Cancel landed while the message was still queued but after next()
		// claimed it.
		r.resolveCancelled(s, msg, ReasonCancelledBefore)
		return
	}

	dir, _ := s.Workspace()
	job := Job{
		UserKey:      s.userKey,
		MessageID:    msg.ID,
		Content:      msg.Content,
		WorkspaceDir: dir,
		SpriteName:   s.spriteName,
	}

	var toolEvents []types.ToolEvent
	events := StreamEvents{
		OnText: func(delta string) {
			s.Broadcast(types.ChannelChat, types.TextEvent{
				Type:      types.TypeText,
				MessageID: msg.ID,
				Content:   delta,
			})
		},
		OnToolUse: func(toolUseID, name string, input map[string]any) {
			toolEvents = append(toolEvents, types.ToolEvent{
				Type: types.TypeToolUse, ToolUseID: toolUseID, Name: name, Input: input,
			})
			s.Broadcast(types.ChannelChat, types.ToolUseEvent{
				Type:      types.TypeToolUse,
				MessageID: msg.ID,
				ToolUseID: toolUseID,
				Name:      name,
				Input:     input,
			})
		},
		OnToolResult: func(toolUseID, content string, isError bool) {
			toolEvents = append(toolEvents, types.ToolEvent{
				Type: types.TypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError,
			})
			s.Broadcast(types.ChannelChat, types.ToolResultEvent{
				Type:      types.TypeToolResult,
				MessageID: msg.ID,
				ToolUseID: toolUseID,
				Content:   content,
				IsError:   isError,
			})
		},
	}

	response, err := r.executor.Execute(jobCtx, job, events)

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || q.wasCancelled()):
		// The abort landed.
		r.resolveCancelled(s, msg, ReasonCancelledDuring)

	case err != nil:
		msg.Status = types.StatusError
		logging.Error().Err(err).Str("user", s.userKey).Str("message", msg.ID).Msg("message processing failed")
		s.Broadcast(types.ChannelChat, types.ErrorEvent{
			Type:      types.TypeError,
			MessageID: msg.ID,
			Error:     err.Error(),
		})
		event.PublishSync(event.Event{
			Type: event.MessageFailed,
			Data: event.MessageResultData{
				UserKey: s.userKey, MessageID: msg.ID, Content: msg.Content,
				ToolEvents: toolEvents, Err: err.Error(),
			},
		})

	default:
		// A cancel may have been requested and lost the race; the result is
		// still delivered as completed.
		msg.Status = types.StatusCompleted
		s.Broadcast(types.ChannelChat, types.ResponseEvent{
			Type:      types.TypeResponse,
			MessageID: msg.ID,
			Content:   response,
		})
		event.PublishSync(event.Event{
			Type: event.MessageCompleted,
			Data: event.MessageResultData{
				UserKey: s.userKey, MessageID: msg.ID, Content: msg.Content,
				Response: response, ToolEvents: toolEvents,
			},
		})
	}
}

func (r *Registry) resolveCancelled(s *Session, msg *QueuedMessage, reason string) {
	msg.Status = types.StatusCancelled
	s.Broadcast(types.ChannelChat, types.CancelledEvent{
		Type:      types.TypeCancelled,
		MessageID: msg.ID,
		Reason:    reason,
	})
	event.PublishSync(event.Event{
		Type: event.MessageCancelled,
		Data: event.MessageData{UserKey: s.userKey, MessageID: msg.ID, Reason: reason},
	})
}
