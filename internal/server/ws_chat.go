package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// mintMessageID generates a server-side message id when the client omits
// one.
func mintMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// handleChatWS runs one chat channel connection. The first accepted frame
// must be connect; traffic before the handshake gets an error event and is
// otherwise ignored, so a confused client can recover on the same
// connection.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("chat upgrade failed")
		return
	}

	ch := newWSChannel(types.ChannelChat, conn, s.config.WriteBuffer)
	defer ch.Close()

	var sess *session.Session
	defer func() {
		if sess != nil {
			s.deps.Registry.Detach(sess, ch)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, ok := types.DecodeClientFrame(data)
		if !ok {
			ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Invalid JSON"})
			continue
		}

		switch frame.Type {
		case types.TypeConnect:
			if sess != nil {
				ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Already connected"})
				continue
			}
			userKey := s.deps.Resolver.Resolve(frame.UserID, frame.Token)
			sess = s.deps.Registry.Attach(userKey, ch)
			ch.Send(types.ConnectedEvent{
				Type:       types.TypeConnected,
				UserID:     userKey,
				SpriteName: sess.SpriteName(),
			})
			// Replay the queue snapshot so a reconnecting client can
			// reconcile its pending messages.
			st := sess.Queue().Status()
			ch.Send(types.StatusEvent{
				Type:         types.TypeStatus,
				QueueSize:    st.QueueSize,
				IsProcessing: st.IsProcessing,
			})

		case types.TypePing:
			if sess == nil {
				ch.Send(notConnectedError())
				continue
			}
			ch.Send(types.PongEvent{Type: types.TypePong})

		case types.TypeMessage:
			if sess == nil {
				ch.Send(notConnectedError())
				continue
			}
			s.handleChatMessage(sess, ch, frame)

		case types.TypeCancel:
			if sess == nil {
				ch.Send(notConnectedError())
				continue
			}
			if !sess.Queue().Cancel(frame.MessageID) {
				ch.Send(types.ErrorEvent{
					Type:      types.TypeError,
					MessageID: frame.MessageID,
					Error:     "No such message to cancel",
				})
			}

		case types.TypeHistory:
			if sess == nil {
				ch.Send(notConnectedError())
				continue
			}
			if s.deps.History == nil {
				ch.Send(types.HistoryEvent{Type: types.TypeHistory, Messages: []types.HistoryMessage{}})
				continue
			}
			msgs, err := s.deps.History.Recent(sess.UserKey(), frame.Limit)
			if err != nil {
				logging.Error().Err(err).Str("user", sess.UserKey()).Msg("history load failed")
				ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Failed to load history"})
				continue
			}
			ch.Send(types.HistoryEvent{Type: types.TypeHistory, Messages: msgs})

		case types.TypeNewConversation:
			if sess == nil {
				ch.Send(notConnectedError())
				continue
			}
			if s.deps.History == nil {
				ch.Send(types.ConversationClearedEvent{Type: types.TypeConversationCleared})
				continue
			}
			if err := s.deps.History.EndConversation(sess.UserKey()); err != nil {
				logging.Error().Err(err).Str("user", sess.UserKey()).Msg("conversation reset failed")
				ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Failed to reset conversation"})
				continue
			}
			if s.deps.Provisioner != nil {
				s.deps.Provisioner.ClearResumeID(context.Background(), sess.SpriteName())
			}
			ch.Send(types.ConversationClearedEvent{Type: types.TypeConversationCleared})

		default:
			ch.Send(types.ErrorEvent{
				Type:  types.TypeError,
				Error: "Unknown message type: " + frame.Type,
			})
		}
	}
}

func (s *Server) handleChatMessage(sess *session.Session, ch *wsChannel, frame types.ClientFrame) {
	content := strings.TrimSpace(frame.Content)
	if content == "" {
		ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Empty message"})
		return
	}

	id := frame.MessageID
	if id == "" {
		id = mintMessageID()
	}

	// Admission outcomes (queued, queue_full) are broadcast by the queue
	// itself so every attached chat channel sees them. Duplicate ids are
	// rejected by the queue under its own lock; only the submitting channel
	// is told.
	res := sess.Queue().Submit(id, frame.Content)
	if res.Action == session.ActionDuplicate {
		ch.Send(types.ErrorEvent{
			Type:      types.TypeError,
			MessageID: id,
			Error:     "Duplicate message id",
		})
	}
}

func notConnectedError() types.ErrorEvent {
	return types.ErrorEvent{
		Type:  types.TypeError,
		Error: "Not connected. Send connect message first.",
	}
}
