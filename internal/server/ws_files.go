package server

import (
	"errors"
	"net/http"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/internal/files"
	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// handleFilesWS runs one files channel connection: connect handshake, then
// tree requests and change subscriptions. Requests against a workspace that
// has not finished provisioning get a retryable error on the same
// connection.
func (s *Server) handleFilesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("files upgrade failed")
		return
	}

	ch := newWSChannel(types.ChannelFiles, conn, s.config.WriteBuffer)
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

		if sess == nil {
			if frame.Type != types.TypeConnect {
				ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "First message must be connect"})
				continue
			}
			userKey := s.deps.Resolver.Resolve(frame.UserID, frame.Token)
			sess = s.deps.Registry.Attach(userKey, ch)
			ch.Send(types.ConnectedEvent{
				Type:       types.TypeConnected,
				SpriteName: sess.SpriteName(),
			})
			// The initial snapshot is best-effort; a still-provisioning
			// workspace reports a retryable error instead.
			s.sendTree(sess, ch, "")
			continue
		}

		switch frame.Type {
		case types.TypeSubscribe:
			if err := s.ensureWatch(sess); err != nil {
				ch.Send(workspaceError(err))
				continue
			}
			ch.Send(types.SubscribedEvent{Type: types.TypeSubscribed})

		case types.TypeGetTree:
			s.sendTree(sess, ch, frame.Path)

		case types.TypeRefresh:
			s.sendTree(sess, ch, "")

		case types.TypePing:
			ch.Send(types.PongEvent{Type: types.TypePong})

		case types.TypeConnect:
			ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Already connected"})

		default:
			ch.Send(types.ErrorEvent{
				Type:  types.TypeError,
				Error: "Unknown message type: " + frame.Type,
			})
		}
	}
}

// filesService returns a read service for the session's workspace, or
// files.ErrUninitialized while provisioning is still in flight.
func (s *Server) filesService(sess *session.Session) (*files.Service, string, error) {
	dir, ready := sess.Workspace()
	if !ready {
		return nil, "", files.ErrUninitialized
	}
	return files.NewService(dir, s.deps.IgnorePatterns), dir, nil
}

func (s *Server) sendTree(sess *session.Session, ch *wsChannel, path string) {
	svc, _, err := s.filesService(sess)
	if err != nil {
		ch.Send(workspaceError(err))
		return
	}
	tree, err := svc.Tree(path)
	if err != nil {
		ch.Send(workspaceError(err))
		return
	}
	ch.Send(types.TreeEvent{Type: types.TypeTree, Data: tree})
}

// ensureWatch starts the session's workspace watcher on first subscribe.
// Change notifications re-snapshot the tree and fan out to every attached
// files channel.
func (s *Server) ensureWatch(sess *session.Session) error {
	if sess.Watcher() != nil {
		return nil
	}
	svc, dir, err := s.filesService(sess)
	if err != nil {
		return err
	}

	watcher, err := files.Watch(dir, s.deps.IgnorePatterns, func(ev types.FileEvent) {
		event.Publish(event.Event{
			Type: event.FileChanged,
			Data: event.FileChangedData{UserKey: sess.UserKey(), Event: ev},
		})
		sess.Broadcast(types.ChannelFiles, types.FileEventMsg{
			Type:        types.TypeFileEvent,
			EventType:   ev.EventType,
			Path:        ev.Path,
			IsDirectory: ev.IsDirectory,
			DestPath:    ev.DestPath,
		})
		// Clients render from snapshots, not incremental diffs.
		if tree, err := svc.Tree(""); err == nil {
			sess.Broadcast(types.ChannelFiles, types.TreeEvent{Type: types.TypeTree, Data: tree})
		}
	})
	if err != nil {
		return err
	}
	sess.SetWatcher(watcher)
	return nil
}

func workspaceError(err error) types.ErrorEvent {
	msg := err.Error()
	if errors.Is(err, files.ErrUninitialized) {
		msg = "Workspace is still initializing, retry shortly"
	}
	return types.ErrorEvent{Type: types.TypeError, Error: msg}
}
