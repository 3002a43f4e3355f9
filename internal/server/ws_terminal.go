package server

import (
	"net/http"
	"os"

	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/internal/terminal"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// handleTerminalWS runs one terminal channel connection. After the connect
// handshake the framing is dual-mode: a JSON object with a known control
// type (resize, ping) is a control frame, everything else is raw keystrokes
// for the PTY.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("terminal upgrade failed")
		return
	}

	ch := newWSChannel(types.ChannelTerminal, conn, s.config.WriteBuffer)
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

		if sess == nil {
			frame, ok := types.DecodeClientFrame(data)
			if !ok || frame.Type != types.TypeConnect {
				ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "First message must be connect"})
				continue
			}
			userKey := s.deps.Resolver.Resolve(frame.UserID, frame.Token)
			sess = s.deps.Registry.Attach(userKey, ch)
			ch.Send(types.ConnectedEvent{
				Type:       types.TypeConnected,
				SpriteName: sess.SpriteName(),
			})
			if err := s.ensureTerminal(sess); err != nil {
				ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Failed to start terminal: " + err.Error()})
			}
			continue
		}

		if frame, ok := types.DecodeClientFrame(data); ok {
			switch frame.Type {
			case types.TypeResize:
				if term := sess.Terminal(); term != nil {
					term.Resize(frame.Cols, frame.Rows)
				}
				continue
			case types.TypePing:
				ch.Send(types.PongEvent{Type: types.TypePong})
				continue
			case types.TypeConnect:
				ch.Send(types.ErrorEvent{Type: types.TypeError, Error: "Already connected"})
				continue
			}
			// A JSON object with an unknown type tag is not a control frame;
			// it falls through as raw input.
		}

		if term := sess.Terminal(); term != nil {
			term.Write(data)
		}
	}
}

// ensureTerminal starts the session's PTY on first terminal attach. The
// shell runs in the workspace directory; reconnects share the existing PTY.
func (s *Server) ensureTerminal(sess *session.Session) error {
	if sess.Terminal() != nil {
		return nil
	}

	dir, ready := sess.Workspace()
	if !ready {
		if s.deps.Provisioner != nil {
			dir = s.deps.Provisioner.DirFor(sess.SpriteName())
			os.MkdirAll(dir, 0755)
		} else {
			dir = os.TempDir()
		}
	}

	proc, err := terminal.Start(sess.UserKey(), dir, s.deps.Terminal,
		func(out []byte) {
			sess.Broadcast(types.ChannelTerminal, out)
		},
		func() {
			sess.Broadcast(types.ChannelTerminal, types.ErrorEvent{
				Type:  types.TypeError,
				Error: "Terminal exited",
			})
		},
	)
	if err != nil {
		return err
	}
	sess.SetTerminal(proc)
	return nil
}
