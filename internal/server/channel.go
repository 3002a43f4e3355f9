package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// wsChannel adapts one WebSocket connection to the session Channel
// interface. Outbound events go through a buffered pump so a slow reader
// never blocks the session pipeline; Send reports false on overflow and the
// session disconnects the channel.
type wsChannel struct {
	kind types.ChannelKind
	conn *websocket.Conn

	send chan any
	done chan struct{}
	once sync.Once
}

func newWSChannel(kind types.ChannelKind, conn *websocket.Conn, buffer int) *wsChannel {
	c := &wsChannel{
		kind: kind,
		conn: conn,
		send: make(chan any, buffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsChannel) Kind() types.ChannelKind { return c.kind }

// Send queues an event without blocking. Raw []byte payloads (terminal
// output) go out as text frames; everything else is JSON.
func (c *wsChannel) Send(v any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

func (c *wsChannel) writePump() {
	for {
		select {
		case <-c.done:
			return
		case v := <-c.send:
			var err error
			if raw, ok := v.([]byte); ok {
				err = c.conn.WriteMessage(websocket.TextMessage, raw)
			} else {
				err = c.conn.WriteJSON(v)
			}
			if err != nil {
				logging.Debug().Err(err).Str("kind", string(c.kind)).Msg("channel write failed")
				c.Close()
				return
			}
		}
	}
}

// Close tears down the transport. Idempotent; safe from any goroutine.
func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
