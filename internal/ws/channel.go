package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// lockedChannel wraps a websocket connection behind a write mutex. gorilla
// allows at most one writer on a connection at a time, and a registered
// connection has several: other users' dispatch goroutines via Hub.Send, the
// HTTP mark-read push, the liveness sweep, and its own read loop writing acks
// and error frames.
type lockedChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newLockedChannel(conn *websocket.Conn) *lockedChannel {
	return &lockedChannel{conn: conn}
}

func (c *lockedChannel) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *lockedChannel) Close() error {
	return c.conn.Close()
}
