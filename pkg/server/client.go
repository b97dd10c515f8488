package server

import (
	"sync"
	"time"

	"github.com/linguameet/linguameet/pkg/model"
)

// conn is the write side of a client connection. *websocket.Conn satisfies
// it; tests substitute a recorder. WriteMessage carries the control frames
// (keepalive pings), WriteJSON the protocol messages.
type conn interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// client is one live connection together with its coordinator-owned state.
// The profile and session membership fields are guarded by the coordinator
// mutex, not by the client itself.
type client struct {
	id   model.ClientID
	conn conn

	writeMu      sync.Mutex // serializes writes to the connection
	writeTimeout time.Duration

	// guarded by Server.mu
	profile   model.Profile
	sessionID string // "" = not part of any session
}

func newClient(id model.ClientID, c conn, writeTimeout time.Duration) *client {
	return &client{
		id:           id,
		conn:         c,
		writeTimeout: writeTimeout,
	}
}

// send writes one JSON message to the connection. Safe for concurrent use.
// A failed write is reported to the caller but the connection is not torn
// down here; the read loop notices it is dead and runs the disconnect path.
func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(v)
}

func (c *client) close() error {
	return c.conn.Close()
}
