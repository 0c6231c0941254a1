package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relaycore/internal/authn"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Conn wraps a websocket connection. Writes are serialized by mu because
// gorilla/websocket allows at most one concurrent writer.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool

	// Connection-scoped auth state, owned by the read loop.
	auth      *authn.AuthContext
	challenge string
	ready     bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send emits a server-initiated event. It satisfies session.Sender so the
// directory can route items to this device without knowing the transport.
func (c *Conn) Send(event string, payload any) error {
	return c.write(Reply{Event: event, Data: payload})
}

func (c *Conn) reply(seq *int64, event string, payload any) error {
	return c.write(Reply{Event: event, Seq: seq, Data: payload})
}

func (c *Conn) write(r Reply) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, buf)
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close satisfies session.Sender. The directory calls it when a newer
// connection for the same device takes over.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}
