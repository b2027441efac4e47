package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Conn serializes writes; gorilla connections allow one concurrent writer.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

// Wrap returns a write-safe Conn.
func Wrap(c *websocket.Conn) *Conn {
	return &Conn{Conn: c}
}

// Send writes one event envelope.
func (c *Conn) Send(event Event, data interface{}) error {
	return c.write(EventEnvelope{Event: event, Data: data})
}

// SendError writes an error event.
func (c *Conn) SendError(code, message string) error {
	return c.write(EventEnvelope{Event: EventError, Error: &ErrorBody{Code: code, Message: message}})
}

// ReadEnvelope reads the next client message with a read deadline.
func (c *Conn) ReadEnvelope(v *RequestEnvelope) error {
	_ = c.SetReadDeadline(time.Now().Add(readWait))
	return c.ReadJSON(v)
}

func (c *Conn) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}
