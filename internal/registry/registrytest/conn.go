// Package registrytest provides an in-memory registry.Conn for tests.
package registrytest

import (
	"sync"

	"github.com/atmx/crowd-engine/internal/protocol"
)

// Conn records every frame sent to it.
type Conn struct {
	id string

	mu       sync.Mutex
	messages []protocol.Message
	closed   bool
}

// NewConn creates a recording connection with the given socket ID.
func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Messages returns a copy of every frame received so far.
func (c *Conn) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.messages...)
}

// OfType returns the frames of the given type, oldest first.
func (c *Conn) OfType(typ string) []protocol.Message {
	var out []protocol.Message
	for _, m := range c.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent frame of the given type.
func (c *Conn) Last(typ string) (protocol.Message, bool) {
	msgs := c.OfType(typ)
	if len(msgs) == 0 {
		return protocol.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reset forgets recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
