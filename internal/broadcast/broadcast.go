// Package broadcast fans engine notifications out to one connection, a set
// of identities (a room's members), or everyone connected.
package broadcast

import (
	"log/slog"

	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/registry"
)

// Notifier is the outbound surface used by every component.
type Notifier interface {
	ToIdentity(identity string, msg protocol.Message)
	ToIdentities(identities []string, msg protocol.Message)
	ToAll(msg protocol.Message)
}

// Directory resolves who is connected. Implemented by *registry.Registry.
type Directory interface {
	Resolve(identity string) (registry.Conn, error)
	Connections() []registry.Conn
}

// Broadcaster delivers frames through connections looked up in a Directory.
// It keeps no state of its own.
type Broadcaster struct {
	dir Directory
}

// New creates a broadcaster over dir.
func New(dir Directory) *Broadcaster {
	return &Broadcaster{dir: dir}
}

// ToConn sends msg to a single socket, logged in or not.
func (b *Broadcaster) ToConn(conn registry.Conn, msg protocol.Message) {
	if err := conn.Send(msg); err != nil {
		metrics.MessagesDropped.WithLabelValues(msg.Type).Inc()
		slog.Warn("message dropped", "conn", conn.ID(), "type", msg.Type, "err", err)
		return
	}
	metrics.MessagesSent.WithLabelValues(msg.Type).Inc()
}

// ToIdentity sends msg to identity's live connection. Offline identities
// are skipped.
func (b *Broadcaster) ToIdentity(identity string, msg protocol.Message) {
	conn, err := b.dir.Resolve(identity)
	if err != nil {
		return
	}
	b.ToConn(conn, msg)
}

// ToIdentities sends msg to each listed identity that is online.
func (b *Broadcaster) ToIdentities(identities []string, msg protocol.Message) {
	for _, id := range identities {
		b.ToIdentity(id, msg)
	}
}

// ToAll sends msg to every live connection.
func (b *Broadcaster) ToAll(msg protocol.Message) {
	for _, conn := range b.dir.Connections() {
		b.ToConn(conn, msg)
	}
}
