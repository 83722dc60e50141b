// Package room brokers private two-party chat rooms through an
// invite/accept/decline handshake.
//
// Per (inviter, invited) pair the lifecycle is
// NoRelation → Invited → {Joined | Declined}; a Joined room returns to
// NoRelation once both participants have left.
package room

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/atmx/crowd-engine/internal/broadcast"
	"github.com/atmx/crowd-engine/internal/chat"
	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
)

// DefaultHistory is how many lines a private room keeps.
const DefaultHistory = 200

var (
	// ErrSelfInvite is returned when an identity invites itself.
	ErrSelfInvite = model.NewError(model.KindStateConflict, "SelfInvite", "room: cannot invite yourself")

	// ErrTargetOffline is returned when the invited identity is not connected.
	ErrTargetOffline = model.NewError(model.KindNotFound, "TargetOffline", "room: target is offline")

	// ErrInvalidInvitation is returned when an accept does not match the
	// pending invitation or the inviter has gone.
	ErrInvalidInvitation = model.NewError(model.KindStateConflict, "InvalidInvitation", "room: invalid invitation")

	// ErrNotInRoom is returned when the sender has no active room.
	ErrNotInRoom = model.NewError(model.KindNotFound, "NotInRoom", "room: not in a private room")
)

// Presence answers whether an identity has a live connection.
type Presence interface {
	IsConnected(identity string) bool
}

// ID returns the deterministic room id for two identities. The result does
// not depend on argument order.
func ID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(pair[0] + "\x00" + pair[1]))
	return "private_" + hex.EncodeToString(sum[:12])
}

// Invitation is a pending invite keyed by the invited identity.
type Invitation struct {
	InviterID string
	RoomID    string
}

type room struct {
	id           string
	participants map[string]struct{}
	log          *chat.Log
}

func (r *room) members() []string {
	out := make([]string, 0, len(r.participants))
	for id := range r.participants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Broker owns rooms, pending invitations and each identity's active room.
// Not safe for concurrent use; owned by the engine loop.
type Broker struct {
	notify   broadcast.Notifier
	presence Presence
	now      func() time.Time
	history  int

	rooms   map[string]*room
	pending map[string]Invitation // invited → invitation
	active  map[string]string     // identity → room ID
}

// New creates an empty broker.
func New(notify broadcast.Notifier, presence Presence, now func() time.Time, history int) *Broker {
	b := &Broker{notify: notify, presence: presence, now: now, history: history}
	b.Reset()
	return b
}

// Reset drops every room and invitation.
func (b *Broker) Reset() {
	b.rooms = make(map[string]*room)
	b.pending = make(map[string]Invitation)
	b.active = make(map[string]string)
	metrics.ActiveRooms.Set(0)
}

// Invite asks target to join a private room with inviter. A newer invite
// replaces any pending one for target. When the pair already shares a room
// both are re-joined to it instead.
func (b *Broker) Invite(inviter, target string) error {
	target = strings.TrimSpace(target)
	if inviter == target {
		return fmt.Errorf("%w: %s", ErrSelfInvite, inviter)
	}
	if !b.presence.IsConnected(target) {
		return fmt.Errorf("%w: %s", ErrTargetOffline, target)
	}

	roomID := ID(inviter, target)
	if r, ok := b.rooms[roomID]; ok && hasBoth(r, inviter, target) {
		b.announceJoin(r)
		return nil
	}

	b.pending[target] = Invitation{InviterID: inviter, RoomID: roomID}
	b.notify.ToIdentity(target, protocol.Message{
		Type:    protocol.TypePrivateInvite,
		Payload: protocol.PrivateInvite{InviterID: inviter, RoomID: roomID},
	})
	slog.Info("private invite sent", "inviter", inviter, "target", target, "room", roomID)
	return nil
}

// Accept joins invited and inviter to the room named by the pending
// invitation. The invitation must match exactly and the inviter must still
// be connected.
func (b *Broker) Accept(invited, inviter, roomID string) error {
	inv, ok := b.pending[invited]
	if !ok || inv.InviterID != inviter || inv.RoomID != roomID {
		return fmt.Errorf("%w: no pending invitation from %s for %s", ErrInvalidInvitation, inviter, roomID)
	}
	if !b.presence.IsConnected(inviter) {
		return fmt.Errorf("%w: inviter %s is offline", ErrInvalidInvitation, inviter)
	}
	delete(b.pending, invited)

	r, ok := b.rooms[roomID]
	if !ok {
		r = &room{id: roomID, participants: make(map[string]struct{}, 2), log: chat.NewLog(b.history)}
		b.rooms[roomID] = r
		metrics.ActiveRooms.Set(float64(len(b.rooms)))
	}

	for _, id := range []string{inviter, invited} {
		if current, ok := b.active[id]; ok && current != roomID {
			b.Leave(id)
		}
		r.participants[id] = struct{}{}
		b.active[id] = roomID
	}

	b.announceJoin(r)
	slog.Info("private room joined", "room", roomID, "participants", r.members())
	return nil
}

// Decline discards a matching pending invitation and tells the inviter.
// Mismatches are ignored.
func (b *Broker) Decline(invited, inviter, roomID string) {
	inv, ok := b.pending[invited]
	if !ok || inv.InviterID != inviter || inv.RoomID != roomID {
		return
	}
	delete(b.pending, invited)
	b.notify.ToIdentity(inviter, protocol.Message{
		Type:    protocol.TypePrivateDeclined,
		Payload: protocol.PrivateDeclined{InvitedID: invited, RoomID: roomID},
	})
}

// SendMessage appends text to sender's active room and delivers it to the
// room's current members only.
func (b *Broker) SendMessage(sender, text string) (model.ChatMessage, error) {
	roomID, ok := b.active[sender]
	if !ok {
		return model.ChatMessage{}, fmt.Errorf("%w: %s", ErrNotInRoom, sender)
	}
	msg, err := chat.NewMessage(sender, text, b.now())
	if err != nil {
		return model.ChatMessage{}, err
	}

	r := b.rooms[roomID]
	r.log.Append(msg)
	b.notify.ToIdentities(r.members(), protocol.Message{Type: protocol.TypeNewPrivateMessage, Payload: msg})
	return msg, nil
}

// Leave removes identity from its active room. The remaining participant
// gets a system notice; an empty room is destroyed.
func (b *Broker) Leave(identity string) (string, bool) {
	roomID, ok := b.active[identity]
	if !ok {
		return "", false
	}
	delete(b.active, identity)

	r := b.rooms[roomID]
	delete(r.participants, identity)
	if len(r.participants) == 0 {
		delete(b.rooms, roomID)
		metrics.ActiveRooms.Set(float64(len(b.rooms)))
		slog.Info("private room closed", "room", roomID)
		return roomID, true
	}

	notice, err := chat.NewMessage(model.SystemIdentity, identity+" left the room", b.now())
	if err == nil {
		r.log.Append(notice)
		b.notify.ToIdentities(r.members(), protocol.Message{Type: protocol.TypeNewPrivateMessage, Payload: notice})
	}
	return roomID, true
}

// DropInvitation forgets the invitation pending for invited, if any.
func (b *Broker) DropInvitation(invited string) {
	delete(b.pending, invited)
}

// Pending returns the invitation waiting for invited.
func (b *Broker) Pending(invited string) (Invitation, bool) {
	inv, ok := b.pending[invited]
	return inv, ok
}

// RoomOf returns identity's active room.
func (b *Broker) RoomOf(identity string) (string, bool) {
	id, ok := b.active[identity]
	return id, ok
}

// Participants returns the current members of a room.
func (b *Broker) Participants(roomID string) ([]string, bool) {
	r, ok := b.rooms[roomID]
	if !ok {
		return nil, false
	}
	return r.members(), true
}

// History returns a room's log, oldest first.
func (b *Broker) History(roomID string) []model.ChatMessage {
	r, ok := b.rooms[roomID]
	if !ok {
		return nil
	}
	return r.log.Messages()
}

// Count returns the number of open rooms.
func (b *Broker) Count() int { return len(b.rooms) }

func (b *Broker) announceJoin(r *room) {
	members := r.members()
	b.notify.ToIdentities(members, protocol.Message{
		Type: protocol.TypePrivateJoined,
		Payload: protocol.PrivateJoined{
			RoomID:       r.id,
			Participants: members,
			History:      r.log.Messages(),
		},
	})
}

func hasBoth(r *room, a, b string) bool {
	_, okA := r.participants[a]
	_, okB := r.participants[b]
	return okA && okB
}
