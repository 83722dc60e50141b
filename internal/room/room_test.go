package room_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/crowd-engine/internal/broadcast/broadcasttest"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/room"
)

// online is a Presence backed by a set.
type online map[string]bool

func (o online) IsConnected(id string) bool { return o[id] }

func newBroker(ids ...string) (*room.Broker, *broadcasttest.Recorder, online) {
	presence := online{}
	for _, id := range ids {
		presence[id] = true
	}
	rec := &broadcasttest.Recorder{}
	now := func() time.Time { return time.Date(2025, 8, 15, 20, 0, 0, 0, time.UTC) }
	return room.New(rec, presence, now, room.DefaultHistory), rec, presence
}

func TestID_Symmetric(t *testing.T) {
	pairs := [][2]string{{"alice", "bob"}, {"0xabc", "0xABC"}, {"a", "a_b"}, {"", "z"}}
	for _, p := range pairs {
		assert.Equal(t, room.ID(p[0], p[1]), room.ID(p[1], p[0]))
	}
	assert.NotEqual(t, room.ID("alice", "bob"), room.ID("alice", "carol"))
	assert.NotEqual(t, room.ID("a_b", "c"), room.ID("a", "b_c"))
}

func TestInvite_Errors(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob")

	err := b.Invite("alice", "alice")
	require.ErrorIs(t, err, room.ErrSelfInvite)
	assert.Equal(t, model.KindStateConflict, model.KindOf(err))

	err = b.Invite("alice", "ghost")
	require.ErrorIs(t, err, room.ErrTargetOffline)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	assert.Empty(t, rec.Deliveries)
}

func TestInvite_NotifiesTarget(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))

	d, ok := rec.Last(protocol.TypePrivateInvite)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, d.To)
	assert.Equal(t, protocol.PrivateInvite{InviterID: "alice", RoomID: room.ID("alice", "bob")}, d.Msg.Payload)

	inv, ok := b.Pending("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", inv.InviterID)
}

func TestInvite_SecondInviterOverwrites(t *testing.T) {
	b, _, _ := newBroker("alice", "bob", "carol")
	require.NoError(t, b.Invite("alice", "bob"))
	require.NoError(t, b.Invite("carol", "bob"))

	inv, ok := b.Pending("bob")
	require.True(t, ok)
	assert.Equal(t, room.Invitation{InviterID: "carol", RoomID: room.ID("carol", "bob")}, inv)

	// The superseded invitation can no longer be accepted.
	err := b.Accept("bob", "alice", room.ID("alice", "bob"))
	require.ErrorIs(t, err, room.ErrInvalidInvitation)
}

func TestAccept_JoinsBothWithHistory(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob")
	id := room.ID("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))
	require.NoError(t, b.Accept("bob", "alice", id))

	_, pending := b.Pending("bob")
	assert.False(t, pending)

	d, ok := rec.Last(protocol.TypePrivateJoined)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob"}, d.To)
	joined := d.Msg.Payload.(protocol.PrivateJoined)
	assert.Equal(t, id, joined.RoomID)
	assert.Empty(t, joined.History)

	for _, who := range []string{"alice", "bob"} {
		got, ok := b.RoomOf(who)
		require.True(t, ok)
		assert.Equal(t, id, got)
	}
	assert.Equal(t, 1, b.Count())
}

func TestAccept_Mismatch(t *testing.T) {
	b, _, _ := newBroker("alice", "bob", "carol")
	require.NoError(t, b.Invite("alice", "bob"))

	cases := []struct {
		name    string
		inviter string
		roomID  string
	}{
		{"wrong inviter", "carol", room.ID("alice", "bob")},
		{"wrong room", "alice", room.ID("alice", "carol")},
	}
	for _, tc := range cases {
		err := b.Accept("bob", tc.inviter, tc.roomID)
		require.ErrorIs(t, err, room.ErrInvalidInvitation, tc.name)
	}

	// No invitation at all.
	err := b.Accept("carol", "alice", room.ID("alice", "carol"))
	require.ErrorIs(t, err, room.ErrInvalidInvitation)
	assert.Zero(t, b.Count())
}

func TestAccept_InviterOffline(t *testing.T) {
	b, _, presence := newBroker("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))
	presence["alice"] = false

	err := b.Accept("bob", "alice", room.ID("alice", "bob"))
	require.ErrorIs(t, err, room.ErrInvalidInvitation)
	assert.Zero(t, b.Count())
}

func TestInvite_ThenTargetDisconnects(t *testing.T) {
	b, _, presence := newBroker("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))

	// Disconnect drops the pending invitation.
	presence["bob"] = false
	b.DropInvitation("bob")
	presence["bob"] = true

	err := b.Accept("bob", "alice", room.ID("alice", "bob"))
	require.ErrorIs(t, err, room.ErrInvalidInvitation)
}

func TestInvite_ExistingRoomRejoins(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob")
	id := room.ID("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))
	require.NoError(t, b.Accept("bob", "alice", id))
	rec.Reset()

	require.NoError(t, b.Invite("bob", "alice"))
	assert.Empty(t, rec.OfType(protocol.TypePrivateInvite))
	assert.Len(t, rec.OfType(protocol.TypePrivateJoined), 1)
	_, pending := b.Pending("alice")
	assert.False(t, pending)
	assert.Equal(t, 1, b.Count())
}

func TestDecline(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob")
	id := room.ID("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))

	b.Decline("bob", "carol", id) // mismatch: silent
	_, pending := b.Pending("bob")
	assert.True(t, pending)
	assert.Empty(t, rec.OfType(protocol.TypePrivateDeclined))

	b.Decline("bob", "alice", id)
	_, pending = b.Pending("bob")
	assert.False(t, pending)

	d, ok := rec.Last(protocol.TypePrivateDeclined)
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, d.To)
	assert.Equal(t, protocol.PrivateDeclined{InvitedID: "bob", RoomID: id}, d.Msg.Payload)
}

func TestSendMessage(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob", "carol")
	id := room.ID("alice", "bob")

	_, err := b.SendMessage("alice", "hi")
	require.ErrorIs(t, err, room.ErrNotInRoom)

	require.NoError(t, b.Invite("alice", "bob"))
	require.NoError(t, b.Accept("bob", "alice", id))

	_, err = b.SendMessage("alice", "   ")
	require.ErrorIs(t, err, model.ErrEmptyMessage)

	msg, err := b.SendMessage("alice", " hi bob ")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", msg.Text)

	d, ok := rec.Last(protocol.TypeNewPrivateMessage)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob"}, d.To)
	assert.Len(t, b.History(id), 1)
}

func TestLeave_NoticeThenDestroyWhenEmpty(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob")
	id := room.ID("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))
	require.NoError(t, b.Accept("bob", "alice", id))
	rec.Reset()

	got, ok := b.Leave("alice")
	require.True(t, ok)
	assert.Equal(t, id, got)

	d, ok := rec.Last(protocol.TypeNewPrivateMessage)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, d.To)
	assert.Equal(t, model.SystemIdentity, d.Msg.Payload.(model.ChatMessage).Identity)
	assert.Equal(t, 1, b.Count())

	_, ok = b.Leave("bob")
	require.True(t, ok)
	assert.Zero(t, b.Count())

	_, ok = b.Leave("bob")
	assert.False(t, ok)
}

func TestAccept_LeavesPreviousRoom(t *testing.T) {
	b, rec, _ := newBroker("alice", "bob", "carol")
	ab := room.ID("alice", "bob")
	require.NoError(t, b.Invite("alice", "bob"))
	require.NoError(t, b.Accept("bob", "alice", ab))
	rec.Reset()

	ac := room.ID("alice", "carol")
	require.NoError(t, b.Invite("carol", "alice"))
	require.NoError(t, b.Accept("alice", "carol", ac))

	got, _ := b.RoomOf("alice")
	assert.Equal(t, ac, got)
	members, ok := b.Participants(ab)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, members)
	assert.Equal(t, 2, b.Count())
}
