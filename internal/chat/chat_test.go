package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/crowd-engine/internal/broadcast/broadcasttest"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
)

var at = time.Date(2025, 8, 15, 20, 0, 0, 0, time.UTC)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr error
	}{
		{name: "trimmed", text: "  goal!  ", want: "goal!"},
		{name: "blank", text: " \t\n", wantErr: model.ErrEmptyMessage},
		{name: "empty", text: "", wantErr: model.ErrEmptyMessage},
		{name: "truncated", text: strings.Repeat("é", MaxMessageRunes+20), want: strings.Repeat("é", MaxMessageRunes)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg, err := NewMessage("fan1", tc.text, at)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, msg.Text)
			assert.Equal(t, "fan1", msg.Identity)
			assert.NotEmpty(t, msg.ID)
			assert.Equal(t, at, msg.Timestamp)
		})
	}
}

func TestLog_KeepsNewest(t *testing.T) {
	l := NewLog(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		msg, err := NewMessage("fan1", text, at)
		require.NoError(t, err)
		l.Append(msg)
	}

	var got []string
	for _, m := range l.Messages() {
		got = append(got, m.Text)
	}
	assert.Equal(t, []string{"c", "d", "e"}, got)
}

func TestLobby_SendBroadcastsToEveryone(t *testing.T) {
	rec := &broadcasttest.Recorder{}
	lobby := NewLobby(rec, func() time.Time { return at }, DefaultLobbyHistory)

	_, err := lobby.Send("fan1", "   ")
	require.ErrorIs(t, err, model.ErrEmptyMessage)
	assert.Empty(t, rec.Deliveries)

	msg, err := lobby.Send("fan1", "what a save")
	require.NoError(t, err)

	d, ok := rec.Last(protocol.TypeNewMessage)
	require.True(t, ok)
	assert.Equal(t, []string{broadcasttest.Everyone}, d.To)
	assert.Equal(t, msg, d.Msg.Payload)
	assert.Len(t, lobby.History(), 1)
}
