// Package chat holds bounded message logs and the general lobby chat.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/atmx/crowd-engine/internal/broadcast"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
)

const (
	// DefaultLobbyHistory is how many lobby lines are kept for late joiners.
	DefaultLobbyHistory = 100

	// MaxMessageRunes caps a single chat line.
	MaxMessageRunes = 500
)

// NewMessage validates text and stamps a chat line. Text is trimmed and
// truncated to MaxMessageRunes.
func NewMessage(identity, text string, at time.Time) (model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ChatMessage{}, model.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		text = string([]rune(text)[:MaxMessageRunes])
	}
	return model.ChatMessage{
		ID:        ulid.Make().String(),
		Identity:  identity,
		Text:      text,
		Timestamp: at,
	}, nil
}

// Log is an append-only message log that keeps the newest limit entries.
type Log struct {
	limit    int
	messages []model.ChatMessage
}

// NewLog creates a log bounded to limit entries (unbounded if limit <= 0).
func NewLog(limit int) *Log {
	return &Log{limit: limit}
}

// Append adds msg, evicting the oldest entry when full.
func (l *Log) Append(msg model.ChatMessage) {
	l.messages = append(l.messages, msg)
	if l.limit > 0 && len(l.messages) > l.limit {
		l.messages = append([]model.ChatMessage(nil), l.messages[len(l.messages)-l.limit:]...)
	}
}

// Messages returns a copy of the log, oldest first.
func (l *Log) Messages() []model.ChatMessage {
	return append([]model.ChatMessage{}, l.messages...)
}

// Lobby is the general chat every logged-in identity shares.
type Lobby struct {
	notify broadcast.Notifier
	now    func() time.Time
	log    *Log
}

// NewLobby creates a lobby keeping history lines.
func NewLobby(notify broadcast.Notifier, now func() time.Time, history int) *Lobby {
	return &Lobby{notify: notify, now: now, log: NewLog(history)}
}

// Send appends a line from identity and broadcasts it to everyone.
func (l *Lobby) Send(identity, text string) (model.ChatMessage, error) {
	msg, err := NewMessage(identity, text, l.now())
	if err != nil {
		return model.ChatMessage{}, err
	}
	l.log.Append(msg)
	l.notify.ToAll(protocol.Message{Type: protocol.TypeNewMessage, Payload: msg})
	return msg, nil
}

// History returns the retained lobby lines, oldest first.
func (l *Lobby) History() []model.ChatMessage {
	return l.log.Messages()
}
