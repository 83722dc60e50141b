// Package protocol defines the JSON frames exchanged with clients over the
// socket. Every frame is {"type": ..., "payload": {...}} in both directions.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/crowd-engine/internal/model"
)

// Inbound event types (client → engine).
const (
	TypeLogin                = "login"
	TypeSendEmotion          = "send_emotion"
	TypePlaceBet             = "place_bet"
	TypeSendMessage          = "send_message"
	TypeSendPrivateInvite    = "send_private_invite"
	TypeAcceptPrivateInvite  = "accept_private_invite"
	TypeDeclinePrivateInvite = "decline_private_invite"
	TypeSendPrivateMessage   = "send_private_message"
	TypeLeavePrivateRoom     = "leave_private_room"
	TypeProposeAction        = "propose_collective_action"
	TypeVoteAction           = "vote_collective_action"
)

// Outbound event types (engine → clients).
const (
	TypeLoginSuccess      = "login_success"
	TypeLoginError        = "login_error"
	TypeCurrentEmotions   = "current_emotions"
	TypeEmotionUpdate     = "emotion_update"
	TypeEmotionError      = "emotion_error"
	TypeNewBetProposal    = "new_bet_proposal"
	TypeBetUpdate         = "bet_update"
	TypeBetEnded          = "bet_ended"
	TypeBetResults        = "bet_results"
	TypeBetError          = "bet_error"
	TypeBalanceUpdate     = "your_balance_update"
	TypeChatHistory       = "chat_history"
	TypeNewMessage        = "new_message"
	TypeChatError         = "chat_error"
	TypePrivateInvite     = "private_room_invite"
	TypePrivateJoined     = "private_room_joined"
	TypePrivateDeclined   = "private_room_declined"
	TypePrivateLeft       = "private_room_left"
	TypeNewPrivateMessage = "new_private_message"
	TypePrivateError      = "private_room_error"
	TypeActionProposal    = "collective_action_proposal"
	TypeActionUpdate      = "collective_action_update"
	TypeActionSuccess     = "collective_action_success"
	TypeActionExpired     = "collective_action_expired"
	TypeActionError       = "action_error"
	TypeError             = "error"
)

// ErrMalformedFrame is returned when a frame cannot be decoded.
var ErrMalformedFrame = model.NewError(model.KindValidation, "MalformedFrame", "protocol: malformed frame")

// Envelope is a decoded inbound frame whose payload is bound lazily.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a raw inbound frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

// Bind decodes the payload into v. An absent payload leaves v untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, e.Type, err)
	}
	return nil
}

// Message is an outbound frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Encode renders an outbound frame as JSON.
func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("protocol: message type is required")
	}
	return json.Marshal(msg)
}

// --- Inbound payloads ---

type LoginRequest struct {
	Identity string `json:"identity"`
}

type EmotionRequest struct {
	EmotionName string `json:"emotionName"`
}

type PlaceBetRequest struct {
	BetID  string          `json:"betId"`
	Option string          `json:"option"`
	Amount decimal.Decimal `json:"amount"`
}

type TextRequest struct {
	Text string `json:"text"`
}

type InviteRequest struct {
	TargetID string `json:"targetId"`
}

type InvitationRequest struct {
	InviterID string `json:"inviterId"`
	RoomID    string `json:"roomId"`
}

type VoteRequest struct {
	Choice string `json:"choice"`
}

// --- Outbound payloads ---

type LoginSuccess struct {
	Identity string          `json:"identity"`
	Balance  decimal.Decimal `json:"balance"`
}

// ErrorReport is the payload of every *_error event.
type ErrorReport struct {
	Reason string     `json:"reason"`
	Code   string     `json:"code"`
	Kind   model.Kind `json:"kind"`
}

type EmotionCounters struct {
	Counters map[string]int `json:"counters"`
}

type BetProposal struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Options  []string  `json:"options"`
	EndTime  time.Time `json:"endTime"`
}

type BetUpdate struct {
	ID  string          `json:"id"`
	Pot decimal.Decimal `json:"pot"`
}

type BetEnded struct {
	ID string `json:"id"`
}

type BetResults struct {
	ID            string                     `json:"id"`
	WinningOption string                     `json:"winningOption"`
	Pot           decimal.Decimal            `json:"pot"`
	Burned        decimal.Decimal            `json:"burned"`
	Payouts       map[string]decimal.Decimal `json:"payouts"`
}

type BalanceUpdate struct {
	Balance decimal.Decimal `json:"balance"`
}

type ChatHistory struct {
	Messages []model.ChatMessage `json:"messages"`
}

type PrivateInvite struct {
	InviterID string `json:"inviterId"`
	RoomID    string `json:"roomId"`
}

type PrivateJoined struct {
	RoomID       string              `json:"roomId"`
	Participants []string            `json:"participants"`
	History      []model.ChatMessage `json:"history"`
}

type PrivateDeclined struct {
	InvitedID string `json:"invitedId"`
	RoomID    string `json:"roomId"`
}

type PrivateLeft struct {
	RoomID string `json:"roomId"`
}

// ActionState describes a collective action in proposal, update, success
// and expiry events.
type ActionState struct {
	ID            string             `json:"id"`
	Text          string             `json:"text"`
	ProposerID    string             `json:"proposerId"`
	YesVotes      int                `json:"yesVotes"`
	NoVotes       int                `json:"noVotes"`
	RequiredVotes int                `json:"requiredVotes"`
	Status        model.ActionStatus `json:"status"`
	StartTime     time.Time          `json:"startTime"`
	ExpiresAt     time.Time          `json:"expiresAt"`
}
