// Package model defines the core domain types shared across the crowd engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Emotion names accepted by the aggregator. The set is fixed.
const (
	EmotionHype  = "hype"
	EmotionLove  = "love"
	EmotionRage  = "rage"
	EmotionShock = "shock"
	EmotionLaugh = "laugh"
	EmotionFear  = "fear"
)

// Emotions lists the fixed emotion set in display order.
var Emotions = []string{EmotionHype, EmotionLove, EmotionRage, EmotionShock, EmotionLaugh, EmotionFear}

// IsEmotion reports whether name belongs to the fixed emotion set.
func IsEmotion(name string) bool {
	for _, e := range Emotions {
		if e == name {
			return true
		}
	}
	return false
}

// SystemIdentity is the sender of notices generated by the engine itself.
const SystemIdentity = "system"

// ChatMessage is one line in the lobby or a private room log.
type ChatMessage struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Stake is one wager placed by an identity on a round option.
type Stake struct {
	Option string          `json:"option"`
	Amount decimal.Decimal `json:"amount"`
}

// RoundResult is the immutable settlement record of a betting round.
// Once created, these are never modified.
type RoundResult struct {
	RoundID       string                     `json:"round_id" db:"round_id"`
	Question      string                     `json:"question" db:"question"`
	Options       []string                   `json:"options" db:"options"`
	WinningOption string                     `json:"winning_option" db:"winning_option"`
	Pot           decimal.Decimal            `json:"pot" db:"pot"`
	WinningStake  decimal.Decimal            `json:"winning_stake" db:"winning_stake"`
	Burned        decimal.Decimal            `json:"burned" db:"burned"` // pot not redistributed
	Payouts       map[string]decimal.Decimal `json:"payouts"`
	ResolvedAt    time.Time                  `json:"resolved_at" db:"resolved_at"`
}

// ActionStatus is the lifecycle state of a collective action.
type ActionStatus string

const (
	ActionActive    ActionStatus = "active"
	ActionSucceeded ActionStatus = "succeeded"
	ActionExpired   ActionStatus = "expired"
)

// ActionOutcome is the immutable record of a collective action that reached
// a terminal state.
type ActionOutcome struct {
	ActionID      string       `json:"action_id" db:"action_id"`
	Text          string       `json:"text" db:"text"`
	ProposerID    string       `json:"proposer_id" db:"proposer_id"`
	YesVotes      int          `json:"yes_votes" db:"yes_votes"`
	NoVotes       int          `json:"no_votes" db:"no_votes"`
	RequiredVotes int          `json:"required_votes" db:"required_votes"`
	Status        ActionStatus `json:"status" db:"status"`
	StartedAt     time.Time    `json:"started_at" db:"started_at"`
	ClosedAt      time.Time    `json:"closed_at" db:"closed_at"`
}
