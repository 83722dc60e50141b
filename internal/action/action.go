// Package action arbitrates a single quorum-gated collective-action vote.
//
// Lifecycle: None → Active → {Succeeded | Expired} → None. The terminal
// action is kept as the last completed one for late joiners while the
// active slot is cleared.
package action

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/crowd-engine/internal/broadcast"
	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/schedule"
)

// DefaultTTL is how long a vote stays open without reaching quorum.
const DefaultTTL = 5 * time.Minute

// MaxProposalRunes caps proposal text.
const MaxProposalRunes = 200

// Vote choices.
const (
	ChoiceYes = "yes"
	ChoiceNo  = "no"
)

var (
	ErrActionAlreadyActive = model.NewError(model.KindStateConflict, "ActionAlreadyActive", "action: a vote is already in progress")
	ErrNoActiveAction      = model.NewError(model.KindNotFound, "NoActiveAction", "action: no active vote")
	ErrAlreadyVoted        = model.NewError(model.KindStateConflict, "AlreadyVoted", "action: already voted")
	ErrInvalidChoice       = model.NewError(model.KindValidation, "InvalidChoice", "action: choice must be yes or no")
	ErrEmptyProposal       = model.NewError(model.KindValidation, "EmptyProposal", "action: proposal text is empty")
)

// RequiredVotes is the quorum: ceil(connected / 2), at least one.
func RequiredVotes(connected int) int {
	if connected < 1 {
		return 1
	}
	return (connected + 1) / 2
}

// Presence reports how many identities are connected.
type Presence interface {
	ConnectedCount() int
}

// Journal receives terminal actions. It must not block.
type Journal interface {
	ActionClosed(outcome model.ActionOutcome)
}

// Action is one collective-action vote.
type Action struct {
	ID            string
	Text          string
	ProposerID    string
	YesVotes      int
	NoVotes       int
	RequiredVotes int
	Voters        map[string]struct{}
	StartTime     time.Time
	ExpiresAt     time.Time
	Status        model.ActionStatus

	expiry schedule.Handle
}

// State renders the action for clients.
func (a *Action) State() protocol.ActionState {
	return protocol.ActionState{
		ID:            a.ID,
		Text:          a.Text,
		ProposerID:    a.ProposerID,
		YesVotes:      a.YesVotes,
		NoVotes:       a.NoVotes,
		RequiredVotes: a.RequiredVotes,
		Status:        a.Status,
		StartTime:     a.StartTime,
		ExpiresAt:     a.ExpiresAt,
	}
}

// Coordinator owns the active vote. Not safe for concurrent use; owned by
// the engine loop.
type Coordinator struct {
	notify   broadcast.Notifier
	presence Presence
	sched    schedule.Scheduler
	journal  Journal
	ttl      time.Duration

	active *Action
	last   *Action
}

// New creates a coordinator. journal may be nil.
func New(notify broadcast.Notifier, presence Presence, sched schedule.Scheduler, journal Journal, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{notify: notify, presence: presence, sched: sched, journal: journal, ttl: ttl}
}

// Reset cancels any active vote and forgets the last completed one.
func (c *Coordinator) Reset() {
	if c.active != nil && c.active.expiry != nil {
		c.active.expiry.Cancel()
	}
	c.active = nil
	c.last = nil
}

// Active returns the vote in progress.
func (c *Coordinator) Active() (*Action, bool) { return c.active, c.active != nil }

// LastCompleted returns the most recent terminal vote.
func (c *Coordinator) LastCompleted() (*Action, bool) { return c.last, c.last != nil }

// Propose opens a vote on text and schedules its expiry.
func (c *Coordinator) Propose(identity, text string) (*Action, error) {
	if c.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrActionAlreadyActive, c.active.ID)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyProposal
	}
	if r := []rune(text); len(r) > MaxProposalRunes {
		text = string(r[:MaxProposalRunes])
	}

	now := c.sched.Now()
	a := &Action{
		ID:            uuid.New().String(),
		Text:          text,
		ProposerID:    identity,
		RequiredVotes: RequiredVotes(c.presence.ConnectedCount()),
		Voters:        make(map[string]struct{}),
		StartTime:     now,
		ExpiresAt:     now.Add(c.ttl),
		Status:        model.ActionActive,
	}
	id := a.ID
	a.expiry = c.sched.After(c.ttl, func() { c.Expire(id) })
	c.active = a

	c.notify.ToAll(protocol.Message{Type: protocol.TypeActionProposal, Payload: a.State()})
	slog.Info("collective action proposed", "action", a.ID, "proposer", identity, "required", a.RequiredVotes)
	return a, nil
}

// Vote records identity's choice. Reaching quorum ends the vote as
// succeeded and cancels its expiry.
func (c *Coordinator) Vote(identity, choice string) error {
	a := c.active
	if a == nil {
		return ErrNoActiveAction
	}
	if _, voted := a.Voters[identity]; voted {
		return fmt.Errorf("%w: %s", ErrAlreadyVoted, identity)
	}

	switch strings.ToLower(strings.TrimSpace(choice)) {
	case ChoiceYes:
		a.YesVotes++
	case ChoiceNo:
		a.NoVotes++
	default:
		return fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	a.Voters[identity] = struct{}{}
	a.RequiredVotes = RequiredVotes(c.presence.ConnectedCount())

	if a.YesVotes >= a.RequiredVotes {
		if a.expiry != nil {
			a.expiry.Cancel()
		}
		c.close(a, model.ActionSucceeded, protocol.TypeActionSuccess)
		return nil
	}

	c.notify.ToAll(protocol.Message{Type: protocol.TypeActionUpdate, Payload: a.State()})
	return nil
}

// Expire ends the active vote without quorum if its id matches. A stale id
// is ignored.
func (c *Coordinator) Expire(actionID string) bool {
	a := c.active
	if a == nil || a.ID != actionID {
		return false
	}
	c.close(a, model.ActionExpired, protocol.TypeActionExpired)
	return true
}

func (c *Coordinator) close(a *Action, status model.ActionStatus, event string) {
	a.Status = status
	c.active = nil
	c.last = a
	metrics.ActionsClosed.WithLabelValues(string(status)).Inc()

	c.notify.ToAll(protocol.Message{Type: event, Payload: a.State()})

	if c.journal != nil {
		c.journal.ActionClosed(model.ActionOutcome{
			ActionID:      a.ID,
			Text:          a.Text,
			ProposerID:    a.ProposerID,
			YesVotes:      a.YesVotes,
			NoVotes:       a.NoVotes,
			RequiredVotes: a.RequiredVotes,
			Status:        status,
			StartedAt:     a.StartTime,
			ClosedAt:      c.sched.Now(),
		})
	}

	slog.Info("collective action closed",
		"action", a.ID,
		"status", status,
		"yes", a.YesVotes,
		"no", a.NoVotes,
		"required", a.RequiredVotes,
	)
}
