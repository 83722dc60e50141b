// Package betting runs timed wager rounds with proportional payout.
//
// A round moves Scheduled → Open → Closed → Resolved and exactly one round
// is live at a time. Rounds are proposed on a fixed period, accept stakes
// until their end time, then pay the pot out to the winning option's
// stakers in proportion to stake.
//
// All monetary values use shopspring/decimal, never float64.
package betting

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/crowd-engine/internal/broadcast"
	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/schedule"
)

const (
	// DefaultInterval is how often a new round is proposed.
	DefaultInterval = 60 * time.Second

	// DefaultDuration is how long a round accepts stakes.
	DefaultDuration = 30 * time.Second

	// MaxStakeExponent bounds the decimal exponent of a stake. Together with
	// PayoutScale it keeps balance and pot arithmetic at a fixed small size.
	MaxStakeExponent int32 = 15
)

var (
	// ErrNoActiveRound is returned when no round is open.
	ErrNoActiveRound = model.NewError(model.KindNotFound, "NoActiveRound", "betting: no active round")

	// ErrRoundMismatch is returned when a stake names a round that is not
	// the open one.
	ErrRoundMismatch = model.NewError(model.KindStateConflict, "NoActiveRound", "betting: round is not open")

	// ErrInvalidOption is returned when the option is not offered.
	ErrInvalidOption = model.NewError(model.KindValidation, "InvalidOption", "betting: invalid option")

	// ErrInvalidAmount is returned for stakes with more than PayoutScale
	// decimal places or an exponent above MaxStakeExponent.
	ErrInvalidAmount = model.NewError(model.KindValidation, "InvalidAmount", "betting: invalid amount")

	// ErrNonPositiveAmount is returned for stakes of zero or less.
	ErrNonPositiveAmount = model.NewError(model.KindValidation, "NonPositiveAmount", "betting: amount must be positive")

	// ErrInsufficientBalance is returned when a stake exceeds the balance.
	ErrInsufficientBalance = model.NewError(model.KindValidation, "InsufficientBalance", "betting: insufficient balance")
)

// Question is one catalogue entry: a prompt and its ordered options.
type Question struct {
	Text    string
	Options []string
}

// DefaultCatalogue is the fixed set of live-event questions.
var DefaultCatalogue = []Question{
	{Text: "Will there be a goal in the next 5 minutes?", Options: []string{"Yes", "No"}},
	{Text: "Who wins the next corner?", Options: []string{"Home", "Away"}},
	{Text: "Next card shown?", Options: []string{"Yellow", "Red", "None"}},
	{Text: "Will the next shot be on target?", Options: []string{"On target", "Off target", "Blocked"}},
	{Text: "Who scores next?", Options: []string{"Home", "Away", "Nobody"}},
	{Text: "Will the crowd start a wave this half?", Options: []string{"Yes", "No"}},
}

// Picker chooses an index in [0, n). *rand.Rand satisfies it.
type Picker interface {
	Intn(n int) int
}

// NewRandomPicker returns a uniformly random picker. It is not safe for
// concurrent use, which is fine for a loop-owned engine.
func NewRandomPicker() Picker {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Wallet holds identity balances. Implemented by *registry.Registry.
type Wallet interface {
	Balance(identity string) (decimal.Decimal, bool)
	Debit(identity string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(identity string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Journal receives settlement records. It must not block.
type Journal interface {
	RoundSettled(result model.RoundResult)
}

// Config tunes round timing and content.
type Config struct {
	Interval  time.Duration
	Duration  time.Duration
	Catalogue []Question
}

// Round is the open wager.
type Round struct {
	ID       string
	Question string
	Options  []string
	EndTime  time.Time
	Pot      decimal.Decimal
	Stakes   map[string][]model.Stake

	resolve schedule.Handle
}

func (r *Round) hasOption(option string) bool {
	for _, o := range r.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Proposal returns the round as announced to clients.
func (r *Round) Proposal() protocol.BetProposal {
	return protocol.BetProposal{
		ID:       r.ID,
		Question: r.Question,
		Options:  append([]string(nil), r.Options...),
		EndTime:  r.EndTime,
	}
}

// Engine owns the single live round. Not safe for concurrent use; owned by
// the engine loop.
type Engine struct {
	notify  broadcast.Notifier
	wallet  Wallet
	sched   schedule.Scheduler
	picker  Picker
	journal Journal
	cfg     Config

	active *Round
	ticker schedule.Handle
}

// New creates a betting engine. journal may be nil.
func New(notify broadcast.Notifier, wallet Wallet, sched schedule.Scheduler, picker Picker, journal Journal, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if len(cfg.Catalogue) == 0 {
		cfg.Catalogue = DefaultCatalogue
	}
	if picker == nil {
		picker = NewRandomPicker()
	}
	return &Engine{
		notify:  notify,
		wallet:  wallet,
		sched:   sched,
		picker:  picker,
		journal: journal,
		cfg:     cfg,
	}
}

// Start proposes a round every Interval until Stop.
func (e *Engine) Start() {
	if e.ticker != nil {
		return
	}
	e.ticker = schedule.Every(e.sched, e.cfg.Interval, func() { e.ProposeRound() })
}

// Stop cancels the proposal schedule and any pending resolution.
func (e *Engine) Stop() {
	if e.ticker != nil {
		e.ticker.Cancel()
		e.ticker = nil
	}
	if e.active != nil && e.active.resolve != nil {
		e.active.resolve.Cancel()
	}
}

// Reset stops the engine and discards the open round without settling it.
// Stakes in a discarded round are not refunded.
func (e *Engine) Reset() {
	e.Stop()
	e.active = nil
	metrics.CurrentPot.Set(0)
}

// Active returns the open round.
func (e *Engine) Active() (*Round, bool) {
	return e.active, e.active != nil
}

// ProposeRound opens a new round unless one is already open.
func (e *Engine) ProposeRound() (*Round, bool) {
	if e.active != nil {
		slog.Warn("round proposal skipped, round still open", "round", e.active.ID)
		return nil, false
	}

	q := e.cfg.Catalogue[e.picker.Intn(len(e.cfg.Catalogue))]
	r := &Round{
		ID:       uuid.New().String(),
		Question: q.Text,
		Options:  append([]string(nil), q.Options...),
		EndTime:  e.sched.Now().Add(e.cfg.Duration),
		Pot:      decimal.Zero,
		Stakes:   make(map[string][]model.Stake),
	}
	id := r.ID
	r.resolve = e.sched.After(e.cfg.Duration, func() { e.ResolveRound(id) })
	e.active = r
	metrics.CurrentPot.Set(0)

	e.notify.ToAll(protocol.Message{Type: protocol.TypeNewBetProposal, Payload: r.Proposal()})
	slog.Info("round proposed", "round", r.ID, "question", r.Question, "end_time", r.EndTime)
	return r, true
}

// PlaceStake debits amount from identity and adds it to the open round.
func (e *Engine) PlaceStake(identity, roundID, option string, amount decimal.Decimal) error {
	r := e.active
	if r == nil {
		return ErrNoActiveRound
	}
	if r.ID != roundID {
		return fmt.Errorf("%w: %s", ErrRoundMismatch, roundID)
	}
	if !r.hasOption(option) {
		return fmt.Errorf("%w: %q", ErrInvalidOption, option)
	}
	// Checked before anything formats or rescales the amount.
	if exp := amount.Exponent(); exp < -PayoutScale || exp > MaxStakeExponent {
		return fmt.Errorf("%w: exponent %d", ErrInvalidAmount, exp)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, amount.String())
	}
	if bal, _ := e.wallet.Balance(identity); amount.GreaterThan(bal) {
		return fmt.Errorf("%w: balance %s, stake %s", ErrInsufficientBalance, bal.String(), amount.String())
	}

	balance, err := e.wallet.Debit(identity, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	r.Pot = r.Pot.Add(amount)
	r.Stakes[identity] = append(r.Stakes[identity], model.Stake{Option: option, Amount: amount})
	metrics.StakesPlaced.Inc()
	metrics.CurrentPot.Set(r.Pot.InexactFloat64())

	e.notify.ToAll(protocol.Message{
		Type:    protocol.TypeBetUpdate,
		Payload: protocol.BetUpdate{ID: r.ID, Pot: r.Pot},
	})
	e.notify.ToIdentity(identity, protocol.Message{
		Type:    protocol.TypeBalanceUpdate,
		Payload: protocol.BalanceUpdate{Balance: balance},
	})

	slog.Info("stake placed",
		"round", r.ID,
		"identity", identity,
		"option", option,
		"amount", amount.String(),
		"pot", r.Pot.String(),
	)
	return nil
}

// ResolveRound settles the open round if its id matches. A stale id (for
// example from a duplicate timer) is ignored.
func (e *Engine) ResolveRound(roundID string) (model.RoundResult, bool) {
	r := e.active
	if r == nil || r.ID != roundID {
		return model.RoundResult{}, false
	}
	if r.resolve != nil {
		r.resolve.Cancel()
	}
	e.active = nil
	metrics.CurrentPot.Set(0)

	winner := r.Options[e.picker.Intn(len(r.Options))]

	winning := make(map[string]decimal.Decimal)
	totalWinning := decimal.Zero
	for id, stakes := range r.Stakes {
		for _, s := range stakes {
			if s.Option == winner {
				winning[id] = winning[id].Add(s.Amount)
				totalWinning = totalWinning.Add(s.Amount)
			}
		}
	}

	payouts := Payout(r.Pot, winning)
	paid := Sum(payouts)

	e.notify.ToAll(protocol.Message{Type: protocol.TypeBetEnded, Payload: protocol.BetEnded{ID: r.ID}})

	for id, amount := range payouts {
		balance, err := e.wallet.Credit(id, amount)
		if err != nil {
			slog.Error("payout credit failed", "round", r.ID, "identity", id, "amount", amount.String(), "err", err)
			continue
		}
		e.notify.ToIdentity(id, protocol.Message{
			Type:    protocol.TypeBalanceUpdate,
			Payload: protocol.BalanceUpdate{Balance: balance},
		})
	}

	result := model.RoundResult{
		RoundID:       r.ID,
		Question:      r.Question,
		Options:       r.Options,
		WinningOption: winner,
		Pot:           r.Pot,
		WinningStake:  totalWinning,
		Burned:        r.Pot.Sub(paid),
		Payouts:       payouts,
		ResolvedAt:    e.sched.Now(),
	}

	e.notify.ToAll(protocol.Message{
		Type: protocol.TypeBetResults,
		Payload: protocol.BetResults{
			ID:            r.ID,
			WinningOption: winner,
			Pot:           r.Pot,
			Burned:        result.Burned,
			Payouts:       payouts,
		},
	})

	switch {
	case r.Pot.IsZero():
		metrics.RoundsSettled.WithLabelValues("empty").Inc()
	case len(payouts) == 0:
		metrics.RoundsSettled.WithLabelValues("burned").Inc()
		slog.Warn("no winning stakes, pot burned", "round", r.ID, "winner", winner, "pot", r.Pot.String())
	default:
		metrics.RoundsSettled.WithLabelValues("paid").Inc()
	}

	if e.journal != nil {
		e.journal.RoundSettled(result)
	}

	slog.Info("round resolved",
		"round", r.ID,
		"winner", winner,
		"pot", r.Pot.String(),
		"paid", paid.String(),
		"winners", len(payouts),
	)
	return result, true
}
