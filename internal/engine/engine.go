// Package engine runs the crowd engine's single-goroutine event loop.
//
// Every component (registry, emotions, lobby, rooms, betting, actions) is
// owned by the loop goroutine. Inbound frames, transport disconnects, timer
// callbacks and HTTP snapshot queries are closures posted to one channel and
// run to completion in arrival order, so components need no locking and
// every handler is all-or-nothing.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/crowd-engine/internal/action"
	"github.com/atmx/crowd-engine/internal/betting"
	"github.com/atmx/crowd-engine/internal/broadcast"
	"github.com/atmx/crowd-engine/internal/chat"
	"github.com/atmx/crowd-engine/internal/emotion"
	"github.com/atmx/crowd-engine/internal/gate"
	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/registry"
	"github.com/atmx/crowd-engine/internal/room"
	"github.com/atmx/crowd-engine/internal/schedule"
)

// ErrStopped is returned when work is submitted to an engine whose loop has
// exited.
var ErrStopped = errors.New("engine: stopped")

// Config tunes the engine. Zero values fall back to the package defaults of
// each component.
type Config struct {
	StartingBalance decimal.Decimal
	BetInterval     time.Duration
	BetDuration     time.Duration
	Catalogue       []betting.Question
	ActionTTL       time.Duration
	EmotionTTL      time.Duration
	DecayInterval   time.Duration
	LobbyHistory    int
	RoomHistory     int
	EventBuffer     int
}

// DefaultStartingBalance is credited on an identity's first login.
var DefaultStartingBalance = decimal.NewFromInt(1000)

func (c Config) withDefaults() Config {
	if !c.StartingBalance.IsPositive() {
		c.StartingBalance = DefaultStartingBalance
	}
	if c.EmotionTTL <= 0 {
		c.EmotionTTL = emotion.DefaultTTL
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = emotion.DefaultDecayInterval
	}
	if c.ActionTTL <= 0 {
		c.ActionTTL = action.DefaultTTL
	}
	if c.LobbyHistory <= 0 {
		c.LobbyHistory = chat.DefaultLobbyHistory
	}
	if c.RoomHistory <= 0 {
		c.RoomHistory = room.DefaultHistory
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 1024
	}
	return c
}

// Journal receives settlement records from betting and actions.
type Journal interface {
	betting.Journal
	action.Journal
}

// Deps are the engine's external collaborators.
type Deps struct {
	// Gate answers whether an identity may log in. Required.
	Gate gate.TokenGate
	// Scheduler drives timers. Nil selects a scheduler that posts callbacks
	// onto the loop; tests pass a *schedule.Manual.
	Scheduler schedule.Scheduler
	// Picker draws questions and winners. Nil selects math/rand.
	Picker betting.Picker
	// Journal records settlements. Optional.
	Journal Journal
}

// Engine owns every component and the event channel feeding them.
type Engine struct {
	cfg  Config
	deps Deps

	events chan func()
	done   chan struct{}
	sched  schedule.Scheduler

	registry *registry.Registry
	bus      *broadcast.Broadcaster
	emotions *emotion.Aggregator
	lobby    *chat.Lobby
	rooms    *room.Broker
	bets     *betting.Engine
	actions  *action.Coordinator

	decay   schedule.Handle
	running bool
}

// New builds an engine. Call Run to start the loop, or drive it directly
// with Start, Dispatch and DropConn from a single goroutine in tests.
func New(cfg Config, deps Deps) *Engine {
	if deps.Gate == nil {
		deps.Gate = gate.NewAllowList(nil)
	}
	e := &Engine{
		cfg:  cfg.withDefaults(),
		deps: deps,
		done: make(chan struct{}),
	}
	e.events = make(chan func(), e.cfg.EventBuffer)
	e.sched = deps.Scheduler
	if e.sched == nil {
		e.sched = schedule.NewLoop(func(fn func()) { e.post(fn) })
	}
	e.build()
	return e
}

// build wires a fresh set of components.
func (e *Engine) build() {
	now := e.sched.Now
	e.registry = registry.New(e.deps.Gate, e.cfg.StartingBalance, now)
	e.bus = broadcast.New(e.registry)
	e.emotions = emotion.New(e.bus, now, e.cfg.EmotionTTL)
	e.lobby = chat.NewLobby(e.bus, now, e.cfg.LobbyHistory)
	e.rooms = room.New(e.bus, e.registry, now, e.cfg.RoomHistory)
	e.bets = betting.New(e.bus, e.registry, e.sched, e.deps.Picker, e.deps.Journal, betting.Config{
		Interval:  e.cfg.BetInterval,
		Duration:  e.cfg.BetDuration,
		Catalogue: e.cfg.Catalogue,
	})
	e.actions = action.New(e.bus, e.registry, e.sched, e.deps.Journal, e.cfg.ActionTTL)
	metrics.ConnectedIdentities.Set(0)
}

// Start begins the betting schedule and emotion decay. Must run on the loop.
func (e *Engine) Start() {
	if e.running {
		return
	}
	e.running = true
	e.bets.Start()
	e.decay = schedule.Every(e.sched, e.cfg.DecayInterval, func() { e.emotions.DecayTick() })
	slog.Info("engine started",
		"bet_interval", e.cfg.BetInterval,
		"bet_duration", e.cfg.BetDuration,
		"decay_interval", e.cfg.DecayInterval,
	)
}

// Stop cancels every timer. Must run on the loop.
func (e *Engine) Stop() {
	if !e.running {
		return
	}
	e.running = false
	e.bets.Stop()
	if e.decay != nil {
		e.decay.Cancel()
		e.decay = nil
	}
}

// Reset stops the engine and discards all state: identities, balances,
// rooms, the open round and votes. Live sockets are not closed. Must run on
// the loop.
func (e *Engine) Reset() {
	e.Stop()
	e.bets.Reset()
	e.actions.Reset()
	e.build()
}

// Run starts the engine and processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.Start()
	defer e.Stop()

	for {
		select {
		case fn := <-e.events:
			e.exec(fn)
		case <-ctx.Done():
			slog.Info("engine stopped")
			return ctx.Err()
		}
	}
}

// exec runs one event, keeping the loop alive if it panics.
func (e *Engine) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}

// post enqueues fn on the loop. It blocks while the queue is full and
// reports false once the loop has exited.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Submit queues a raw inbound frame from conn.
func (e *Engine) Submit(conn registry.Conn, data []byte) error {
	if !e.post(func() { e.Dispatch(conn, data) }) {
		return ErrStopped
	}
	return nil
}

// Disconnect queues the transport-level disconnect of conn.
func (e *Engine) Disconnect(conn registry.Conn) {
	e.post(func() { e.DropConn(conn) })
}

// Snapshot returns the engine's public state, read on the loop.
func (e *Engine) Snapshot(ctx context.Context) (State, error) {
	result := make(chan State, 1)
	if !e.post(func() { result <- e.State() }) {
		return State{}, ErrStopped
	}
	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-e.done:
		return State{}, ErrStopped
	}
}

// RoundSummary is the open round as exposed over HTTP.
type RoundSummary struct {
	protocol.BetProposal
	Pot decimal.Decimal `json:"pot"`
}

// State is a point-in-time view of the engine.
type State struct {
	Connected  int                   `json:"connected"`
	Emotions   map[string]int        `json:"emotions"`
	Rooms      int                   `json:"rooms"`
	Round      *RoundSummary         `json:"round,omitempty"`
	Action     *protocol.ActionState `json:"action,omitempty"`
	LastAction *protocol.ActionState `json:"lastAction,omitempty"`
	ServerTime time.Time             `json:"serverTime"`
}

// State reads the engine's public state. Must run on the loop.
func (e *Engine) State() State {
	s := State{
		Connected:  e.registry.ConnectedCount(),
		Emotions:   e.emotions.Snapshot(),
		Rooms:      e.rooms.Count(),
		ServerTime: e.sched.Now(),
	}
	if r, ok := e.bets.Active(); ok {
		s.Round = &RoundSummary{BetProposal: r.Proposal(), Pot: r.Pot}
	}
	if a, ok := e.actions.Active(); ok {
		st := a.State()
		s.Action = &st
	}
	if a, ok := e.actions.LastCompleted(); ok {
		st := a.State()
		s.LastAction = &st
	}
	return s
}
