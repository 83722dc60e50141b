// Package store defines the settlement ledger for the crowd engine.
// Implementations include PostgreSQL (durable audit trail), Redis
// (read-through cache for the recent lists), and in-memory (default and
// testing).
//
// The ledger is write-only from the engine's point of view: engine state is
// never restored from it, so balances, rooms and open votes still reset on
// restart.
package store

import (
	"context"

	"github.com/atmx/crowd-engine/internal/model"
)

// DefaultListLimit caps list queries when no limit is given.
const DefaultListLimit = 50

// Ledger records settled rounds and closed collective actions.
type Ledger interface {
	// --- Betting rounds ---

	// RecordRound appends an immutable round settlement.
	RecordRound(ctx context.Context, result *model.RoundResult) error

	// RecentRounds returns the newest settlements first.
	RecentRounds(ctx context.Context, limit int) ([]model.RoundResult, error)

	// --- Collective actions ---

	// RecordAction appends an immutable action outcome.
	RecordAction(ctx context.Context, outcome *model.ActionOutcome) error

	// RecentActions returns the newest outcomes first.
	RecentActions(ctx context.Context, limit int) ([]model.ActionOutcome, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
