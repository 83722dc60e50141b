package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/crowd-engine/internal/model"
)

// MemoryStore implements Ledger with in-memory slices. Used for testing
// and development. Not durable.
type MemoryStore struct {
	mu      sync.RWMutex
	rounds  []model.RoundResult
	actions []model.ActionOutcome
}

// NewMemoryStore creates a new in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) RecordRound(_ context.Context, r *model.RoundResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rounds {
		if existing.RoundID == r.RoundID {
			return fmt.Errorf("round %s already recorded", r.RoundID)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *r
	copy.Options = append([]string(nil), r.Options...)
	copy.Payouts = make(map[string]decimal.Decimal, len(r.Payouts))
	for id, p := range r.Payouts {
		copy.Payouts[id] = p
	}
	s.rounds = append(s.rounds, copy)
	return nil
}

func (s *MemoryStore) RecentRounds(_ context.Context, limit int) ([]model.RoundResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit)
	result := make([]model.RoundResult, 0, limit)
	for i := len(s.rounds) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.rounds[i])
	}
	return result, nil
}

func (s *MemoryStore) RecordAction(_ context.Context, o *model.ActionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.actions {
		if existing.ActionID == o.ActionID {
			return fmt.Errorf("action %s already recorded", o.ActionID)
		}
	}
	s.actions = append(s.actions, *o)
	return nil
}

func (s *MemoryStore) RecentActions(_ context.Context, limit int) ([]model.ActionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit)
	result := make([]model.ActionOutcome, 0, limit)
	for i := len(s.actions) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.actions[i])
	}
	return result, nil
}
