package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/crowd-engine/internal/model"
)

// CachedStore wraps a primary Ledger (PostgreSQL) with a Redis read-through
// cache for the recent lists. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Ledger
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary ledger.
func NewCachedStore(primary Ledger, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) RecordRound(ctx context.Context, r *model.RoundResult) error {
	if err := s.primary.RecordRound(ctx, r); err != nil {
		return err
	}
	s.invalidate(ctx, roundsPattern)
	return nil
}

func (s *CachedStore) RecordAction(ctx context.Context, o *model.ActionOutcome) error {
	if err := s.primary.RecordAction(ctx, o); err != nil {
		return err
	}
	s.invalidate(ctx, actionsPattern)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) RecentRounds(ctx context.Context, limit int) ([]model.RoundResult, error) {
	limit = normalizeLimit(limit)
	key := roundsKey(limit)

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var rounds []model.RoundResult
		if json.Unmarshal(data, &rounds) == nil {
			return rounds, nil
		}
	}

	// Cache miss: read from primary.
	rounds, err := s.primary.RecentRounds(ctx, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(rounds); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return rounds, nil
}

func (s *CachedStore) RecentActions(ctx context.Context, limit int) ([]model.ActionOutcome, error) {
	limit = normalizeLimit(limit)
	key := actionsKey(limit)

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var actions []model.ActionOutcome
		if json.Unmarshal(data, &actions) == nil {
			return actions, nil
		}
	}

	actions, err := s.primary.RecentActions(ctx, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(actions); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return actions, nil
}

// --- Cache helpers ---

// invalidate drops every cached page matching pattern.
func (s *CachedStore) invalidate(ctx context.Context, pattern string) {
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
}

const (
	roundsPattern  = "ledger:rounds:*"
	actionsPattern = "ledger:actions:*"
)

func roundsKey(limit int) string  { return fmt.Sprintf("ledger:rounds:%d", limit) }
func actionsKey(limit int) string { return fmt.Sprintf("ledger:actions:%d", limit) }
