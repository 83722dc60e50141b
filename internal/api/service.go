// Package api provides the read-only HTTP handlers for engine state and the
// settlement ledger.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/crowd-engine/internal/engine"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/store"
)

// snapshotTimeout bounds how long a request waits for the engine loop.
const snapshotTimeout = 2 * time.Second

// Snapshotter reads engine state. Implemented by *engine.Engine.
type Snapshotter interface {
	Snapshot(ctx context.Context) (engine.State, error)
}

// Service serves engine state and settlement history.
type Service struct {
	engine Snapshotter
	ledger store.Ledger
}

// NewService creates the API service.
func NewService(e Snapshotter, ledger store.Ledger) *Service {
	return &Service{engine: e, ledger: ledger}
}

// Routes mounts the handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/state", s.GetState)
	r.Get("/rounds", s.ListRounds)
	r.Get("/actions", s.ListActions)
}

// GetState handles GET /api/v1/state
// Returns connected count, emotion counters, the open round and votes.
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	state, err := s.engine.Snapshot(ctx)
	if err != nil {
		slog.Error("snapshot failed", "err", err)
		writeError(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, state)
}

// ListRounds handles GET /api/v1/rounds?limit=N
// Returns settled rounds, newest first.
func (s *Service) ListRounds(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rounds, err := s.ledger.RecentRounds(r.Context(), limit)
	if err != nil {
		slog.Error("list rounds failed", "err", err)
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}
	if rounds == nil {
		rounds = []model.RoundResult{}
	}
	writeJSON(w, rounds)
}

// ListActions handles GET /api/v1/actions?limit=N
// Returns closed collective actions, newest first.
func (s *Service) ListActions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	actions, err := s.ledger.RecentActions(r.Context(), limit)
	if err != nil {
		slog.Error("list actions failed", "err", err)
		writeError(w, "failed to list actions", http.StatusInternalServerError)
		return
	}
	if actions == nil {
		actions = []model.ActionOutcome{}
	}
	writeJSON(w, actions)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return store.DefaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
