// Package emotion aggregates crowd emotion signals.
//
// Each (identity, emotion) pair contributes at most one unit to the global
// counter until it decays. Repeated activations refresh the pair's TTL
// without counting twice.
package emotion

import (
	"fmt"
	"time"

	"github.com/atmx/crowd-engine/internal/broadcast"
	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
)

// DefaultTTL is how long an activation counts after its last refresh.
const DefaultTTL = 5 * time.Minute

// DefaultDecayInterval is how often DecayTick is expected to run.
const DefaultDecayInterval = 30 * time.Second

// ErrUnknownEmotion is returned for names outside the fixed set.
var ErrUnknownEmotion = model.NewError(model.KindValidation, "UnknownEmotion", "emotion: unknown emotion")

// Aggregator holds the global counters and per-identity activation stamps.
// Not safe for concurrent use; owned by the engine loop.
type Aggregator struct {
	notify broadcast.Notifier
	now    func() time.Time
	ttl    time.Duration

	counters map[string]int
	stamps   map[string]map[string]time.Time // identity → emotion → last activation
}

// New creates an aggregator with all counters at zero.
func New(notify broadcast.Notifier, now func() time.Time, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	a := &Aggregator{notify: notify, now: now, ttl: ttl}
	a.Reset()
	return a
}

// Reset zeroes every counter and forgets every activation.
func (a *Aggregator) Reset() {
	a.counters = make(map[string]int, len(model.Emotions))
	for _, e := range model.Emotions {
		a.counters[e] = 0
		metrics.EmotionLevel.WithLabelValues(e).Set(0)
	}
	a.stamps = make(map[string]map[string]time.Time)
}

// Activate records identity expressing name. The counter moves only when
// the pair has no live activation; the stamp is always refreshed.
func (a *Aggregator) Activate(identity, name string) error {
	if !model.IsEmotion(name) {
		return fmt.Errorf("%w: %q", ErrUnknownEmotion, name)
	}

	byEmotion, ok := a.stamps[identity]
	if !ok {
		byEmotion = make(map[string]time.Time)
		a.stamps[identity] = byEmotion
	}

	_, live := byEmotion[name]
	byEmotion[name] = a.now()
	if live {
		return nil
	}

	a.counters[name]++
	metrics.EmotionLevel.WithLabelValues(name).Set(float64(a.counters[name]))
	a.notify.ToAll(protocol.Message{
		Type:    protocol.TypeEmotionUpdate,
		Payload: protocol.EmotionCounters{Counters: a.Snapshot()},
	})
	return nil
}

// DecayTick removes activations older than the TTL, decrementing their
// counters (never below zero). At most one update is broadcast per tick.
func (a *Aggregator) DecayTick() bool {
	now := a.now()
	changed := false

	for identity, byEmotion := range a.stamps {
		for name, last := range byEmotion {
			if now.Sub(last) <= a.ttl {
				continue
			}
			delete(byEmotion, name)
			if a.counters[name] > 0 {
				a.counters[name]--
				metrics.EmotionLevel.WithLabelValues(name).Set(float64(a.counters[name]))
				changed = true
			}
		}
		if len(byEmotion) == 0 {
			delete(a.stamps, identity)
		}
	}

	if changed {
		a.notify.ToAll(protocol.Message{
			Type:    protocol.TypeEmotionUpdate,
			Payload: protocol.EmotionCounters{Counters: a.Snapshot()},
		})
	}
	return changed
}

// Snapshot returns a copy of the counters.
func (a *Aggregator) Snapshot() map[string]int {
	out := make(map[string]int, len(a.counters))
	for k, v := range a.counters {
		out[k] = v
	}
	return out
}
