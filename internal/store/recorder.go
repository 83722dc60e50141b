package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/model"
)

// DefaultRecorderBuffer is the number of settlements queued before drops.
const DefaultRecorderBuffer = 256

const writeTimeout = 5 * time.Second

type record struct {
	round  *model.RoundResult
	action *model.ActionOutcome
}

// Recorder writes settlements to a Ledger from its own goroutine so the
// engine loop never waits on I/O. It satisfies betting.Journal and
// action.Journal. When the queue is full the record is dropped and counted.
type Recorder struct {
	ledger Ledger
	queue  chan record

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts a recorder over ledger. Call Close to flush and stop.
func NewRecorder(ledger Ledger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	r := &Recorder{
		ledger: ledger,
		queue:  make(chan record, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// RoundSettled queues a round result.
func (r *Recorder) RoundSettled(result model.RoundResult) {
	r.enqueue(record{round: &result}, "round")
}

// ActionClosed queues an action outcome.
func (r *Recorder) ActionClosed(outcome model.ActionOutcome) {
	r.enqueue(record{action: &outcome}, "action")
}

func (r *Recorder) enqueue(rec record, kind string) {
	select {
	case r.queue <- rec:
	default:
		metrics.LedgerWrites.WithLabelValues(kind, "dropped").Inc()
		slog.Warn("ledger queue full, settlement dropped", "kind", kind)
	}
}

// Close stops accepting records and waits for queued ones to be written.
// Records enqueued after Close panic, so stop the engine first.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.queue) })
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var (
		kind string
		id   string
		err  error
	)
	switch {
	case rec.round != nil:
		kind, id = "round", rec.round.RoundID
		err = r.ledger.RecordRound(ctx, rec.round)
	case rec.action != nil:
		kind, id = "action", rec.action.ActionID
		err = r.ledger.RecordAction(ctx, rec.action)
	default:
		return
	}

	if err != nil {
		metrics.LedgerWrites.WithLabelValues(kind, "error").Inc()
		slog.Error("ledger write failed", "kind", kind, "id", id, "err", err)
		return
	}
	metrics.LedgerWrites.WithLabelValues(kind, "ok").Inc()
}
