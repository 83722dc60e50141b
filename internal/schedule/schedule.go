// Package schedule represents timed work as explicit cancellable handles.
//
// Callbacks never run concurrently with engine handlers: the Loop scheduler
// posts each fired callback back into the engine's event stream, and the
// Manual scheduler runs them synchronously from Advance.
package schedule

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Handle cancels a scheduled callback. Cancel is idempotent and guarantees
// the callback will not run afterwards, even if its timer already fired.
type Handle interface {
	Cancel()
}

// Scheduler runs callbacks after a delay and reports the current time.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, fn func()) Handle
}

// Every runs fn each period until the returned handle is cancelled.
func Every(s Scheduler, period time.Duration, fn func()) Handle {
	r := &repeating{}
	var arm func()
	arm = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.stopped {
			return
		}
		r.current = s.After(period, func() {
			fn()
			arm()
		})
	}
	arm()
	return r
}

type repeating struct {
	mu      sync.Mutex
	current Handle
	stopped bool
}

func (r *repeating) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.current != nil {
		r.current.Cancel()
	}
}

// --- Loop scheduler (production) ---

// Loop fires callbacks through post, which must enqueue them on the engine's
// event loop.
type Loop struct {
	post func(func())
}

// NewLoop creates a scheduler that delivers callbacks via post.
func NewLoop(post func(func())) *Loop {
	return &Loop{post: post}
}

// Now returns the wall clock in UTC.
func (l *Loop) Now() time.Time { return time.Now().UTC() }

// After schedules fn on the loop once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) Handle {
	h := &loopHandle{}
	h.timer = time.AfterFunc(d, func() {
		l.post(func() {
			// Cancel may run on the loop between the timer firing and
			// this closure executing.
			if h.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return h
}

type loopHandle struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func (h *loopHandle) Cancel() {
	h.cancelled.Store(true)
	h.timer.Stop()
}

// --- Manual scheduler (tests) ---

// Manual is a deterministic scheduler driven by Advance.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	at        time.Time
	seq       int
	fn        func()
	cancelled bool
	owner     *Manual
}

func (t *manualTask) Cancel() {
	t.owner.mu.Lock()
	t.cancelled = true
	t.owner.mu.Unlock()
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the simulated time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After registers fn to run once the clock has advanced by d.
func (m *Manual) After(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{at: m.now.Add(d), seq: m.seq, fn: fn, owner: m}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every due callback in time
// order. Callbacks scheduled while advancing run too if they fall due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// Pending reports how many live callbacks are waiting.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// nextDue pops the earliest live task due at or before target and moves the
// clock to its deadline.
func (m *Manual) nextDue(target time.Time) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.tasks = live
	if len(m.tasks) == 0 {
		return nil
	}

	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at.Equal(m.tasks[j].at) {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].at.Before(m.tasks[j].at)
	})
	t := m.tasks[0]
	if t.at.After(target) {
		return nil
	}
	m.tasks = m.tasks[1:]
	if t.at.After(m.now) {
		m.now = t.at
	}
	return t
}
