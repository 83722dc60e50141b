package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 8, 15, 20, 0, 0, 0, time.UTC)

func TestManual_RunsDueCallbacksInOrder(t *testing.T) {
	m := NewManual(epoch)
	var got []string
	m.After(2*time.Second, func() { got = append(got, "b") })
	m.After(1*time.Second, func() { got = append(got, "a") })
	m.After(5*time.Second, func() { got = append(got, "c") })

	m.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, epoch.Add(3*time.Second), m.Now())
	assert.Equal(t, 1, m.Pending())
}

func TestManual_ClockAtDeadlineDuringCallback(t *testing.T) {
	m := NewManual(epoch)
	var seen time.Time
	m.After(10*time.Second, func() { seen = m.Now() })
	m.Advance(time.Minute)
	assert.Equal(t, epoch.Add(10*time.Second), seen)
}

func TestManual_CancelPreventsRun(t *testing.T) {
	m := NewManual(epoch)
	ran := false
	h := m.After(time.Second, func() { ran = true })
	h.Cancel()
	h.Cancel()
	m.Advance(time.Minute)
	assert.False(t, ran)
	assert.Zero(t, m.Pending())
}

func TestEvery_RepeatsUntilCancelled(t *testing.T) {
	m := NewManual(epoch)
	n := 0
	h := Every(m, 30*time.Second, func() { n++ })

	m.Advance(95 * time.Second)
	assert.Equal(t, 3, n)

	h.Cancel()
	m.Advance(time.Hour)
	assert.Equal(t, 3, n)
}

func TestLoop_PostsCallbackAndHonoursCancel(t *testing.T) {
	posted := make(chan func(), 4)
	l := NewLoop(func(fn func()) { posted <- fn })

	ran := make(chan struct{}, 1)
	l.After(time.Millisecond, func() { ran <- struct{}{} })

	var fn func()
	select {
	case fn = <-posted:
	case <-time.After(time.Second):
		t.Fatal("callback was never posted")
	}
	fn()
	require.Len(t, ran, 1)

	// A handle cancelled after its timer fired must not run its callback.
	h := l.After(time.Millisecond, func() { t.Error("cancelled callback ran") })
	select {
	case fn = <-posted:
	case <-time.After(time.Second):
		t.Fatal("callback was never posted")
	}
	h.Cancel()
	fn()
}
