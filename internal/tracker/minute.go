// Package tracker accumulates per-minute attendance for students in their
// active sessions and rule contexts. A heartbeat is a single signal that a
// student was present in the current minute; the top-of-minute rotation
// collapses however many heartbeats arrived into one binary history entry.
package tracker

import (
	"math"
	"sync/atomic"
)

// historyLimit caps the rolling history at four minutes: the current minute
// plus the three the UI renders.
const historyLimit = 4

// MinuteTracker tracks one (student, context) pair. The heartbeat counter is
// a plain atomic; the history is an immutable copy-on-write slice replaced
// only by rotation, so readers observe either the value before a rotation or
// the value after, never a partial update.
type MinuteTracker struct {
	counter atomic.Int64
	total   atomic.Int64
	history atomic.Pointer[[]byte] // most-recent first, len <= historyLimit
}

// NewMinuteTracker returns a tracker with empty history.
func NewMinuteTracker() *MinuteTracker {
	t := &MinuteTracker{}
	empty := []byte{}
	t.history.Store(&empty)
	return t
}

// RecordHeartbeat marks the student present in the current minute. Any
// positive count within a minute counts as exactly one active minute, so
// repeated calls in the same minute are idempotent with respect to the
// aggregate.
func (t *MinuteTracker) RecordHeartbeat() {
	t.counter.Add(1)
}

// RotateMinute converts the live counter into a binary history entry and
// resets it. Rotation is driven by the registry's top-of-minute tick and is
// the only mutator of the history and the active-minute total; it must not
// be called concurrently with itself for the same tracker.
func (t *MinuteTracker) RotateMinute() {
	var bit byte
	if t.counter.Swap(0) > 0 {
		bit = 1
		t.total.Add(1)
	}

	old := *t.history.Load()
	next := make([]byte, 0, historyLimit)
	next = append(next, bit)
	if len(old) > historyLimit-1 {
		old = old[:historyLimit-1]
	}
	next = append(next, old...)
	t.history.Store(&next)
}

// IsCurrentlyActive reports whether the most recently rotated minute saw a
// heartbeat. The live counter is deliberately not consulted: a minute only
// counts once rotation has sealed it.
func (t *MinuteTracker) IsCurrentlyActive() bool {
	h := *t.history.Load()
	return len(h) > 0 && h[0] == 1
}

// LastThreeMinutes returns the three history entries preceding the most
// recent one, newest first. The most recent entry represents "now" in the
// UI and is excluded.
func (t *MinuteTracker) LastThreeMinutes() []int {
	h := *t.history.Load()
	if len(h) <= 1 {
		return []int{}
	}
	out := make([]int, 0, len(h)-1)
	for _, b := range h[1:] {
		out = append(out, int(b))
	}
	return out
}

// TotalActiveMinutes returns how many rotated minutes saw at least one
// heartbeat.
func (t *MinuteTracker) TotalActiveMinutes() int {
	return int(t.total.Load())
}

// Percentage returns the share of totalMinutes that were active, rounded to
// two decimals. A non-positive totalMinutes yields 0.
func (t *MinuteTracker) Percentage(totalMinutes int) float64 {
	if totalMinutes <= 0 {
		return 0
	}
	return round2(float64(t.total.Load()) / float64(totalMinutes) * 100)
}

// ActiveFor reports whether the student was active for strictly more than
// threshold of totalMinutes. Exactly the threshold is not active, and a
// non-positive totalMinutes is never active.
func (t *MinuteTracker) ActiveFor(totalMinutes int, threshold float64) bool {
	if totalMinutes <= 0 {
		return false
	}
	return float64(t.total.Load()) > threshold*float64(totalMinutes)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
