package parawork

import (
	"sync"
	"time"
)

// Result of a work container's processing attempts.
type terminal int

const (
	pending terminal = iota
	succeeded
	failed
)

// WorkContainer holds per-record processing state: whether it is
// currently dispatched to a worker, how many attempts have been made,
// the earliest time it may be retried, and its terminal result.
//
// Invariant (spec.md §3): a container is takeable iff it is not
// in-flight, not succeeded, and now >= notBefore.
type WorkContainer struct {
	mu        sync.Mutex
	record    *Record
	inFlight  bool
	attempt   int
	notBefore time.Time
	result    terminal
}

func newWorkContainer(r *Record) *WorkContainer {
	return &WorkContainer{record: r, result: pending}
}

// Record returns the underlying record.
func (w *WorkContainer) Record() *Record {
	return w.record
}

// Takeable reports whether this container can be handed to a worker now.
func (w *WorkContainer) Takeable(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.inFlight && w.result != succeeded && !now.Before(w.notBefore)
}

// take marks the container in-flight. Caller must have already confirmed
// Takeable under the shard map's traversal lock.
func (w *WorkContainer) take() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = true
}

// succeed marks the container as terminally succeeded and clears in-flight.
// Idempotent: safe to call on a container whose shard entry has already
// been removed by a rebalance (spec.md §5, "workers ... must tolerate
// missing shard entries").
func (w *WorkContainer) succeed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	w.result = succeeded
}

// fail clears in-flight, marks the latest attempt as failed, computes the
// next eligible retry time from the backoff schedule, and increments the
// attempt counter.
func (w *WorkContainer) fail(now time.Time, backoff time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	w.result = failed
	w.notBefore = now.Add(backoff)
	w.attempt++
}

// IsInFlight reports whether a worker currently owns this container.
func (w *WorkContainer) IsInFlight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// Succeeded reports whether the container's terminal result is Succeeded.
func (w *WorkContainer) Succeeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result == succeeded
}

// Failed reports whether the container's latest terminal result is Failed
// (i.e. it completed an attempt unsuccessfully and is pending retry or
// permanently given up by the caller).
func (w *WorkContainer) Failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result == failed
}

// Complete reports whether the container has a terminal result at all
// (Succeeded or Failed, as opposed to Pending/never-attempted).
func (w *WorkContainer) Complete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result != pending
}

// Attempt returns the number of attempts made so far.
func (w *WorkContainer) Attempt() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempt
}
