package parawork

import "time"

// Clock supplies the current time. The default implementation wraps
// time.Now; tests inject a fake so that retry-delay (not_before) behavior
// can be verified without real sleeps (spec.md §5, "Cancellation & timeouts").
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock backed by the OS monotonic clock.
var SystemClock Clock = systemClock{}

// FakeClock is a manually advanced Clock for deterministic tests.
type FakeClock struct {
	t time.Time
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{t: t}
}

// Now returns the fake clock's current time.
func (f *FakeClock) Now() time.Time { return f.t }

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }
