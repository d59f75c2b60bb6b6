// Package testutil holds deterministic helpers shared by tests and the
// scenario harness.
package testutil

import (
	"sync"
	"time"
)

// StepClock is a wall clock for tests that advances by a fixed step on
// every read. The first call to Now returns the start time.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	reads int64
}

// NewStepClock creates a clock starting at start. A zero step freezes it.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start.UTC(), step: step}
}

// Now returns the current time and advances the clock by one step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.reads) * c.step)
	c.reads++
	return t
}

// Peek returns the time the next Now call will return.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.reads) * c.step)
}

// Reads returns how many times Now has been called.
func (c *StepClock) Reads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Reset rewinds the clock to its start time.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = 0
}

// Fixed returns a clock function that always returns t.
func Fixed(t time.Time) func() time.Time {
	t = t.UTC()
	return func() time.Time { return t }
}
