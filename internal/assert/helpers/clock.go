package helpers

import (
	"sync"
	"time"
)

// TestClock is a manually advanced clock
type TestClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewTestClock creates a clock stopped at start
func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

// Now returns the current time of the clock
func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
