package timex

import (
	"sync"
	"time"
)

// Clock abstracts the wall clock. Token expiry is always computed against a
// Clock rather than a background sweep, so tests can move time forward and
// observe expiry immediately.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a test Clock whose current time is set explicitly.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
