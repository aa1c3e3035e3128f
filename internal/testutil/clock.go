package testutil

import (
	"sync"
	"time"
)

// Epoch is where every Clock starts. Timestamps stored by SQLite round-trip
// at this precision.
var Epoch = time.Date(2026, time.January, 1, 9, 0, 0, 0, time.UTC)

// Clock is a manual time source. Pass its Now method wherever a
// func() time.Time is accepted.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	tick time.Duration
}

// NewClock returns a Clock stopped at Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Ticking makes each Now call move the clock forward by d after reading
// it, so consecutive records get distinct timestamps.
func (c *Clock) Ticking(d time.Duration) *Clock {
	c.mu.Lock()
	c.tick = d
	c.mu.Unlock()
	return c
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.tick)
	return t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
