package board

import (
	"sync/atomic"
	"time"
)

// Clock is the uptime counter. The timer interrupt advances it one period
// per tick.
type Clock struct {
	period time.Duration
	ticks  atomic.Uint64
}

// NewClock creates a clock advancing by period per tick.
func NewClock(period time.Duration) *Clock {
	return &Clock{period: period}
}

// Tick advances the clock by one period. It is the timer interrupt handler.
func (c *Clock) Tick() { c.ticks.Add(1) }

// Period returns the tick period.
func (c *Clock) Period() time.Duration { return c.period }

// Uptime returns the time since reset.
func (c *Clock) Uptime() time.Duration {
	return time.Duration(c.ticks.Load()) * c.period
}
