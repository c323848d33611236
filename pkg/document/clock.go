package document

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing timestamps at microsecond
// resolution, the precision documents are stored with. Two documents
// saved through one Clock never share a timestamp.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock wraps now; nil means time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the current time, bumped past every earlier reading.
func (c *Clock) Now() time.Time {
	return c.After(time.Time{})
}

// After is Now, but also strictly later than floor.
func (c *Clock) After(floor time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	if !floor.IsZero() && !t.After(floor) {
		t = floor.Truncate(time.Microsecond).Add(time.Microsecond)
	}
	c.last = t
	return t
}
