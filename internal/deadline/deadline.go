// Package deadline turns a caller's remaining-time budget into an absolute
// deadline that leaves room for the supervisor's own teardown.
package deadline

import "time"

// DefaultMargin is reserved out of every budget for teardown and reporting.
const DefaultMargin = 5 * time.Second

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Controller computes deadlines from remaining-time budgets.
type Controller struct {
	Margin time.Duration
	Clock  Clock
}

// NewController returns a Controller using the wall clock. A negative
// margin is treated as zero.
func NewController(margin time.Duration) *Controller {
	if margin < 0 {
		margin = 0
	}
	return &Controller{Margin: margin, Clock: time.Now}
}

func (c *Controller) now() time.Time {
	if c == nil || c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

// Compute returns now + remainingMillis - margin.
func (c *Controller) Compute(remainingMillis int64) Deadline {
	var margin time.Duration
	if c != nil {
		margin = c.Margin
	}
	now := c.now()
	at := now.Add(time.Duration(remainingMillis) * time.Millisecond).Add(-margin)
	return Deadline{at: at, clock: c.now}
}

// Deadline is an absolute point in time with helpers for bounded waits.
type Deadline struct {
	at    time.Time
	clock Clock
}

// At returns the absolute deadline.
func (d Deadline) At() time.Time {
	return d.at
}

func (d Deadline) now() time.Time {
	if d.clock == nil {
		return time.Now()
	}
	return d.clock()
}

// Remaining is the time left before the deadline, never negative.
func (d Deadline) Remaining() time.Duration {
	left := d.at.Sub(d.now())
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the deadline has been reached.
func (d Deadline) Expired() bool {
	return !d.now().Before(d.at)
}

// Timer returns a timer that fires when the deadline passes.
func (d Deadline) Timer() *time.Timer {
	return time.NewTimer(d.Remaining())
}
