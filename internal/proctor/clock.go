package proctor

import (
	"sync"
	"time"
)

// TickKind discriminates clock signals delivered to the session mailbox.
type TickKind int

const (
	// TickLowTime is purely advisory; it causes no state transition.
	TickLowTime TickKind = iota
	// TickDeadline ends the attempt. Double delivery is tolerated: the
	// session treats a second fire after leaving ACTIVE/WARNED as a no-op.
	TickDeadline
	// TickSectionDeadline expires the current section's own budget.
	TickSectionDeadline
)

// Tick is one clock signal.
type Tick struct {
	Kind         TickKind
	SectionIndex int
}

// Clock owns the countdown for one session: the hard deadline, an advisory
// low-time warning, and at most one sub-countdown for the current section.
// Ticks are delivered through the fire callback, which must not block.
type Clock struct {
	mu        sync.Mutex
	deadline  time.Time
	now       func() time.Time
	fire      func(Tick)
	deadlineT *time.Timer
	lowTimeT  *time.Timer
	sectionT  *time.Timer
	stopped   bool
}

// NewClock schedules the deadline and low-time timers. lowTimeBefore is how
// long before the deadline the advisory warning fires; zero or negative
// disables it. Timer durations are computed against the injected now source
// so the arithmetic stays testable; the timers themselves are real.
func NewClock(deadline time.Time, lowTimeBefore time.Duration, now func() time.Time, fire func(Tick)) *Clock {
	c := &Clock{
		deadline: deadline,
		now:      now,
		fire:     fire,
	}

	c.deadlineT = time.AfterFunc(deadline.Sub(c.now()), func() {
		c.emit(Tick{Kind: TickDeadline})
	})

	if lowTimeBefore > 0 {
		warnIn := deadline.Add(-lowTimeBefore).Sub(c.now())
		if warnIn > 0 {
			c.lowTimeT = time.AfterFunc(warnIn, func() {
				c.emit(Tick{Kind: TickLowTime})
			})
		}
	}

	return c
}

// StartSection arms the sub-countdown for a section with its own budget.
// The effective sub-deadline is min(now+budget, session deadline); a
// sub-deadline at or past the session deadline is pointless and skipped.
// Any previous section timer is cancelled first.
func (c *Clock) StartSection(index int, budget time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sectionT != nil {
		c.sectionT.Stop()
		c.sectionT = nil
	}
	if c.stopped || budget <= 0 {
		return
	}

	sectionDeadline := c.now().Add(budget)
	if !sectionDeadline.Before(c.deadline) {
		return
	}

	c.sectionT = time.AfterFunc(budget, func() {
		c.emit(Tick{Kind: TickSectionDeadline, SectionIndex: index})
	})
}

// Remaining returns the time left until the session deadline, floored at 0.
func (c *Clock) Remaining(now time.Time) time.Duration {
	if r := c.deadline.Sub(now); r > 0 {
		return r
	}
	return 0
}

// Stop cancels every timer. Ticks already in flight may still be delivered;
// the session ignores them once terminal.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.deadlineT.Stop()
	if c.lowTimeT != nil {
		c.lowTimeT.Stop()
	}
	if c.sectionT != nil {
		c.sectionT.Stop()
	}
}

func (c *Clock) emit(t Tick) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if !stopped {
		c.fire(t)
	}
}
