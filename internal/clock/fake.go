package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// AfterFunc callbacks run synchronously inside Advance, in deadline order,
// without the clock's lock held.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	ch       chan time.Time
	done     bool
}

// NewFake returns a FakeClock starting at start.
func NewFake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.add(&fakeTimer{clock: c, deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc schedules f. With d <= 0 the call happens before AfterFunc
// returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &fakeTimer{clock: c, done: true}
	}
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.add(t)
	c.mu.Unlock()
	return t
}

// Advance moves time forward by d and fires everything that came due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due, rest []*fakeTimer
	for _, t := range c.pending {
		if t.done {
			continue
		}
		if !t.deadline.After(now) {
			t.done = true
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.pending = rest
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		if t.fn != nil {
			t.fn()
			continue
		}
		select {
		case t.ch <- now:
		default:
		}
	}
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// WaitForTimers blocks until at least n timers are pending. Tests use it to
// avoid advancing before a goroutine has armed its timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

func (c *FakeClock) add(t *fakeTimer) {
	c.pending = append(c.pending, t)
	c.changed.Broadcast()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, t := range c.pending {
		if !t.done {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
