package clock

import (
	"sort"
	"sync"
	"time"
)

type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at   time.Time
	fn   func()
	done bool
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f for when the clock reaches now+d. Due callbacks run
// synchronously inside Advance or Set. The returned func stops the timer.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	t := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.done {
			return false
		}
		t.done = true
		return true
	}
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fireDue()
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
	c.fireDue()
}

// fireDue runs due timers in deadline order, including timers scheduled by
// the callbacks themselves while still due.
func (c *FakeClock) fireDue() {
	for {
		c.mu.Lock()
		var next *fakeTimer
		pending := c.timers[:0]
		for _, t := range c.timers {
			if t.done {
				continue
			}
			pending = append(pending, t)
		}
		c.timers = pending
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		if len(c.timers) > 0 && !c.timers[0].at.After(c.now) {
			next = c.timers[0]
			next.done = true
		}
		c.mu.Unlock()

		if next == nil {
			return
		}
		next.fn()
	}
}
