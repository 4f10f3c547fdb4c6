package heartbeat

import (
	"sync"
	"testing"
	"time"
)

// fakeClock delivers ticks only when advanced. Ticker sends are unbuffered
// so Advance returns once the receiver has taken the tick.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	at      time.Time
	period  time.Duration
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (w *fakeWaiter) C() <-chan time.Time { return w.ch }
func (w *fakeWaiter) Stop()               { w.once.Do(func() { close(w.stopped) }) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{at: c.now.Add(d), ch: make(chan time.Time, 1), stopped: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	return w.ch
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{at: c.now.Add(d), period: d, ch: make(chan time.Time), stopped: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	return w
}

// Advance moves time forward and fires every due waiter.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeWaiter
	keep := c.waiters[:0]
	for _, w := range c.waiters {
		select {
		case <-w.stopped:
			continue
		default:
		}
		if !w.at.After(now) {
			due = append(due, w)
			if w.period > 0 {
				w.at = w.at.Add(w.period)
				keep = append(keep, w)
			}
			continue
		}
		keep = append(keep, w)
	}
	c.waiters = keep
	c.mu.Unlock()

	for _, w := range due {
		select {
		case w.ch <- now:
		case <-w.stopped:
		}
	}
}

// BlockUntil waits until n live waiters are registered.
func (c *fakeClock) BlockUntil(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		live := 0
		for _, w := range c.waiters {
			select {
			case <-w.stopped:
			default:
				live++
			}
		}
		c.mu.Unlock()
		if live >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clock waiters", n)
}
