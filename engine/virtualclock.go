package engine

import (
	"sync"
	"time"
)

// VirtualClock is a Clock driven by Advance calls instead of real time.
// Advance runs the callbacks of due timers synchronously, ordered by their
// due time, moving Now along with them; equal due times fire in creation
// order. Ticker ticks are delivered through their channel with a one-tick
// buffer, dropped when the receiver lags, which mirrors how a slow receiver
// behaves against a real ticker.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*virtualTimer
	tickers []*virtualTicker
}

func NewVirtualClock() *VirtualClock {
	return &VirtualClock{now: time.Unix(0, 0)}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &virtualTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.seq++
	c.timers = append(c.timers, t)
	return t
}

func (c *VirtualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &virtualTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing everything that comes due.
// Timer callbacks run on the caller's goroutine without the clock lock held,
// so they are free to schedule new timers; a new timer due within the window
// fires during the same Advance.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		if t.at.After(c.now) {
			c.now = t.at
			c.deliverTicks()
		}
		t.fired = true
		f := t.f
		c.mu.Unlock()
		f()
		c.mu.Lock()
	}
	c.now = target
	c.deliverTicks()
	c.compact()
	c.mu.Unlock()
}

// nextDue finds the earliest pending timer at or before target. Caller holds
// the lock.
func (c *VirtualClock) nextDue(target time.Time) *virtualTimer {
	var next *virtualTimer
	for _, t := range c.timers {
		if t.stopped || t.fired || t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (c *VirtualClock) deliverTicks() {
	for _, tk := range c.tickers {
		if tk.stopped {
			continue
		}
		for !tk.next.After(c.now) {
			select {
			case tk.ch <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.interval)
		}
	}
}

func (c *VirtualClock) compact() {
	kept := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			kept = append(kept, t)
		}
	}
	c.timers = kept
	keptTickers := c.tickers[:0]
	for _, tk := range c.tickers {
		if !tk.stopped {
			keptTickers = append(keptTickers, tk)
		}
	}
	c.tickers = keptTickers
}

type virtualTimer struct {
	clock   *VirtualClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	armed := !t.stopped && !t.fired
	t.stopped = true
	return armed
}

type virtualTicker struct {
	clock    *VirtualClock
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }

func (t *virtualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
