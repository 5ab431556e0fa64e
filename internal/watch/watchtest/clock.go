// Package watchtest provides in-memory doubles for exercising the watch engine
// deterministically.
package watchtest

import (
	"sort"
	"sync"
	"time"

	"guildwatch/internal/watch"
)

// Clock is a manually advanced watch.Clock. Tickers fire during Advance and,
// like time.Ticker, drop ticks their reader has not consumed yet.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*ticker
}

func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) NewTicker(d time.Duration) watch.Ticker {
	if d <= 0 {
		panic("watchtest: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &ticker{c: c, d: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers reports the number of live tickers with interval d (0 = any).
func (c *Clock) Tickers(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if d == 0 || t.d == d {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing due tickers in time order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	for {
		var due []*ticker
		for _, t := range c.tickers {
			if !t.next.After(end) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool { return due[i].next.Before(due[j].next) })
		t := due[0]
		c.now = t.next
		t.next = t.next.Add(t.d)
		select {
		case t.ch <- c.now:
		default:
		}
	}
	c.now = end
	c.mu.Unlock()
}

type ticker struct {
	c    *Clock
	d    time.Duration
	next time.Time
	ch   chan time.Time
}

func (t *ticker) C() <-chan time.Time { return t.ch }

func (t *ticker) Stop() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, o := range t.c.tickers {
		if o == t {
			t.c.tickers = append(t.c.tickers[:i], t.c.tickers[i+1:]...)
			return
		}
	}
}
