// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock set to initial. Time moves only when Advance
// or Set is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.tickersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	tickers        []*fakeTicker
	tickersChanged *sync.Cond
}

type fakeTicker struct {
	next     time.Time
	interval time.Duration
	channel  chan time.Time
	stopped  bool
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker registers a ticker that fires as Advance crosses each
// multiple of d from now.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ticker := &fakeTicker{
		next:     c.current.Add(d),
		interval: d,
		channel:  make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, ticker)
	c.tickersChanged.Broadcast()

	return &Ticker{
		C: ticker.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ticker.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires every ticker whose
// next deadline falls within the new time. A ticker crossed several
// times fires once per interval; ticks beyond the channel's capacity
// are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	remaining := c.tickers[:0]
	for _, ticker := range c.tickers {
		if ticker.stopped {
			continue
		}
		for !ticker.next.After(c.current) {
			select {
			case ticker.channel <- ticker.next:
			default:
			}
			ticker.next = ticker.next.Add(ticker.interval)
		}
		remaining = append(remaining, ticker)
	}
	c.tickers = remaining
}

// Set moves the clock to t without firing tickers. Use it to pick the
// timestamp of the next report.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// WaitForTickers blocks until at least n tickers are active. Call it
// before Advance when a goroutine under test creates its ticker.
func (c *FakeClock) WaitForTickers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeTickersLocked() < n {
		c.tickersChanged.Wait()
	}
}

func (c *FakeClock) activeTickersLocked() int {
	count := 0
	for _, ticker := range c.tickers {
		if !ticker.stopped {
			count++
		}
	}
	return count
}
