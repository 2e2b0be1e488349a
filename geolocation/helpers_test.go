package geolocation

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	c       chan time.Time
	at      time.Time
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, c: make(chan time.Time, 1), at: c.now.Add(d)}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			t.c <- c.now
		}
	}
}

// pending counts timers that are neither fired nor stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

type watch struct {
	ch  chan Reading
	ctx context.Context
}

// feedPositioner hands out one unbuffered channel per watch so a test can
// push readings synchronously into a run.
type feedPositioner struct {
	mu       sync.Mutex
	watches  []*watch
	insecure bool
	err      error
	opts     PositionOptions
}

func (p *feedPositioner) WatchPosition(ctx context.Context, opts PositionOptions) (<-chan Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.opts = opts
	w := &watch{ch: make(chan Reading), ctx: ctx}
	p.watches = append(p.watches, w)
	return w.ch, nil
}

func (p *feedPositioner) SecureContext() bool { return !p.insecure }

func (p *feedPositioner) watch(i int) *watch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watches[i]
}

// send delivers r on watch i and reports whether the run took it.
func (p *feedPositioner) send(i int, r Reading) bool {
	w := p.watch(i)
	select {
	case w.ch <- r:
		return true
	case <-w.ctx.Done():
		return false
	case <-time.After(time.Second):
		return false
	}
}

func acc(accuracy float64) Reading {
	return Reading{Sample: Sample{Latitude: -16.4677, Longitude: -54.6368, Accuracy: accuracy}}
}

func at(lat, lng, accuracy float64) Reading {
	return Reading{Sample: Sample{Latitude: lat, Longitude: lng, Accuracy: accuracy}}
}

func nextProgress(t *testing.T, sub *Subscription) Progress {
	t.Helper()
	select {
	case p, ok := <-sub.Progress():
		if !ok {
			t.Fatalf("progress channel closed")
		}
		return p
	case <-time.After(time.Second):
		t.Fatalf("no progress event")
	}
	return Progress{}
}

func waitOutcome(t *testing.T, sub *Subscription) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	select {
	case <-sub.Done():
	case <-ctx.Done():
		t.Fatalf("run did not finish")
	}
	o, _ := sub.Outcome()
	return o
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WarmupSamples = 0
	return cfg
}
