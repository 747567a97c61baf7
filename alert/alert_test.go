package alert

import (
	"sync"
	"testing"
	"time"

	"hush/traffic"
)

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped && !f.fired
	f.stopped = true
	return was
}

// advance moves the clock and fires every due timer in order.
func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	for _, ft := range c.timers {
		if !ft.stopped && !ft.fired && !ft.at.After(c.now) {
			ft.fired = true
			ft.fn()
		}
	}
}

type recorder struct {
	mu    sync.Mutex
	fired []traffic.State
}

func (r *recorder) Notify(c traffic.State) {
	r.mu.Lock()
	r.fired = append(r.fired, c)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func newTestDispatcher(cfg Config) (*Dispatcher, *fakeClock, *recorder) {
	clk := &fakeClock{now: time.Unix(10_000, 0)}
	rec := &recorder{}
	d := NewDispatcher(cfg, rec)
	d.now = func() time.Time { return clk.now }
	d.afterFunc = func(delay time.Duration, fn func()) stopper {
		ft := &fakeTimer{at: clk.now.Add(delay), fn: fn}
		clk.timers = append(clk.timers, ft)
		return ft
	}
	return d, clk, rec
}

func TestFiresAfterDelay(t *testing.T) {
	d, clk, rec := newTestDispatcher(Config{Cooldown: time.Minute, Delay: 2 * time.Second})
	if !d.Transition(traffic.Green, traffic.Yellow) {
		t.Fatal("expected alert to be scheduled")
	}
	clk.advance(time.Second)
	if rec.count() != 0 {
		t.Fatal("fired before delay")
	}
	clk.advance(time.Second)
	if rec.count() != 1 || rec.fired[0] != traffic.Yellow {
		t.Fatalf("fired = %v, want [yellow]", rec.fired)
	}
	if d.Pending() {
		t.Fatal("pending after fire")
	}
}

func TestCooldownSuppressesSecondYellow(t *testing.T) {
	d, clk, rec := newTestDispatcher(Config{Cooldown: time.Minute, Delay: time.Second})
	d.Transition(traffic.Green, traffic.Yellow)
	clk.advance(time.Second)
	d.Transition(traffic.Yellow, traffic.Green)
	clk.advance(10 * time.Second)
	if d.Transition(traffic.Green, traffic.Yellow) {
		t.Fatal("second yellow within cooldown was scheduled")
	}
	clk.advance(5 * time.Second)
	if rec.count() != 1 {
		t.Fatalf("fired %d alerts, want 1", rec.count())
	}

	// Once the cooldown has passed yellow may sound again.
	d.Transition(traffic.Yellow, traffic.Green)
	clk.advance(time.Minute)
	d.Transition(traffic.Green, traffic.Yellow)
	clk.advance(time.Second)
	if rec.count() != 2 {
		t.Fatalf("fired %d alerts, want 2", rec.count())
	}
}

func TestLeavingBeforeDelayCancels(t *testing.T) {
	d, clk, rec := newTestDispatcher(Config{Cooldown: time.Minute, Delay: 3 * time.Second})
	d.Transition(traffic.Green, traffic.Yellow)
	clk.advance(time.Second)
	d.Transition(traffic.Yellow, traffic.Green)
	clk.advance(10 * time.Second)
	if rec.count() != 0 {
		t.Fatalf("fired %v after leaving yellow", rec.fired)
	}
}

func TestYellowToRedReplacesPending(t *testing.T) {
	d, clk, rec := newTestDispatcher(Config{Cooldown: time.Minute, Delay: 2 * time.Second})
	d.Transition(traffic.Green, traffic.Yellow)
	clk.advance(time.Second)
	d.Transition(traffic.Yellow, traffic.Red)
	clk.advance(2 * time.Second)
	if rec.count() != 1 || rec.fired[0] != traffic.Red {
		t.Fatalf("fired = %v, want [red]", rec.fired)
	}
}

func TestCooldownsAreIndependent(t *testing.T) {
	d, clk, rec := newTestDispatcher(Config{Cooldown: time.Minute, Delay: 0})
	d.Transition(traffic.Green, traffic.Yellow)
	clk.advance(0)
	d.Transition(traffic.Yellow, traffic.Red)
	clk.advance(0)
	if rec.count() != 2 {
		t.Fatalf("fired = %v, want yellow and red", rec.fired)
	}
}

func TestCancel(t *testing.T) {
	d, clk, rec := newTestDispatcher(Config{Delay: time.Second})
	d.Transition(traffic.Green, traffic.Red)
	d.Cancel()
	clk.advance(time.Minute)
	if rec.count() != 0 {
		t.Fatal("cancelled alert fired")
	}
}

func TestResetClearsCooldown(t *testing.T) {
	d, clk, rec := newTestDispatcher(Config{Cooldown: time.Hour, Delay: 0})
	d.Transition(traffic.Green, traffic.Red)
	clk.advance(0)
	d.Transition(traffic.Red, traffic.Green)
	d.Reset()
	if !d.Transition(traffic.Green, traffic.Red) {
		t.Fatal("reset should clear the red cooldown")
	}
	clk.advance(0)
	if rec.count() != 2 {
		t.Fatalf("fired %d, want 2", rec.count())
	}
}

func TestStaleTimerIgnored(t *testing.T) {
	d, _, rec := newTestDispatcher(Config{Delay: time.Second})
	d.Transition(traffic.Green, traffic.Yellow)
	gen := d.gen
	d.Cancel()
	d.fire(gen, traffic.Yellow)
	if rec.count() != 0 {
		t.Fatal("stale fire delivered")
	}
}

func TestRealTimer(t *testing.T) {
	got := make(chan traffic.State, 1)
	d := NewDispatcher(Config{Delay: 10 * time.Millisecond}, SinkFunc(func(c traffic.State) { got <- c }))
	d.Transition(traffic.Green, traffic.Red)
	select {
	case c := <-got:
		if c != traffic.Red {
			t.Fatalf("got %v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert never fired")
	}
}
