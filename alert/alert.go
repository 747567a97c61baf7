// Package alert decides when a light change should make a sound.
package alert

import (
	"sync"
	"time"

	"hush/traffic"
)

// Sink receives fired alerts. Notify runs on a timer goroutine.
type Sink interface {
	Notify(color traffic.State)
}

type SinkFunc func(color traffic.State)

func (f SinkFunc) Notify(color traffic.State) { f(color) }

type Config struct {
	Cooldown time.Duration // minimum gap between two alerts of the same color
	Delay    time.Duration // how long the light must hold before the alert sounds
}

type stopper interface {
	Stop() bool
}

// Dispatcher schedules at most one pending alert at a time.
type Dispatcher struct {
	sink      Sink
	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	cfg       Config
	lastFired map[traffic.State]time.Time
	pending   stopper
	gen       uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	return &Dispatcher{
		sink: sink,
		now:  time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		cfg:       cfg,
		lastFired: make(map[traffic.State]time.Time),
	}
}

func (d *Dispatcher) SetConfig(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Transition reacts to a light change. Any change drops the pending alert;
// entering yellow or red schedules a new one unless that color is cooling
// down. It reports whether an alert was scheduled.
func (d *Dispatcher) Transition(from, to traffic.State) bool {
	if from == to {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()

	if to == traffic.Green {
		return false
	}
	if last, ok := d.lastFired[to]; ok && d.now().Sub(last) < d.cfg.Cooldown {
		return false
	}

	gen := d.gen
	d.pending = d.afterFunc(d.cfg.Delay, func() { d.fire(gen, to) })
	return true
}

// Cancel drops the pending alert, if any.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	d.cancelLocked()
	d.mu.Unlock()
}

// Reset drops the pending alert and forgets the cooldowns.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.cancelLocked()
	clear(d.lastFired)
	d.mu.Unlock()
}

func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Dispatcher) fire(gen uint64, color traffic.State) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.gen++
	d.lastFired[color] = d.now()
	d.mu.Unlock()

	if d.sink != nil {
		d.sink.Notify(color)
	}
}

func (d *Dispatcher) cancelLocked() {
	d.gen++
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}
