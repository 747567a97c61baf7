// Package score keeps the classroom game: points for sustained quiet,
// penalties for loud bursts, an optional goal and an optional time limit.
package score

import (
	"math"
	"strings"
	"sync"
	"time"

	"hush/traffic"
)

const tickInterval = time.Second

type Config struct {
	AddPoints   int
	LosePoints  int
	TimeInGreen float64 // minutes of green per award
	Goal        int
	TimeLimit   float64 // minutes; 0 counts up without limit
}

// greenTarget is the number of green seconds per award, at least one.
func (c Config) greenTarget() int {
	return max(1, int(math.Ceil(c.TimeInGreen*60-1e-9)))
}

func (c Config) limitSeconds() int {
	if c.TimeLimit <= 0 {
		return 0
	}
	return int(math.Round(c.TimeLimit * 60))
}

// Event is a set of things that happened during one Tick or Observe.
type Event uint8

const (
	EventAwarded Event = 1 << iota
	EventPenalized
	EventGoalReached // points reached the goal for the first time since reset
	EventTimeUp
)

func (e Event) Has(f Event) bool { return e&f != 0 }

var eventNames = []struct {
	ev   Event
	name string
}{
	{EventAwarded, "awarded"},
	{EventPenalized, "penalized"},
	{EventGoalReached, "goal"},
	{EventTimeUp, "timeup"},
}

func (e Event) String() string {
	if e == 0 {
		return "tick"
	}
	var parts []string
	for _, n := range eventNames {
		if e.Has(n.ev) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

type Snapshot struct {
	Points      int
	Elapsed     int // seconds
	Green       int // seconds toward the next award
	GoalReached bool
	Active      bool
	Remaining   int // seconds left in timer mode, -1 without a limit
}

// Engine owns the one-second ticker that drives it while active.
type Engine struct {
	interval time.Duration

	mu      sync.Mutex
	cfg     Config
	state   traffic.State
	active  bool
	points  int
	elapsed int
	green   int
	goal    bool
	tickGen uint64
	stop    chan struct{}
	onTick  func(Event)
}

func NewEngine(cfg Config) *Engine {
	return &Engine{interval: tickInterval, cfg: cfg}
}

// OnTick registers a callback invoked after every ticker-driven Tick, on the
// ticker goroutine and without the engine lock held.
func (e *Engine) OnTick(fn func(Event)) {
	e.mu.Lock()
	e.onTick = fn
	e.mu.Unlock()
}

// SetConfig swaps the rules. Lowering the goal to or below the current
// points latches it at once and reports EventGoalReached.
func (e *Engine) SetConfig(cfg Config) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	return e.checkGoalLocked()
}

// Start resumes counting. Time spent paused is never credited.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return
	}
	e.active = true
	e.startTickerLocked()
}

// Pause freezes all counters. It may be called from the OnTick callback.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}
	e.active = false
	e.stopTickerLocked()
}

// Reset zeroes points, time, the green accumulator and the goal flag. An
// active engine keeps running with its ticker restarted from zero.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.points = 0
	e.elapsed = 0
	e.green = 0
	e.goal = false
	if e.active {
		e.stopTickerLocked()
		e.startTickerLocked()
	}
}

// Tick advances the clock by one second.
func (e *Engine) Tick() Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickLocked()
}

// Observe records the current light. Entering red while active costs
// LosePoints, floored at 0, and forfeits the green accumulator.
func (e *Engine) Observe(s traffic.State) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.state
	e.state = s
	if !e.active || s != traffic.Red || prev == traffic.Red {
		return 0
	}
	e.points = max(0, e.points-e.cfg.LosePoints)
	e.green = 0
	return EventPenalized
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		Points:      e.points,
		Elapsed:     e.elapsed,
		Green:       e.green,
		GoalReached: e.goal,
		Active:      e.active,
		Remaining:   -1,
	}
	if limit := e.cfg.limitSeconds(); limit > 0 {
		s.Remaining = max(0, limit-e.elapsed)
	}
	return s
}

func (e *Engine) tickLocked() Event {
	if !e.active {
		return 0
	}
	var ev Event
	e.elapsed++
	if e.state == traffic.Green {
		e.green++
		if e.green >= e.cfg.greenTarget() {
			e.points += e.cfg.AddPoints
			e.green = 0
			ev |= EventAwarded
		}
	}
	ev |= e.checkGoalLocked()
	if limit := e.cfg.limitSeconds(); limit > 0 && e.elapsed >= limit {
		ev |= EventTimeUp
	}
	return ev
}

func (e *Engine) checkGoalLocked() Event {
	if e.goal || e.cfg.Goal <= 0 || e.points < e.cfg.Goal {
		return 0
	}
	e.goal = true
	return EventGoalReached
}

func (e *Engine) startTickerLocked() {
	e.tickGen++
	gen := e.tickGen
	stop := make(chan struct{})
	e.stop = stop
	interval := e.interval

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
			}
			e.mu.Lock()
			if gen != e.tickGen {
				e.mu.Unlock()
				return
			}
			ev := e.tickLocked()
			fn := e.onTick
			e.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		}
	}()
}

func (e *Engine) stopTickerLocked() {
	e.tickGen++
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}
