// Package traffic maps a smoothed level onto a green/yellow/red light.
package traffic

import "sync"

type State int

const (
	Green State = iota
	Yellow
	Red
)

func (s State) String() string {
	switch s {
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	default:
		return "green"
	}
}

// Thresholds are the levels at which the light turns yellow and red.
type Thresholds struct {
	Yellow float64
	Red    float64
}

// Classify has no hysteresis: a level sitting on a boundary may flip state
// on every reading.
func Classify(level float64, th Thresholds) State {
	switch {
	case level >= th.Red:
		return Red
	case level >= th.Yellow:
		return Yellow
	default:
		return Green
	}
}

type Transition struct {
	From, To State
}

func (t Transition) Changed() bool { return t.From != t.To }

// Machine tracks the current state across readings.
type Machine struct {
	mu    sync.Mutex
	th    Thresholds
	state State
}

func NewMachine(th Thresholds) *Machine {
	return &Machine{th: th}
}

// Update classifies level and returns the transition it caused, which is
// a no-op transition when the state did not change.
func (m *Machine) Update(level float64) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := Classify(level, m.th)
	tr := Transition{From: m.state, To: next}
	m.state = next
	return tr
}

// SetThresholds takes effect on the next Update.
func (m *Machine) SetThresholds(th Thresholds) {
	m.mu.Lock()
	m.th = th
	m.mu.Unlock()
}

func (m *Machine) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.th
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset returns to green without emitting a transition.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = Green
	m.mu.Unlock()
}
