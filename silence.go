package main

// A muted or unplugged microphone reads as digital silence, which would
// otherwise score as a perfectly quiet room.
const (
	silentLevel      = 5.0 // dB; a live room never measures this low
	silenceWindow    = 8   // score ticks (seconds)
	signalMinRatio   = 0.10
	signalClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no signal from the microphone
	SilenceWarnClear              // signal came back after a warning
)

type silenceMonitor struct {
	window      []bool
	ticks       int
	signalCount int
	warned      bool
}

func newSilenceMonitor() *silenceMonitor {
	return &silenceMonitor{window: make([]bool, silenceWindow)}
}

func (m *silenceMonitor) ratio() float64 {
	n := min(m.ticks, len(m.window))
	if n == 0 {
		return 1.0
	}
	return float64(m.signalCount) / float64(n)
}

// Tick records one second of monitoring at the given level.
func (m *silenceMonitor) Tick(level float64) SilenceEvent {
	hasSignal := level >= silentLevel
	idx := m.ticks % len(m.window)
	if m.ticks >= len(m.window) && m.window[idx] {
		m.signalCount--
	}
	m.window[idx] = hasSignal
	if hasSignal {
		m.signalCount++
	}
	m.ticks++

	r := m.ratio()
	if m.ticks >= len(m.window) && r < signalMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= signalClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	return SilenceNone
}

func (m *silenceMonitor) Warned() bool { return m.warned }

func (m *silenceMonitor) Reset() {
	clear(m.window)
	m.ticks = 0
	m.signalCount = 0
	m.warned = false
}
