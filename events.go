package main

import (
	"hush/calibrate"
	"hush/score"
	"hush/traffic"
)

// EventSink abstracts the display layer so the Bubble Tea TUI and the
// headless runner receive the same monitor events. Methods are called from
// capture, ticker and timer goroutines.
type EventSink interface {
	Level(level float64)
	StateChanged(tr traffic.Transition)
	Score(s score.Snapshot, ev score.Event)
	Alert(color traffic.State)
	SessionStarted()
	SessionStopped(s score.Snapshot)
	CalibrationStarted(p calibrate.Preset)
	CalibrationFinished(res calibrate.Result, err error)
	CalibrationCancelled()
	MicTest(on bool)
	NoSignal(on bool)
}
