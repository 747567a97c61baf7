package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hush/alert"
	"hush/calibrate"
	"hush/level"
	"hush/log"
	"hush/score"
	"hush/settings"
	"hush/traffic"
)

// Meter holders. The device stays open while any of them holds it.
const (
	holderMonitor     = "monitor"
	holderCalibration = "calibration"
	holderMicTest     = "mictest"
)

// Monitor wires the per-frame pipeline:
//
//	meter -> level -> light -> {score, alerts} -> calibration -> sink
//
// Meter calls are never made with mu held: the meter waits for in-flight
// frames on Stop/Release and frame handling takes mu.
type Monitor struct {
	meter   *level.Meter
	machine *traffic.Machine
	engine  *score.Engine
	alerts  *alert.Dispatcher
	sampler *calibrate.Sampler
	sink    EventSink

	// calMu serializes starting, cancelling and cutting short calibrations.
	// Each session holds the meter under its own name so a late completion
	// never drops the hold of the session that replaced it.
	calMu     sync.Mutex
	calSeq    int
	calHolder string

	mu       sync.Mutex
	settings settings.Settings
	running  bool
	micTest  bool
	silence  *silenceMonitor
	session  string // id of the running session
	yellows  int
	reds     int
}

func NewMonitor(meter *level.Meter, cfg settings.Settings, sink EventSink) *Monitor {
	m := &Monitor{
		meter:    meter,
		machine:  traffic.NewMachine(cfg.Thresholds()),
		engine:   score.NewEngine(cfg.Score()),
		sampler:  calibrate.NewSampler(),
		sink:     sink,
		settings: cfg,
		silence:  newSilenceMonitor(),
	}
	m.alerts = alert.NewDispatcher(cfg.Alert(), alert.SinkFunc(m.onAlert))
	m.engine.OnTick(m.onTick)
	meter.SetConfig(cfg.Level())
	meter.OnLevel(m.onLevel)
	return m
}

// Start opens the device and starts scoring. A device failure leaves the
// monitor stopped.
func (m *Monitor) Start() error {
	if m.Running() {
		return nil
	}
	if err := m.meter.Acquire(holderMonitor); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}

	m.mu.Lock()
	m.running = true
	m.session = uuid.NewString()
	m.yellows, m.reds = 0, 0
	m.silence.Reset()
	id := m.session
	th := m.settings.Thresholds()
	mode := m.settings.Level().Mode
	m.mu.Unlock()

	m.engine.Start()
	device := "default"
	if d := m.meter.Device(); d != nil {
		device = d.Name
	}
	log.SessionStart(id, device, th.Yellow, th.Red, mode.String())
	m.sink.SessionStarted()
	return nil
}

// Stop pauses scoring, drops any pending alert and releases the device.
// Calling it on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.alerts.Cancel()
	id, yellows, reds := m.session, m.yellows, m.reds
	silent := m.silence.Warned()
	m.silence.Reset()
	m.mu.Unlock()

	if silent {
		m.sink.NoSignal(false)
	}

	m.engine.Pause()
	m.meter.Release(holderMonitor)
	m.settleIfIdle()

	snap := m.engine.Snapshot()
	log.SessionEnd(log.SessionSummary{
		ID:          id,
		Points:      snap.Points,
		Elapsed:     snap.Elapsed,
		GoalReached: snap.GoalReached,
		Yellows:     yellows,
		Reds:        reds,
	})
	m.sink.SessionStopped(snap)
}

// Reset zeroes the score and forgets alert cooldowns.
func (m *Monitor) Reset() {
	m.engine.Reset()
	m.alerts.Reset()
	snap := m.engine.Snapshot()
	log.Score("reset", snap.Points, snap.Elapsed)
	m.sink.Score(snap, 0)
}

// Calibrate samples the room for calibrate.Duration and applies the derived
// thresholds when it completes. An already open device is reused.
func (m *Monitor) Calibrate(key calibrate.PresetKey) error {
	m.calMu.Lock()
	defer m.calMu.Unlock()

	if m.sampler.Active() {
		return calibrate.ErrAlreadyCalibrating
	}
	preset, err := calibrate.Lookup(key)
	if err != nil {
		return err
	}

	m.calSeq++
	holder := fmt.Sprintf("%s-%d", holderCalibration, m.calSeq)
	if err := m.meter.Acquire(holder); err != nil {
		return fmt.Errorf("start calibration: %w", err)
	}
	done := func(res calibrate.Result, err error) { m.calibrationDone(holder, res, err) }
	if err := m.sampler.Begin(key, done); err != nil {
		m.meter.Release(holder)
		return err
	}
	m.calHolder = holder
	log.Infof("calibration_start: %s", key)
	m.sink.CalibrationStarted(preset)
	return nil
}

func (m *Monitor) CancelCalibration() {
	m.calMu.Lock()
	defer m.calMu.Unlock()
	if !m.sampler.Cancel() {
		return
	}
	m.meter.Release(m.calHolder)
	m.settleIfIdle()
	log.Info("calibration_cancelled")
	m.sink.CalibrationCancelled()
}

func (m *Monitor) calibrationDone(holder string, res calibrate.Result, err error) {
	m.meter.Release(holder)
	m.settleIfIdle()
	if err != nil {
		log.Warnf("calibration failed: %v", err)
		m.sink.CalibrationFinished(res, err)
		return
	}

	s := m.Settings().WithCalibration(res.Summary)
	if err := m.Apply(s); err != nil {
		log.Errorf("calibrated thresholds rejected: %v", err)
		m.sink.CalibrationFinished(res, err)
		return
	}
	sum := res.Summary
	log.Calibration(log.CalibrationData{
		Preset:   string(sum.Preset),
		Samples:  res.Samples,
		Kept:     res.Kept,
		Baseline: sum.Baseline,
		P80:      sum.P80,
		Yellow:   sum.Yellow,
		Red:      sum.Red,
		Warn:     res.Warn,
	})
	m.sink.CalibrationFinished(res, nil)
}

// CalibrationRemaining reports the countdown of a running calibration.
func (m *Monitor) CalibrationRemaining(now time.Time) time.Duration {
	return m.sampler.Remaining(now)
}

func (m *Monitor) Calibrating() bool { return m.sampler.Active() }

// MicTest shows the live level without touching the score. A failure
// leaves everything as it was.
func (m *Monitor) MicTest(on bool) error {
	m.mu.Lock()
	active := m.micTest
	m.mu.Unlock()
	if on == active {
		return nil
	}

	if on {
		if err := m.meter.Acquire(holderMicTest); err != nil {
			return fmt.Errorf("microphone test: %w", err)
		}
	} else {
		m.meter.Release(holderMicTest)
		m.settleIfIdle()
	}
	m.mu.Lock()
	m.micTest = on
	m.mu.Unlock()
	m.sink.MicTest(on)
	return nil
}

// Apply validates and installs new settings on every component.
func (m *Monitor) Apply(s settings.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()

	m.machine.SetThresholds(s.Thresholds())
	ev := m.engine.SetConfig(s.Score())
	m.alerts.SetConfig(s.Alert())
	m.meter.SetConfig(s.Level())
	if ev != 0 {
		snap := m.engine.Snapshot()
		log.Score(ev.String(), snap.Points, snap.Elapsed)
		m.sink.Score(snap, ev)
	}
	return nil
}

// ToggleTimerMode switches between counting up and counting down from the
// configured timer.
func (m *Monitor) ToggleTimerMode() error {
	s := m.Settings()
	s.TimerMode = !s.TimerMode
	return m.Apply(s)
}

// DeviceLost finalises a running calibration with what it collected so far
// and shuts every flow down.
func (m *Monitor) DeviceLost() {
	log.Warn("capture device lost")
	m.calMu.Lock()
	m.sampler.FinishNow()
	m.calMu.Unlock()
	m.Stop()
	m.MicTest(false)
	m.meter.Stop()
	m.settleIfIdle()
}

// settleIfIdle returns the light to green once no flow holds the device:
// with nothing measured the level reads 0.
func (m *Monitor) settleIfIdle() {
	if m.meter.Active() {
		return
	}
	prev := m.machine.State()
	if prev == traffic.Green {
		return
	}
	m.machine.Reset()
	m.engine.Observe(traffic.Green)
	log.Transition(prev.String(), traffic.Green.String(), 0)
	m.sink.StateChanged(traffic.Transition{From: prev, To: traffic.Green})
}

func (m *Monitor) Settings() settings.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) State() traffic.State { return m.machine.State() }

func (m *Monitor) Score() score.Snapshot { return m.engine.Snapshot() }

func (m *Monitor) Level() float64 { return m.meter.Level() }

// onLevel runs on the capture goroutine once per frame.
func (m *Monitor) onLevel(lvl float64) {
	tr := m.machine.Update(lvl)
	if tr.Changed() {
		ev := m.engine.Observe(tr.To)

		m.mu.Lock()
		if m.running {
			m.alerts.Transition(tr.From, tr.To)
		}
		m.mu.Unlock()

		log.Transition(tr.From.String(), tr.To.String(), lvl)
		m.sink.StateChanged(tr)
		if ev.Has(score.EventPenalized) {
			snap := m.engine.Snapshot()
			log.Score("penalized", snap.Points, snap.Elapsed)
			m.sink.Score(snap, ev)
		}
	}
	m.sampler.Add(lvl)
	m.sink.Level(lvl)
}

// onTick runs on the score ticker goroutine.
func (m *Monitor) onTick(ev score.Event) {
	m.mu.Lock()
	sev := SilenceNone
	if m.running {
		sev = m.silence.Tick(m.meter.Level())
	}
	m.mu.Unlock()
	switch sev {
	case SilenceWarn:
		log.Warn("no_signal")
		m.sink.NoSignal(true)
	case SilenceWarnClear:
		log.Info("signal_restored")
		m.sink.NoSignal(false)
	}

	snap := m.engine.Snapshot()
	if ev.Has(score.EventAwarded) {
		log.Score("awarded", snap.Points, snap.Elapsed)
	}
	if ev.Has(score.EventGoalReached) {
		log.Score("goal", snap.Points, snap.Elapsed)
	}
	m.sink.Score(snap, ev)
	if ev.Has(score.EventTimeUp) {
		log.Info("timer_finished")
		m.Stop()
	}
}

// onAlert runs on the alert timer goroutine.
func (m *Monitor) onAlert(color traffic.State) {
	m.mu.Lock()
	if color == traffic.Red {
		m.reds++
	} else {
		m.yellows++
	}
	m.mu.Unlock()
	log.Alert(color.String())
	m.sink.Alert(color)
}
