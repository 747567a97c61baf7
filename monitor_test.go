package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"hush/audio"
	"hush/calibrate"
	"hush/level"
	"hush/score"
	"hush/settings"
	"hush/traffic"
)

type recordingSink struct {
	mu          sync.Mutex
	transitions []traffic.Transition
	scores      []score.Event
	stopped     int
	levels      int
	calResults  []calibrate.Result
	calErrs     []error
	cancelled   int
	micTest     []bool
	noSignal    []bool

	alerts  chan traffic.State
	calDone chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{alerts: make(chan traffic.State, 8), calDone: make(chan struct{}, 8)}
}

func (r *recordingSink) Level(float64) {
	r.mu.Lock()
	r.levels++
	r.mu.Unlock()
}

func (r *recordingSink) StateChanged(tr traffic.Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, tr)
	r.mu.Unlock()
}

func (r *recordingSink) Score(_ score.Snapshot, ev score.Event) {
	r.mu.Lock()
	r.scores = append(r.scores, ev)
	r.mu.Unlock()
}

func (r *recordingSink) Alert(c traffic.State) { r.alerts <- c }

func (r *recordingSink) SessionStarted() {}

func (r *recordingSink) SessionStopped(score.Snapshot) {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
}

func (r *recordingSink) CalibrationStarted(calibrate.Preset) {}

func (r *recordingSink) CalibrationFinished(res calibrate.Result, err error) {
	r.mu.Lock()
	r.calResults = append(r.calResults, res)
	r.calErrs = append(r.calErrs, err)
	r.mu.Unlock()
	r.calDone <- struct{}{}
}

func (r *recordingSink) CalibrationCancelled() {
	r.mu.Lock()
	r.cancelled++
	r.mu.Unlock()
}

func (r *recordingSink) MicTest(on bool) {
	r.mu.Lock()
	r.micTest = append(r.micTest, on)
	r.mu.Unlock()
}

func (r *recordingSink) NoSignal(on bool) {
	r.mu.Lock()
	r.noSignal = append(r.noSignal, on)
	r.mu.Unlock()
}

func testSettings() settings.Settings {
	s := settings.Default()
	s.YellowMinDec = 45
	s.RedMinDec = 60
	s.SoundDelay = 0
	s.CooldownPeriod = 1
	s.LosePoints = 5
	return s
}

// newTestMonitor uses a fake device that opens fine but delivers no frames,
// so tests feed levels through onLevel by hand.
func newTestMonitor(t *testing.T, startErr error) (*Monitor, *level.Meter, *recordingSink) {
	t.Helper()
	ctx := audio.NewFakeContextPCM(nil, false)
	ctx.StartErr = startErr
	meter := level.NewMeter(ctx, nil, level.NewEstimator(level.DefaultConfig()))
	sink := newRecordingSink()
	m := NewMonitor(meter, testSettings(), sink)
	t.Cleanup(func() {
		m.CancelCalibration()
		m.Stop()
		meter.Stop()
	})
	return m, meter, sink
}

func TestMonitorStartFailureLeavesStateUnchanged(t *testing.T) {
	m, meter, _ := newTestMonitor(t, audio.ErrPermissionDenied)
	if err := m.Start(); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start() = %v, want ErrPermissionDenied", err)
	}
	if m.Running() || meter.Active() {
		t.Fatal("failed start left the monitor running")
	}
	if s := m.Score(); s.Active || s.Points != 0 {
		t.Fatalf("score changed: %+v", s)
	}
}

func TestMonitorRedTransitionPenalizesAndAlerts(t *testing.T) {
	m, _, sink := newTestMonitor(t, nil)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	m.onLevel(70)
	if m.State() != traffic.Red {
		t.Fatalf("state = %v, want red", m.State())
	}
	select {
	case c := <-sink.alerts:
		if c != traffic.Red {
			t.Fatalf("alert color = %v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("red alert never fired")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.transitions) != 1 || sink.transitions[0].To != traffic.Red {
		t.Fatalf("transitions = %+v", sink.transitions)
	}
	if len(sink.scores) != 1 || !sink.scores[0].Has(score.EventPenalized) {
		t.Fatalf("score events = %v", sink.scores)
	}
	if m.Score().Points != 0 {
		t.Fatal("penalty drove points below zero")
	}
}

func TestMonitorNoAlertsWhileStopped(t *testing.T) {
	m, _, sink := newTestMonitor(t, nil)
	m.onLevel(70)
	select {
	case c := <-sink.alerts:
		t.Fatalf("alert %v fired without a session", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	m, meter, sink := newTestMonitor(t, nil)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.Stop()
	m.Stop()
	if meter.Active() || m.Level() != 0 {
		t.Fatalf("after stop: active=%v level=%v", meter.Active(), m.Level())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.stopped != 1 {
		t.Fatalf("SessionStopped called %d times", sink.stopped)
	}
}

func TestMonitorTimeUpStopsSession(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.onTick(score.EventTimeUp)
	if m.Running() {
		t.Fatal("session still running after time up")
	}
}

func TestMonitorCalibrationAppliesThresholds(t *testing.T) {
	m, meter, sink := newTestMonitor(t, nil)
	if err := m.Calibrate(calibrate.Whisper); err != nil {
		t.Fatal(err)
	}
	if !meter.Active() {
		t.Fatal("calibration should open the device")
	}
	for i := 0; i < 20; i++ {
		m.onLevel(40)
	}
	m.DeviceLost()
	<-sink.calDone

	s := m.Settings()
	if s.YellowMinDec != 48 || s.RedMinDec != 56 {
		t.Fatalf("thresholds = %v/%v, want 48/56", s.YellowMinDec, s.RedMinDec)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.calErrs[0] != nil || sink.calResults[0].Samples != 20 {
		t.Fatalf("result = %+v err = %v", sink.calResults[0], sink.calErrs[0])
	}
	if meter.Active() {
		t.Fatal("device still open after device loss")
	}
}

func TestMonitorEmptyCalibrationKeepsThresholds(t *testing.T) {
	m, _, sink := newTestMonitor(t, nil)
	before := m.Settings()
	if err := m.Calibrate(calibrate.Group); err != nil {
		t.Fatal(err)
	}
	m.DeviceLost()
	<-sink.calDone

	sink.mu.Lock()
	err := sink.calErrs[0]
	sink.mu.Unlock()
	if !errors.Is(err, calibrate.ErrEmptyCapture) {
		t.Fatalf("err = %v, want ErrEmptyCapture", err)
	}
	if m.Settings() != before {
		t.Fatal("failed calibration changed the settings")
	}
}

func TestMonitorCalibrationReusesOpenDevice(t *testing.T) {
	m, meter, sink := newTestMonitor(t, nil)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Calibrate(calibrate.Partner); err != nil {
		t.Fatal(err)
	}
	if err := m.Calibrate(calibrate.Partner); !errors.Is(err, calibrate.ErrAlreadyCalibrating) {
		t.Fatalf("second Calibrate() = %v", err)
	}
	m.CancelCalibration()
	if !meter.Active() {
		t.Fatal("cancelling calibration closed the monitor's device")
	}
	m.Stop()
	if meter.Active() {
		t.Fatal("device open with no holders")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.cancelled != 1 || len(sink.calResults) != 0 {
		t.Fatalf("cancelled=%d results=%d", sink.cancelled, len(sink.calResults))
	}
}

func TestMonitorCalibrationStartFailure(t *testing.T) {
	m, _, _ := newTestMonitor(t, audio.ErrDeviceUnavailable)
	if err := m.Calibrate(calibrate.Whisper); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Calibrate() = %v", err)
	}
	if m.Calibrating() {
		t.Fatal("failed calibration left a session running")
	}
}

func TestMonitorMicTestFailureLeavesScore(t *testing.T) {
	m, _, sink := newTestMonitor(t, audio.ErrPermissionDenied)
	if err := m.MicTest(true); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("MicTest() = %v", err)
	}
	if m.State() != traffic.Green || m.Score().Points != 0 {
		t.Fatal("failed mic test changed state or score")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.micTest) != 0 {
		t.Fatal("failed mic test was reported as running")
	}
}

func TestMonitorMicTestToggle(t *testing.T) {
	m, meter, sink := newTestMonitor(t, nil)
	if err := m.MicTest(true); err != nil {
		t.Fatal(err)
	}
	if !meter.Active() {
		t.Fatal("mic test should open the device")
	}
	if err := m.MicTest(false); err != nil {
		t.Fatal(err)
	}
	if meter.Active() {
		t.Fatal("mic test left the device open")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.micTest) != 2 {
		t.Fatalf("mic test events = %v", sink.micTest)
	}
}

func TestMonitorApplyRejectsInvalid(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	bad := m.Settings()
	bad.YellowMinDec, bad.RedMinDec = 70, 50
	if err := m.Apply(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Settings().YellowMinDec != 45 {
		t.Fatal("invalid settings were applied")
	}
}

func TestMonitorToggleTimerMode(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	if err := m.ToggleTimerMode(); err != nil {
		t.Fatal(err)
	}
	if !m.Settings().TimerMode {
		t.Fatal("timer mode not enabled")
	}
	if s := m.Score(); s.Remaining != int(m.Settings().Timer*60) {
		t.Fatalf("remaining = %d", s.Remaining)
	}
}

func TestMonitorWarnsOnDeadMicrophone(t *testing.T) {
	m, _, sink := newTestMonitor(t, nil)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < silenceWindow; i++ {
		m.onTick(0)
	}
	m.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.noSignal) != 2 || !sink.noSignal[0] || sink.noSignal[1] {
		t.Fatalf("no-signal events = %v, want [true false]", sink.noSignal)
	}
}

func TestMonitorStopReturnsLightToGreen(t *testing.T) {
	m, _, sink := newTestMonitor(t, nil)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.onLevel(70)
	m.Stop()

	if m.Level() != 0 || m.State() != traffic.Green {
		t.Fatalf("after stop: level=%v state=%v, want 0 and green", m.Level(), m.State())
	}
	sink.mu.Lock()
	last := sink.transitions[len(sink.transitions)-1]
	sink.mu.Unlock()
	if last.From != traffic.Red || last.To != traffic.Green {
		t.Fatalf("last transition = %+v, want red -> green", last)
	}

	// The engine saw the reset too, so the next red costs points again.
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if ev := m.engine.Observe(traffic.Red); !ev.Has(score.EventPenalized) {
		t.Fatalf("red after restart = %v, want a penalty", ev)
	}
}

func TestMonitorStopKeepsLightWhileMicTestRuns(t *testing.T) {
	m, meter, _ := newTestMonitor(t, nil)
	if err := m.MicTest(true); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.onLevel(70)
	m.Stop()
	if !meter.Active() || m.State() != traffic.Red {
		t.Fatalf("active=%v state=%v, want the live reading kept", meter.Active(), m.State())
	}
	if err := m.MicTest(false); err != nil {
		t.Fatal(err)
	}
	if m.State() != traffic.Green {
		t.Fatalf("state = %v after the last holder left, want green", m.State())
	}
}

func TestMonitorLoweringGoalLatchesIt(t *testing.T) {
	m, _, sink := newTestMonitor(t, nil)
	s := testSettings()
	s.AddPoints = 5
	s.TimeInGreen = 1.0 / 60
	s.Goal = 100
	if err := m.Apply(s); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.engine.Tick()
	if m.Score().GoalReached {
		t.Fatal("goal reached too early")
	}

	s.Goal = 3
	if err := m.Apply(s); err != nil {
		t.Fatal(err)
	}
	if !m.Score().GoalReached {
		t.Fatalf("goal not latched: %+v", m.Score())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	var seen bool
	for _, ev := range sink.scores {
		seen = seen || ev.Has(score.EventGoalReached)
	}
	if !seen {
		t.Fatalf("score events = %v, want a goal event", sink.scores)
	}
}

func TestMonitorDeviceLostRacesCalibrate(t *testing.T) {
	m, meter, _ := newTestMonitor(t, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			m.Calibrate(calibrate.Whisper)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			m.DeviceLost()
		}
	}()
	wg.Wait()

	m.DeviceLost()
	if m.Calibrating() || meter.Active() {
		t.Fatalf("calibrating=%v active=%v after device loss", m.Calibrating(), meter.Active())
	}
}
