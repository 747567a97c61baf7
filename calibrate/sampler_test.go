package calibrate

import (
	"errors"
	"testing"
	"time"
)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

func (f *fakeTimer) fire() {
	if !f.stopped {
		f.fn()
	}
}

func newTestSampler(now *time.Time) (*Sampler, *[]*fakeTimer) {
	var timers []*fakeTimer
	s := NewSampler()
	s.now = func() time.Time { return *now }
	s.afterFunc = func(d time.Duration, fn func()) stopper {
		ft := &fakeTimer{d: d, fn: fn}
		timers = append(timers, ft)
		return ft
	}
	return s, &timers
}

func TestSamplerCompletes(t *testing.T) {
	now := time.Unix(1000, 0)
	s, timers := newTestSampler(&now)

	var got Result
	var gotErr error
	calls := 0
	err := s.Begin(Whisper, func(r Result, err error) {
		calls++
		got, gotErr = r, err
	})
	if err != nil {
		t.Fatal(err)
	}
	if (*timers)[0].d != Duration {
		t.Fatalf("deadline = %v, want %v", (*timers)[0].d, Duration)
	}

	for _, v := range []float64{49.6, 50.2, 50, 51.4, 52} {
		s.Add(v)
	}
	(*timers)[0].fire()

	if calls != 1 {
		t.Fatalf("done called %d times", calls)
	}
	if gotErr != nil {
		t.Fatal(gotErr)
	}
	if got.Summary.Baseline != 50 || got.Samples != 5 {
		t.Fatalf("result = %+v", got)
	}
	if s.Active() {
		t.Fatal("sampler still active after deadline")
	}
}

func TestSamplerRoundsAndClamps(t *testing.T) {
	now := time.Unix(0, 0)
	s, timers := newTestSampler(&now)
	var got Result
	s.Begin(Group, func(r Result, _ error) { got = r })
	s.Add(-5)
	s.Add(250)
	s.Add(99.6)
	(*timers)[0].fire()
	if got.Summary.Baseline != 100 || got.Summary.P80 != 100 {
		t.Fatalf("summary = %+v", got.Summary)
	}
}

func TestSamplerEmptyCapture(t *testing.T) {
	now := time.Unix(0, 0)
	s, timers := newTestSampler(&now)
	var gotErr error
	s.Begin(Partner, func(_ Result, err error) { gotErr = err })
	(*timers)[0].fire()
	if !errors.Is(gotErr, ErrEmptyCapture) {
		t.Fatalf("err = %v, want ErrEmptyCapture", gotErr)
	}
}

func TestSamplerAlreadyCalibrating(t *testing.T) {
	now := time.Unix(0, 0)
	s, _ := newTestSampler(&now)
	if err := s.Begin(Whisper, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(Group, nil); !errors.Is(err, ErrAlreadyCalibrating) {
		t.Fatalf("err = %v, want ErrAlreadyCalibrating", err)
	}
}

func TestSamplerUnknownPreset(t *testing.T) {
	now := time.Unix(0, 0)
	s, _ := newTestSampler(&now)
	if err := s.Begin("stadium", nil); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("err = %v, want ErrUnknownPreset", err)
	}
	if s.Active() {
		t.Fatal("failed begin left a session running")
	}
}

func TestSamplerCancel(t *testing.T) {
	now := time.Unix(0, 0)
	s, timers := newTestSampler(&now)
	called := false
	s.Begin(Whisper, func(Result, error) { called = true })
	s.Add(40)
	if !s.Cancel() {
		t.Fatal("Cancel reported no session")
	}
	(*timers)[0].fire()
	if called {
		t.Fatal("cancelled session produced a result")
	}
	if !(*timers)[0].stopped {
		t.Fatal("deadline timer not stopped")
	}
	s.Add(40)
	if s.Cancel() {
		t.Fatal("second Cancel should report idle")
	}
}

func TestSamplerStaleTimerIgnored(t *testing.T) {
	now := time.Unix(0, 0)
	s, timers := newTestSampler(&now)
	first := 0
	s.Begin(Whisper, func(Result, error) { first++ })
	s.Cancel()

	second := 0
	s.Begin(Whisper, func(Result, error) { second++ })
	s.Add(30)
	// The first session's callback must not end the second one.
	(*timers)[0].fn()
	if first != 0 || second != 0 || !s.Active() {
		t.Fatalf("stale timer fired: first=%d second=%d active=%v", first, second, s.Active())
	}
	(*timers)[1].fire()
	if second != 1 {
		t.Fatalf("second session done %d times", second)
	}
}

func TestSamplerFinishNow(t *testing.T) {
	now := time.Unix(0, 0)
	s, _ := newTestSampler(&now)
	var got Result
	s.Begin(Partner, func(r Result, _ error) { got = r })
	s.Add(20)
	s.Add(22)
	if !s.FinishNow() {
		t.Fatal("FinishNow reported no session")
	}
	if got.Samples != 2 || got.Summary.Baseline != 21 {
		t.Fatalf("result = %+v", got)
	}
}

func TestSamplerRemaining(t *testing.T) {
	now := time.Unix(100, 0)
	s, _ := newTestSampler(&now)
	if r := s.Remaining(now); r != 0 {
		t.Fatalf("idle remaining = %v", r)
	}
	s.Begin(Whisper, nil)
	if r := s.Remaining(now.Add(3 * time.Second)); r != 7*time.Second {
		t.Fatalf("remaining = %v, want 7s", r)
	}
	if r := s.Remaining(now.Add(time.Minute)); r != 0 {
		t.Fatalf("remaining past deadline = %v", r)
	}
}

func TestSamplerRealTimer(t *testing.T) {
	s := NewSampler()
	s.duration = 20 * time.Millisecond
	done := make(chan error, 1)
	if err := s.Begin(Whisper, func(_ Result, err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	s.Add(35)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deadline never fired")
	}
}
