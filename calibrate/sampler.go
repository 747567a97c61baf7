// Package calibrate derives alert thresholds from a short recording of the
// room's ambient noise.
package calibrate

import (
	"errors"
	"math"
	"sync"
	"time"
)

// Duration is the fixed length of a calibration session.
const Duration = 10 * time.Second

var (
	ErrAlreadyCalibrating = errors.New("calibration already in progress")
	ErrEmptyCapture       = errors.New("no audio captured during calibration")
)

// Result is handed to the caller when a session finalises.
type Result struct {
	Summary Summary
	Warn    bool
	Samples int // collected
	Kept    int // after outlier filtering
}

// Analyze filters samples and derives thresholds for preset.
func Analyze(samples []float64, preset Preset) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptyCapture
	}
	kept := FilterOutliers(samples)
	summary, warn := Derive(Median(kept), Percentile(kept, 80), preset)
	return Result{Summary: summary, Warn: warn, Samples: len(samples), Kept: len(kept)}, nil
}

type stopper interface {
	Stop() bool
}

// Sampler collects levels for one calibration session at a time. It owns
// the session deadline; done runs exactly once per session that is not
// cancelled, on the timer goroutine or the FinishNow caller, with no lock
// held.
type Sampler struct {
	duration  time.Duration
	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	active  bool
	gen     uint64
	preset  Preset
	started time.Time
	samples []float64
	timer   stopper
	done    func(Result, error)
}

func NewSampler() *Sampler {
	return &Sampler{
		duration: Duration,
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Begin starts a session for the given preset.
func (s *Sampler) Begin(key PresetKey, done func(Result, error)) error {
	preset, err := Lookup(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrAlreadyCalibrating
	}
	s.active = true
	s.gen++
	s.preset = preset
	s.started = s.now()
	s.samples = s.samples[:0]
	s.done = done

	gen := s.gen
	s.timer = s.afterFunc(s.duration, func() { s.expire(gen) })
	return nil
}

// Add records one level reading, rounded and clamped to [0,100]. Readings
// outside a session are ignored.
func (s *Sampler) Add(level float64) {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		level = 0
	}
	v := math.Round(min(max(level, 0), 100))

	s.mu.Lock()
	if s.active {
		s.samples = append(s.samples, v)
	}
	s.mu.Unlock()
}

func (s *Sampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Preset returns the preset of the running session.
func (s *Sampler) Preset() (Preset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset, s.active
}

// Remaining reports how much of the session is left at now, or 0 when idle.
func (s *Sampler) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0
	}
	left := s.duration - now.Sub(s.started)
	return min(max(left, 0), s.duration)
}

// Cancel discards the running session without calling done. It reports
// whether a session was running.
func (s *Sampler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.endLocked()
	return true
}

// FinishNow finalises the running session early with the samples collected
// so far. It reports whether a session was running.
func (s *Sampler) FinishNow() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	done, res, err := s.finishLocked()
	s.mu.Unlock()

	if done != nil {
		done(res, err)
	}
	return true
}

func (s *Sampler) expire(gen uint64) {
	s.mu.Lock()
	if !s.active || gen != s.gen {
		s.mu.Unlock()
		return
	}
	done, res, err := s.finishLocked()
	s.mu.Unlock()

	if done != nil {
		done(res, err)
	}
}

func (s *Sampler) finishLocked() (func(Result, error), Result, error) {
	res, err := Analyze(s.samples, s.preset)
	done := s.done
	s.endLocked()
	return done, res, err
}

func (s *Sampler) endLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.active = false
	s.done = nil
	s.samples = s.samples[:0]
}
