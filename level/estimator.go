// Package level turns raw microphone frames into a smoothed loudness level.
//
// Each frame yields an instantaneous decibel-like value, which is smoothed
// by an exponential moving average and then by a sliding-window mean. The
// result is floored at 0 but not clamped from above; displays clamp it to
// [0,100] themselves.
package level

import (
	"encoding/binary"
	"math"

	"go.uber.org/atomic"
)

const (
	DefaultAlpha      = 0.1
	DefaultWindowSize = 100

	// ReferencePower is the 0 dB reference for the mean-square power of
	// frames scaled by 1/amplitudeScale.
	ReferencePower = 1e-12
	amplitudeScale = 255.0

	pcm16Scale = 32768.0
)

// Mode selects how the instantaneous loudness of a frame is computed.
type Mode int

const (
	ModeTimeDomain Mode = iota // mean square of the samples
	ModeFrequency              // RMS of the FFT magnitude bins
)

func (m Mode) String() string {
	if m == ModeFrequency {
		return "frequency"
	}
	return "time"
}

type Config struct {
	Alpha      float64
	WindowSize int
	Mode       Mode
}

func DefaultConfig() Config {
	return Config{Alpha: DefaultAlpha, WindowSize: DefaultWindowSize, Mode: ModeTimeDomain}
}

// Estimator is not safe for concurrent Process calls. Level may be read from
// any goroutine.
type Estimator struct {
	cfg Config

	ema    float64
	window []float64
	pos    int
	filled int

	fft   spectrum
	level atomic.Float64
}

func NewEstimator(cfg Config) *Estimator {
	e := &Estimator{}
	e.SetConfig(cfg)
	return e
}

// SetConfig applies a new configuration. Changing the window size restarts
// the second smoothing stage; the EMA state is kept.
func (e *Estimator) SetConfig(cfg Config) {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 1
	}
	if cfg.WindowSize != len(e.window) {
		e.window = make([]float64, cfg.WindowSize)
		e.pos = 0
		e.filled = 0
	}
	e.cfg = cfg
}

func (e *Estimator) Config() Config { return e.cfg }

// Level returns the last exposed level.
func (e *Estimator) Level() float64 {
	return e.level.Load()
}

// Reset zeroes the smoothing state and the exposed level.
func (e *Estimator) Reset() {
	e.ema = 0
	clear(e.window)
	e.pos = 0
	e.filled = 0
	e.level.Store(0)
}

// ProcessPCM16 decodes a little-endian PCM16 mono frame and processes it.
func (e *Estimator) ProcessPCM16(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return e.Level()
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / pcm16Scale
	}
	return e.Process(samples)
}

// Process consumes one frame of samples normalised to [-1, 1] and returns
// the new exposed level. Empty frames leave the level unchanged.
func (e *Estimator) Process(samples []float64) float64 {
	if len(samples) == 0 {
		return e.Level()
	}

	instant := e.Instant(samples)
	e.ema = e.cfg.Alpha*instant + (1-e.cfg.Alpha)*e.ema

	e.window[e.pos] = e.ema
	e.pos = (e.pos + 1) % len(e.window)
	if e.filled < len(e.window) {
		e.filled++
	}

	var sum float64
	for i := 0; i < e.filled; i++ {
		sum += e.window[i]
	}
	out := max(sum/float64(e.filled), 0)
	e.level.Store(out)
	return out
}

// Instant computes the unsmoothed loudness of a frame.
func (e *Estimator) Instant(samples []float64) float64 {
	var ms float64
	if e.cfg.Mode == ModeFrequency {
		ms = e.fft.meanSquare(samples)
	} else {
		ms = meanSquare(samples)
	}
	return decibels(ms / (amplitudeScale * amplitudeScale))
}

func meanSquare(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return sum / float64(len(samples))
}

// decibels converts a power to the level scale. Silence and anything below
// the reference floor at 0.
func decibels(power float64) float64 {
	if power <= 0 || math.IsNaN(power) {
		return 0
	}
	v := 10 * math.Log10(power/ReferencePower)
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
