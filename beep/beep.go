// Package beep plays the short tones behind yellow and red alerts and the
// goal celebration.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

const sampleRate = 44100

type Tone int

const (
	Warning Tone = iota
	Alert
	Goal
)

// player is the platform output. play must not block the caller for the
// length of the tone.
type player interface {
	play(pcm []int16)
}

var (
	disabled atomic.Bool

	setupOnce sync.Once
	bank      map[Tone][]int16
	out       player
)

// Disable silences every later Play call.
func Disable() { disabled.Store(true) }

// Init renders the tones and opens the output device so the first alert
// is not delayed. Safe to call more than once.
func Init() { setupOnce.Do(setup) }

func setup() {
	bank = map[Tone][]int16{
		Warning: render(sampleRate, warningTone),
		Alert:   render(sampleRate, alertTone),
		Goal:    render(sampleRate, goalTone),
	}
	out = newPlayer()
}

// Play starts t and returns immediately. A tone already playing may be cut
// short.
func Play(t Tone) {
	if disabled.Load() {
		return
	}
	Init()
	if out == nil {
		return
	}
	out.play(bank[t])
}

func PlayWarning() { Play(Warning) }
func PlayAlert()   { Play(Alert) }
func PlayGoal()    { Play(Goal) }

// note is one enveloped sine burst followed by a pause.
type note struct {
	freq   float64
	dur    float64 // seconds
	gap    float64 // seconds of silence after the note
	volume float64
	decay  float64
}

var (
	// Warning: single soft mid tone.
	warningTone = []note{
		{freq: 880, dur: 0.25, volume: 0.4, decay: 12},
	}
	// Alert: three low pulses.
	alertTone = []note{
		{freq: 440, dur: 0.12, gap: 0.06, volume: 0.6, decay: 20},
		{freq: 440, dur: 0.12, gap: 0.06, volume: 0.6, decay: 20},
		{freq: 440, dur: 0.12, volume: 0.6, decay: 20},
	}
	// Goal: rising C major arpeggio.
	goalTone = []note{
		{freq: 523.25, dur: 0.12, gap: 0.02, volume: 0.5, decay: 8},
		{freq: 659.25, dur: 0.12, gap: 0.02, volume: 0.5, decay: 8},
		{freq: 783.99, dur: 0.12, gap: 0.02, volume: 0.5, decay: 8},
		{freq: 1046.5, dur: 0.30, volume: 0.5, decay: 6},
	}
)

// render synthesizes notes as mono PCM16.
func render(rate int, notes []note) []int16 {
	var out []int16
	for _, n := range notes {
		count := int(float64(rate) * n.dur)
		for i := 0; i < count; i++ {
			t := float64(i) / float64(rate)
			envelope := math.Exp(-t * n.decay)
			out = append(out, int16(math.Sin(2*math.Pi*n.freq*t)*32767*n.volume*envelope))
		}
		out = append(out, make([]int16, int(float64(rate)*n.gap))...)
	}
	return out
}

func toBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}
