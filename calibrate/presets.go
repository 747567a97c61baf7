package calibrate

import (
	"errors"
	"fmt"
)

var ErrUnknownPreset = errors.New("unknown calibration preset")

// PresetKey names a noise-environment preset.
type PresetKey string

const (
	Whisper PresetKey = "whisper"
	Partner PresetKey = "partner"
	Group   PresetKey = "group"
)

type Range struct {
	Min, Max float64
}

func (r Range) clamp(v float64) float64 {
	return min(max(v, r.Min), r.Max)
}

// Preset controls how far above the measured baseline thresholds land.
type Preset struct {
	Key          PresetKey
	Label        string
	YellowOffset float64
	RedOffset    float64
	YellowClamp  Range
	RedClamp     Range
}

// Presets in display order.
var Presets = []Preset{
	{Key: Whisper, Label: "Whisper", YellowOffset: 6, RedOffset: 12, YellowClamp: Range{10, 90}, RedClamp: Range{15, 95}},
	{Key: Partner, Label: "Partner", YellowOffset: 12, RedOffset: 20, YellowClamp: Range{15, 90}, RedClamp: Range{20, 95}},
	{Key: Group, Label: "Group", YellowOffset: 18, RedOffset: 28, YellowClamp: Range{20, 92}, RedClamp: Range{28, 96}},
}

func Lookup(key PresetKey) (Preset, error) {
	for _, p := range Presets {
		if p.Key == key {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, key)
}
