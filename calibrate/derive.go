package calibrate

import "math"

const (
	lowSpread     = 6
	widenYellow   = 8
	widenRed      = 16
	minSeparation = 3
	loudBaseline  = 80
)

// Summary is the outcome of a calibration, all values on the 0-100 scale.
type Summary struct {
	Preset   PresetKey
	Baseline int
	P80      int
	Yellow   int
	Red      int
}

// Derive maps calibration statistics to yellow/red thresholds for preset.
// The bool reports that the room was already loud enough for the thresholds
// to be capped by the preset rather than derived from the measurement.
func Derive(baseline, p80 float64, preset Preset) (Summary, bool) {
	yc, rc := preset.YellowClamp, preset.RedClamp

	yellow := yc.clamp(baseline + preset.YellowOffset)
	red := rc.clamp(baseline + preset.RedOffset)

	if p80-baseline < lowSpread {
		yellow = max(yellow, yc.clamp(baseline+widenYellow))
		red = max(red, rc.clamp(baseline+widenRed))
	}

	// Raise red before lowering yellow.
	if yellow >= red-minSeparation {
		red = max(red, rc.clamp(yellow+minSeparation))
		if yellow >= red-minSeparation {
			yellow = yc.clamp(red - minSeparation)
		}
	}

	s := Summary{
		Preset:   preset.Key,
		Baseline: round100(baseline),
		P80:      round100(p80),
		Yellow:   round100(yellow),
		Red:      round100(red),
	}
	warn := baseline > loudBaseline ||
		float64(s.Yellow) >= yc.Max ||
		float64(s.Red) >= rc.Max
	return s, warn
}

func round100(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(min(max(v, 0), 100)))
}
