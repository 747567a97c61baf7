package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"hush/calibrate"
	"hush/level"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hush.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if s != Default() {
		t.Fatalf("got %+v", s)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "yellowMinDec: 50\nredMinDec: 70\ngoal: 3\n")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.YellowMinDec != 50 || s.RedMinDec != 70 || s.Goal != 3 {
		t.Fatalf("got %+v", s)
	}
	if s.AddPoints != Default().AddPoints {
		t.Fatal("unset keys must keep their defaults")
	}
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	path := writeFile(t, "yellowMinDec: 70\nredMinDec: 60\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "yellowMinDec") {
		t.Errorf("error should name the yaml key: %v", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeFile(t, "goal: [1, 2\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Settings)
	}{
		{"zero time in green", func(s *Settings) { s.TimeInGreen = 0 }},
		{"negative lose", func(s *Settings) { s.LosePoints = -1 }},
		{"goal zero", func(s *Settings) { s.Goal = 0 }},
		{"window too large", func(s *Settings) { s.AverageWindowSize = 500 }},
		{"red above 100", func(s *Settings) { s.RedMinDec = 120 }},
	}
	for _, tt := range tests {
		s := Default()
		tt.mod(&s)
		if err := s.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestWithCalibration(t *testing.T) {
	s := Default().WithCalibration(calibrate.Summary{Yellow: 52, Red: 61})
	if s.YellowMinDec != 52 || s.RedMinDec != 61 {
		t.Fatalf("got %+v", s)
	}
	if Default().YellowMinDec == 52 {
		t.Fatal("default mutated")
	}
}

func TestYAMLRoundTripKeys(t *testing.T) {
	out, err := Default().YAML()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(out, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"yellowMinDec", "redMinDec", "cooldownPeriod", "soundDelay", "averageWindowSize"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, out)
		}
	}
}

func TestConverters(t *testing.T) {
	s := Default()
	s.CooldownPeriod = 0.5
	s.SoundDelay = 1.5
	s.AverageWindowSize = 0
	s.FrequencyMode = true

	a := s.Alert()
	if a.Cooldown != 30*time.Second || a.Delay != 1500*time.Millisecond {
		t.Errorf("alert config = %+v", a)
	}
	l := s.Level()
	if l.WindowSize != 1 || l.Mode != level.ModeFrequency {
		t.Errorf("level config = %+v", l)
	}
	if sc := s.Score(); sc.TimeLimit != 0 {
		t.Errorf("stopwatch mode has limit %v", sc.TimeLimit)
	}
	s.TimerMode = true
	if sc := s.Score(); sc.TimeLimit != s.Timer {
		t.Errorf("timer mode limit = %v, want %v", sc.TimeLimit, s.Timer)
	}
	th := s.Thresholds()
	if th.Yellow != s.YellowMinDec || th.Red != s.RedMinDec {
		t.Errorf("thresholds = %+v", th)
	}
}
