// Package settings loads and validates the user-tunable values that drive
// the monitor. Nothing in here is written back to disk.
package settings

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hush/alert"
	"hush/calibrate"
	"hush/level"
	"hush/score"
	"hush/traffic"
)

type Settings struct {
	YellowMinDec      float64 `yaml:"yellowMinDec" validate:"gte=0,lte=100,ltfield=RedMinDec"`
	RedMinDec         float64 `yaml:"redMinDec" validate:"gte=0,lte=100"`
	AddPoints         int     `yaml:"addPoints" validate:"gte=0,lte=1000"`
	LosePoints        int     `yaml:"losePoints" validate:"gte=0,lte=1000"`
	TimeInGreen       float64 `yaml:"timeInGreen" validate:"gt=0,lte=60"` // minutes
	Goal              int     `yaml:"goal" validate:"gte=1,lte=100000"`
	CooldownPeriod    float64 `yaml:"cooldownPeriod" validate:"gte=0,lte=60"` // minutes
	SoundDelay        float64 `yaml:"soundDelay" validate:"gte=0,lte=60"`     // seconds
	AverageWindowSize int     `yaml:"averageWindowSize" validate:"gte=0,lte=200"`
	Timer             float64 `yaml:"timer" validate:"gte=0,lte=600"` // minutes
	TimerMode         bool    `yaml:"timerMode"`
	FrequencyMode     bool    `yaml:"frequencyMode"`
}

func Default() Settings {
	return Settings{
		YellowMinDec:      45,
		RedMinDec:         60,
		AddPoints:         1,
		LosePoints:        1,
		TimeInGreen:       1,
		Goal:              10,
		CooldownPeriod:    1,
		SoundDelay:        2,
		AverageWindowSize: level.DefaultWindowSize,
		Timer:             15,
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report yaml key names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// Load reads a YAML settings file on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Default(), fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+" "+formatValidationMessage(e))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "ltfield":
		return "must be below redMinDec"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// WithCalibration returns a copy using the calibrated thresholds.
func (s Settings) WithCalibration(sum calibrate.Summary) Settings {
	s.YellowMinDec = float64(sum.Yellow)
	s.RedMinDec = float64(sum.Red)
	return s
}

// YAML renders the settings for the user to paste into their file.
func (s Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

func (s Settings) Thresholds() traffic.Thresholds {
	return traffic.Thresholds{Yellow: s.YellowMinDec, Red: s.RedMinDec}
}

func (s Settings) Score() score.Config {
	cfg := score.Config{
		AddPoints:   s.AddPoints,
		LosePoints:  s.LosePoints,
		TimeInGreen: s.TimeInGreen,
		Goal:        s.Goal,
	}
	if s.TimerMode {
		cfg.TimeLimit = s.Timer
	}
	return cfg
}

func (s Settings) Alert() alert.Config {
	return alert.Config{
		Cooldown: time.Duration(s.CooldownPeriod * float64(time.Minute)),
		Delay:    time.Duration(s.SoundDelay * float64(time.Second)),
	}
}

func (s Settings) Level() level.Config {
	cfg := level.DefaultConfig()
	cfg.WindowSize = max(s.AverageWindowSize, 1)
	if s.FrequencyMode {
		cfg.Mode = level.ModeFrequency
	}
	return cfg
}
