package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	sessionFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

const EnvLogPath = "HUSH_LOG_PATH"

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: HUSH_LOG_PATH environment variable
	if envPath := os.Getenv(EnvLogPath); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	sessionPath := filepath.Join(dir, "session_log.txt")
	sessionFile, err = os.OpenFile(sessionPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

// InitCrash routes fatal runtime errors to crash_log.txt. The returned file
// stays open for the life of the process.
func InitCrash() (*os.File, error) {
	if err := EnsureDir(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	return f, nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if sessionFile != nil {
		sessionFile.Close()
		sessionFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Transition(from, to string, level float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Float64("level", level).
		Msg("transition")
}

func Alert(color string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("color", color).Msg("alert")
}

func Score(event string, points, elapsed int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("event", event).
		Int("points", points).
		Int("elapsed_s", elapsed).
		Msg("score")
}

type CalibrationData struct {
	Preset   string
	Samples  int
	Kept     int
	Baseline int
	P80      int
	Yellow   int
	Red      int
	Warn     bool
}

// Calibration records a finished calibration in both logs.
func Calibration(c CalibrationData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("preset", c.Preset).
		Int("samples", c.Samples).
		Int("kept", c.Kept).
		Int("baseline", c.Baseline).
		Int("p80", c.P80).
		Int("yellow", c.Yellow).
		Int("red", c.Red).
		Bool("warn", c.Warn).
		Msg("calibration")
	sessionLine(fmt.Sprintf("calibration\t%s\tbaseline=%d\tp80=%d\tyellow=%d\tred=%d",
		c.Preset, c.Baseline, c.P80, c.Yellow, c.Red))
}

func SessionStart(id, device string, yellow, red float64, mode string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("device", device).
		Float64("yellow", yellow).
		Float64("red", red).
		Str("mode", mode).
		Msg("session_start")
}

type SessionSummary struct {
	ID          string
	Points      int
	Elapsed     int
	GoalReached bool
	Yellows     int
	Reds        int
}

// SessionEnd records a finished monitoring session in both logs.
func SessionEnd(s SessionSummary) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", s.ID).
		Int("points", s.Points).
		Int("elapsed_s", s.Elapsed).
		Bool("goal", s.GoalReached).
		Int("yellows", s.Yellows).
		Int("reds", s.Reds).
		Msg("session_end")
	sessionLine(fmt.Sprintf("session\tpoints=%d\telapsed=%ds\tgoal=%t\tyellow=%d\tred=%d\tid=%s",
		s.Points, s.Elapsed, s.GoalReached, s.Yellows, s.Reds, s.ID))
}

func sessionLine(text string) {
	logMu.Lock()
	defer logMu.Unlock()
	if sessionFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	sessionFile.WriteString(line)
}
