package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"hush/audio"
	"hush/beep"
	"hush/calibrate"
	"hush/level"
	"hush/log"
	"hush/score"
	"hush/settings"
	"hush/traffic"
)

// consoleSink prints monitor events as plain lines. It backs the -tui=false
// mode, headless calibration and the stdin-driven test mode.
type consoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	colors bool

	// calibrated receives the outcome of every finished calibration.
	calibrated chan error
}

var stateColors = map[traffic.State]*color.Color{
	traffic.Green:  color.New(color.FgGreen),
	traffic.Yellow: color.New(color.FgYellow),
	traffic.Red:    color.New(color.FgRed, color.Bold),
}

// newConsoleSink colors state lines only when out is a terminal.
func newConsoleSink(out io.Writer) *consoleSink {
	c := &consoleSink{out: out, calibrated: make(chan error, 1)}
	if f, ok := out.(*os.File); ok {
		c.colors = term.IsTerminal(int(f.Fd()))
	}
	return c
}

func (c *consoleSink) stateLine(s traffic.State, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if c.colors {
		line = stateColors[s].Sprint(line)
	}
	c.printf("%s", line)
}

func (c *consoleSink) printf(format string, args ...any) {
	c.mu.Lock()
	fmt.Fprintf(c.out, format+"\n", args...)
	c.mu.Unlock()
}

func (c *consoleSink) Level(float64) {}

func (c *consoleSink) StateChanged(tr traffic.Transition) {
	c.stateLine(tr.To, "STATE %s -> %s", tr.From, tr.To)
}

func (c *consoleSink) Score(s score.Snapshot, ev score.Event) {
	if ev.Has(score.EventGoalReached) {
		beep.PlayGoal()
	}
	if ev == 0 {
		return
	}
	c.printf("SCORE %s points=%d elapsed=%d", ev, s.Points, s.Elapsed)
}

func (c *consoleSink) Alert(s traffic.State) {
	playAlert(s)
	c.stateLine(s, "ALERT %s", s)
}

func (c *consoleSink) SessionStarted() { c.printf("SESSION start") }

func (c *consoleSink) SessionStopped(s score.Snapshot) {
	c.printf("SESSION stop points=%d elapsed=%d goal=%v", s.Points, s.Elapsed, s.GoalReached)
}

func (c *consoleSink) CalibrationStarted(p calibrate.Preset) {
	c.printf("CALIBRATION start %s", p.Key)
}

func (c *consoleSink) CalibrationFinished(res calibrate.Result, err error) {
	if err != nil {
		c.printf("CALIBRATION failed: %v", err)
	} else {
		s := res.Summary
		c.printf("CALIBRATION done baseline=%d p80=%d yellow=%d red=%d warn=%v samples=%d kept=%d",
			s.Baseline, s.P80, s.Yellow, s.Red, res.Warn, res.Samples, res.Kept)
	}
	select {
	case c.calibrated <- err:
	default:
	}
}

func (c *consoleSink) CalibrationCancelled() { c.printf("CALIBRATION cancelled") }

func (c *consoleSink) MicTest(on bool) { c.printf("MICTEST %v", on) }

func (c *consoleSink) NoSignal(on bool) {
	if on {
		beep.PlayWarning()
		c.printf("SIGNAL lost")
		return
	}
	c.printf("SIGNAL restored")
}

// runTestMode replays a WAV file through the full pipeline, driven by
// commands on stdin.
func runTestMode(wavPath string, cfg settings.Settings) {
	beep.Disable()
	defer log.Close()

	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	meter := level.NewMeter(fakeCtx, nil, level.NewEstimator(cfg.Level()))
	sink := newConsoleSink(os.Stdout)
	mon := NewMonitor(meter, cfg, sink)
	runScript(os.Stdin, sink, mon, fakeCtx)
	mon.CancelCalibration()
	mon.Stop()
	meter.Stop()
}

// runScript executes one command per line until QUIT or end of input.
func runScript(r io.Reader, sink *consoleSink, mon *Monitor, fakeCtx *audio.FakeContext) {
	report := func(err error) {
		if err != nil {
			sink.printf("ERROR %v", err)
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		verb, arg, _ := strings.Cut(cmd, " ")
		switch verb {
		case "":
		case "START":
			report(mon.Start())
		case "STOP":
			mon.Stop()
		case "RESET":
			mon.Reset()
		case "CALIBRATE":
			report(mon.Calibrate(calibrate.PresetKey(arg)))
		case "CANCEL":
			mon.CancelCalibration()
		case "MICTEST":
			report(mon.MicTest(arg == "on"))
		case "TIMER":
			report(mon.ToggleTimerMode())
		case "DEVICE_LOST":
			mon.DeviceLost()
		case "STATUS":
			s := mon.Score()
			sink.printf("STATUS state=%s level=%.1f points=%d elapsed=%d running=%v",
				mon.State(), mon.Level(), s.Points, s.Elapsed, mon.Running())
		case "WAIT_AUDIO_DONE":
			if ch := fakeCtx.AudioDone(); ch != nil {
				<-ch
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return
		default:
			sink.printf("ERROR unknown command %q", cmd)
		}
	}
}
