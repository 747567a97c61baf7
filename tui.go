package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hush/beep"
	"hush/calibrate"
	"hush/score"
	"hush/settings"
	"hush/traffic"
)

// TUI message types
type LevelMsg struct{ Level float64 }
type StateMsg struct{ From, To traffic.State }
type ScoreMsg struct {
	Snapshot score.Snapshot
	Event    score.Event
}
type AlertMsg struct{ Color traffic.State }
type SessionMsg struct {
	Running  bool
	Snapshot score.Snapshot
}
type CalibrationStartMsg struct{ Preset calibrate.Preset }
type CalibrationDoneMsg struct {
	Result calibrate.Result
	Err    error
}
type CalibrationCancelMsg struct{}
type MicTestMsg struct{ On bool }
type NoSignalMsg struct{ On bool }
type DeviceLineMsg struct{ Text string } // Microphone device name
type ErrorMsg struct{ Text string }
type tickMsg time.Time

// controller is the part of Monitor the TUI drives.
type controller interface {
	Start() error
	Stop()
	Reset()
	Running() bool
	Calibrate(key calibrate.PresetKey) error
	CancelCalibration()
	Calibrating() bool
	CalibrationRemaining(now time.Time) time.Duration
	MicTest(on bool) error
	ToggleTimerMode() error
	Settings() settings.Settings
	Score() score.Snapshot
}

type tuiModel struct {
	ctl           controller
	frame         int
	width, height int

	running    bool
	micTest    bool
	level      float64
	state      traffic.State
	score      score.Snapshot
	settings   settings.Settings
	deviceLine string

	calibrating  bool
	calPreset    calibrate.Preset
	calRemaining time.Duration
	calSummary   string
	warning      string // thresholds capped by calibration
	goalBanner   bool
	noSignal     bool
	flash        int // frames left of the alert flash
	errLine      string
}

var (
	tuiProgram   *tea.Program
	tuiMu        sync.Mutex
	tuiReady     = make(chan struct{})
	tuiReadyOnce sync.Once
)

// Pre-computed pixel styles to avoid allocations in render loop
const (
	pixOff = iota
	pixHousing
	pixGreen
	pixYellow
	pixRed
	pixDimGreen
	pixDimYellow
	pixDimRed
	pixGlint
	pixCount
)

var (
	pixelColors = [pixCount]string{"", "236", "46", "226", "196", "22", "58", "52", "255"}
	pixelStyles [pixCount]lipgloss.Style
	pixelBg     [pixCount][pixCount]lipgloss.Style

	stateStyles = map[traffic.State]lipgloss.Style{
		traffic.Green:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		traffic.Yellow: lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		traffic.Red:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldHelp  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	goalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
)

func init() {
	for i, c := range pixelColors {
		if c != "" {
			pixelStyles[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, fg := range pixelColors {
		for j, bg := range pixelColors {
			if fg != "" && bg != "" {
				pixelBg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
}

func NewTUIProgram(ctl controller, deviceLine string) *tea.Program {
	m := newTUIModel(ctl, deviceLine)
	return tea.NewProgram(m, tea.WithAltScreen())
}

func newTUIModel(ctl controller, deviceLine string) tuiModel {
	return tuiModel{
		ctl:        ctl,
		settings:   ctl.Settings(),
		score:      ctl.Score(),
		deviceLine: deviceLine,
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// tuiSend delivers msg to the running program, if any. It must not be
// called from Update: Send blocks until the event loop takes the message.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (m tuiModel) Init() tea.Cmd {
	tuiReadyOnce.Do(func() { close(tuiReady) })
	return tuiTick()
}

// do runs a monitor call off the event loop; the monitor reports back
// through tuiSend.
func do(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return ErrorMsg{Text: err.Error()}
		}
		return nil
	}
}

func (m tuiModel) handleKey(key string) (tuiModel, tea.Cmd) {
	ctl := m.ctl
	m.errLine = ""
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ", "space":
		if m.running {
			return m, do(func() error { ctl.Stop(); return nil })
		}
		m.goalBanner = false
		return m, do(ctl.Start)
	case "r":
		m.goalBanner = false
		return m, do(func() error { ctl.Reset(); return nil })
	case "1", "2", "3":
		if m.calibrating {
			return m, nil
		}
		p := calibrate.Presets[int(key[0]-'1')]
		m.calSummary, m.warning = "", ""
		return m, do(func() error { return ctl.Calibrate(p.Key) })
	case "esc":
		if m.calibrating {
			return m, do(func() error { ctl.CancelCalibration(); return nil })
		}
	case "m":
		on := !m.micTest
		return m, do(func() error { return ctl.MicTest(on) })
	case "t":
		if m.running {
			m.errLine = "stop the session to change the timer"
			return m, nil
		}
		return m, do(ctl.ToggleTimerMode)
	}
	return m, nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		m.frame++
		if m.flash > 0 {
			m.flash--
		}
		m.settings = m.ctl.Settings()
		if m.calibrating {
			m.calRemaining = m.ctl.CalibrationRemaining(time.Time(msg))
		}
		m.score = m.ctl.Score()
		return m, tuiTick()

	case LevelMsg:
		m.level = msg.Level

	case StateMsg:
		m.state = msg.To

	case ScoreMsg:
		m.score = msg.Snapshot
		if msg.Event.Has(score.EventGoalReached) {
			m.goalBanner = true
		}

	case AlertMsg:
		m.flash = 16

	case SessionMsg:
		m.running = msg.Running
		if !m.running {
			m.score = msg.Snapshot
			if !m.micTest && !m.calibrating {
				m.level = 0
			}
		}

	case CalibrationStartMsg:
		m.calibrating = true
		m.calPreset = msg.Preset
		m.calRemaining = calibrate.Duration

	case CalibrationDoneMsg:
		m.calibrating = false
		if msg.Err != nil {
			m.errLine = "calibration failed: " + msg.Err.Error()
			break
		}
		s := msg.Result.Summary
		m.calSummary = fmt.Sprintf("calibrated (%s): baseline %d, p80 %d -> yellow %d, red %d",
			s.Preset, s.Baseline, s.P80, s.Yellow, s.Red)
		if msg.Result.Warn {
			m.warning = "room is loud: thresholds were capped, expect frequent alerts"
		}

	case CalibrationCancelMsg:
		m.calibrating = false

	case MicTestMsg:
		m.micTest = msg.On

	case NoSignalMsg:
		m.noSignal = msg.On

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case ErrorMsg:
		m.errLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const lightWidth = 16
	light := renderLight(m.frame, m.state, m.running || m.micTest || m.calibrating, m.flash > 0)

	var info []string

	// Status line
	switch {
	case m.calibrating:
		info = append(info, warnStyle.Bold(true).Render(fmt.Sprintf("◌ CALIBRATING %s  %ds",
			m.calPreset.Label, int(math.Ceil(m.calRemaining.Seconds())))))
	case m.running:
		info = append(info, stateStyles[m.state].Render("● "+strings.ToUpper(m.state.String())))
	case m.micTest:
		info = append(info, dimStyle.Render("◉ MIC TEST"))
	default:
		info = append(info, dimStyle.Render("○ STANDBY"))
	}

	th := m.settings.Thresholds()
	info = append(info, levelBar(m.level, th, 36))
	info = append(info, dimStyle.Render(fmt.Sprintf("%5.1f dB   yellow %.0f  red %.0f", m.level, th.Yellow, th.Red)))
	info = append(info, "")

	info = append(info, fmt.Sprintf("points %d / %d", m.score.Points, m.settings.Goal))
	info = append(info, clockLine(m.score, m.settings.TimerMode))

	if m.noSignal {
		info = append(info, "", warnStyle.Render("⚠ no signal from the microphone (muted?)"))
	}
	if m.goalBanner {
		info = append(info, "", goalStyle.Render("★ GOAL REACHED ★"))
	}
	if m.calSummary != "" {
		info = append(info, "", dimStyle.Render(m.calSummary))
	}
	if m.warning != "" {
		info = append(info, warnStyle.Render("⚠ "+m.warning))
	}
	if m.errLine != "" {
		info = append(info, warnStyle.Render(m.errLine))
	}
	if m.deviceLine != "" {
		info = append(info, "", dimStyle.Render(m.deviceLine))
	}

	info = append(info, "")
	info = append(info, boldHelp.Render("space")+helpStyle.Render(" start/stop  ")+
		boldHelp.Render("r")+helpStyle.Render(" reset  ")+
		boldHelp.Render("m")+helpStyle.Render(" mic test  ")+
		boldHelp.Render("t")+helpStyle.Render(" timer"))
	info = append(info, boldHelp.Render("1/2/3")+helpStyle.Render(" calibrate whisper/partner/group  ")+
		boldHelp.Render("esc")+helpStyle.Render(" cancel  ")+
		boldHelp.Render("q")+helpStyle.Render(" quit"))
	info = append(info, helpStyle.Render("hush "+version))

	lightPanel := lipgloss.NewStyle().
		Width(lightWidth).
		Height(m.height).
		Render(light)
	infoWidth := max(m.width-lightWidth-1, 20)
	infoPanel := lipgloss.NewStyle().
		Width(infoWidth).
		Height(m.height).
		PaddingLeft(1).
		PaddingTop(1).
		Render(strings.Join(info, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, lightPanel, infoPanel)
}

// levelBar draws the level on a 0-100 dB scale with the yellow and red
// thresholds marked.
func levelBar(lvl float64, th traffic.Thresholds, width int) string {
	if width < 3 {
		width = 3
	}
	pos := func(v float64) int {
		p := int(math.Round(v / 100 * float64(width)))
		return min(max(p, 0), width)
	}
	filled := pos(lvl)
	yellowAt, redAt := pos(th.Yellow), pos(th.Red)

	var b strings.Builder
	for i := 0; i < width; i++ {
		color := traffic.Classify(float64(i)/float64(width)*100, th)
		switch {
		case i < filled:
			b.WriteString(stateStyles[color].Render("█"))
		case i == yellowAt || i == redAt:
			b.WriteString(stateStyles[color].Render("│"))
		default:
			b.WriteString(dimStyle.Render("·"))
		}
	}
	return b.String()
}

// clockLine shows the countdown in timer mode and elapsed time otherwise.
func clockLine(s score.Snapshot, timerMode bool) string {
	if timerMode && s.Remaining >= 0 {
		return "time left " + formatClock(s.Remaining)
	}
	return "elapsed " + formatClock(s.Elapsed)
}

func formatClock(seconds int) string {
	seconds = max(seconds, 0)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// renderLight draws a three-lamp traffic light with half-block pixels.
func renderLight(frame int, state traffic.State, live, flash bool) string {
	const charsW = 14
	const charsH = 21
	const pixW = charsW
	const pixH = charsH * 2
	const lampR = 5.2

	pixels := make([][]int, pixH)
	for i := range pixels {
		pixels[i] = make([]int, pixW)
		for x := 1; x < pixW-1; x++ {
			pixels[i][x] = pixHousing
		}
	}

	// Soft pulse on the lit lamp, faster while an alert flashes.
	pulse := 0.0
	if live {
		rate := 0.08
		if flash {
			rate = 0.5
		}
		pulse = math.Sin(float64(frame)*rate) * 0.4
	}

	lamps := []struct {
		state    traffic.State
		lit, dim int
	}{
		{traffic.Red, pixRed, pixDimRed},
		{traffic.Yellow, pixYellow, pixDimYellow},
		{traffic.Green, pixGreen, pixDimGreen},
	}
	centerX := float64(pixW-1) / 2
	for i, l := range lamps {
		centerY := 7.0 + float64(i)*13.5
		on := live && l.state == state
		r := lampR
		if on {
			r += pulse
		}
		for y := 0; y < pixH; y++ {
			for x := 0; x < pixW; x++ {
				dx := float64(x) - centerX
				dy := float64(y) - centerY
				if math.Sqrt(dx*dx+dy*dy) >= r {
					continue
				}
				if on {
					pixels[y][x] = l.lit
				} else {
					pixels[y][x] = l.dim
				}
			}
		}
		if on {
			gx, gy := int(centerX-2), int(centerY-3)
			if gy >= 0 && gy < pixH && gx >= 0 {
				pixels[gy][gx] = pixGlint
			}
		}
	}

	var result strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			top := pixels[cy*2][cx]
			bot := pixels[cy*2+1][cx]
			if top == 0 && bot == 0 {
				result.WriteString(" ")
			} else if top == bot {
				result.WriteString(pixelStyles[top].Render("█"))
			} else if top != 0 && bot == 0 {
				result.WriteString(pixelStyles[top].Render("▀"))
			} else if top == 0 && bot != 0 {
				result.WriteString(pixelStyles[bot].Render("▄"))
			} else {
				result.WriteString(pixelBg[top][bot].Render("▀"))
			}
		}
		result.WriteString("\n")
	}
	return result.String()
}

// tuiSink forwards monitor events to the TUI and plays the tones.
type tuiSink struct{}

func (tuiSink) Level(lvl float64) { tuiSend(LevelMsg{Level: lvl}) }

func (tuiSink) StateChanged(tr traffic.Transition) {
	tuiSend(StateMsg{From: tr.From, To: tr.To})
}

func (tuiSink) Score(s score.Snapshot, ev score.Event) {
	if ev.Has(score.EventGoalReached) {
		beep.PlayGoal()
	}
	tuiSend(ScoreMsg{Snapshot: s, Event: ev})
}

func (tuiSink) Alert(color traffic.State) {
	playAlert(color)
	tuiSend(AlertMsg{Color: color})
}

func (tuiSink) SessionStarted() {
	tuiSend(SessionMsg{Running: true})
}

func (tuiSink) SessionStopped(s score.Snapshot) {
	tuiSend(SessionMsg{Running: false, Snapshot: s})
}

func (tuiSink) CalibrationStarted(p calibrate.Preset) {
	tuiSend(CalibrationStartMsg{Preset: p})
}

func (tuiSink) CalibrationFinished(res calibrate.Result, err error) {
	tuiSend(CalibrationDoneMsg{Result: res, Err: err})
}

func (tuiSink) CalibrationCancelled() { tuiSend(CalibrationCancelMsg{}) }

func (tuiSink) MicTest(on bool) { tuiSend(MicTestMsg{On: on}) }

func (tuiSink) NoSignal(on bool) {
	if on {
		beep.PlayWarning()
	}
	tuiSend(NoSignalMsg{On: on})
}

func playAlert(color traffic.State) {
	switch color {
	case traffic.Yellow:
		beep.PlayWarning()
	case traffic.Red:
		beep.PlayAlert()
	}
}
