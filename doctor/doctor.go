// Package doctor is the interactive microphone check behind -doctor.
package doctor

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"hush/audio"
	"hush/beep"
	"hush/calibrate"
	"hush/level"
	"hush/shutdown"
)

const (
	measureFor = 3 * time.Second
	barWidth   = 40
)

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
// A non-empty wavFile replaces the microphone with a recording.
func Run(device string, wavFile string) int {
	resetTerminal()

	fmt.Println("hush doctor - microphone diagnostics")
	fmt.Println("====================================")

	var ctx audio.Context
	if wavFile != "" {
		fake, err := audio.NewFakeContext(wavFile, true)
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			return 1
		}
		ctx = fake
	} else {
		live, err := audio.NewContext()
		if err != nil {
			fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
			return 1
		}
		ctx = live
	}
	defer ctx.Close()
	shutdown.OnSignal(func() {
		ctx.Close()
		fmt.Println("\nInterrupted")
		os.Exit(1)
	})

	allPass := true

	dev, ok := checkDevices(ctx, device)
	if !ok {
		allPass = false
	}
	if allPass && !checkLevel(ctx, dev) {
		allPass = false
	}
	if allPass && wavFile == "" && !checkSound() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkDevices(ctx audio.Context, name string) (*audio.DeviceInfo, bool) {
	fmt.Println()
	fmt.Println("[1/3] Capture devices")

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return nil, false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return nil, false
	}
	var dev *audio.DeviceInfo
	for i := range devices {
		mark := " "
		if name != "" && devices[i].Name == name {
			dev = &devices[i]
			mark = "*"
		}
		fmt.Printf("  %s %s\n", mark, devices[i].Name)
	}
	if name != "" && dev == nil {
		fmt.Printf("  FAIL: device %q not found\n", name)
		return nil, false
	}
	if dev != nil && audio.IsBluetooth(dev.Name) {
		fmt.Println("  Warning: bluetooth microphones often apply their own gain control")
	}
	fmt.Printf("  PASS: %d device(s)\n", len(devices))
	return dev, true
}

func checkLevel(ctx audio.Context, dev *audio.DeviceInfo) bool {
	fmt.Println()
	fmt.Println("[2/3] Microphone level")
	fmt.Printf("Talk, clap, then stay quiet for %v...\n", measureFor)

	r, err := measure(ctx, dev, level.DefaultConfig(), measureFor, func(lvl float64) {
		fmt.Printf("\r  %s %5.1f", bar(lvl), lvl)
	})
	fmt.Println()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if r.frames == 0 {
		fmt.Println("  FAIL: no audio frames received")
		return false
	}
	fmt.Printf("  frames=%d min=%.0f median=%.0f p80=%.0f max=%.0f\n", r.frames, r.min, r.median, r.p80, r.max)
	if r.max <= 0 {
		fmt.Println("  FAIL: microphone delivered only silence")
		return false
	}
	fmt.Println("  PASS: microphone is live")
	return true
}

func checkSound() bool {
	fmt.Println()
	fmt.Println("[3/3] Alert sound")
	fmt.Println("Playing the warning tone...")
	beep.PlayWarning()
	time.Sleep(time.Second)

	resetTerminal()
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Did you hear it? [y/n]: ")
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	if answer == "y" || answer == "yes" {
		fmt.Println("  PASS: alert sound verified by user")
		return true
	}
	fmt.Println("  FAIL: alert sound not confirmed")
	return false
}

type result struct {
	frames      int
	min, max    float64
	median, p80 float64
}

// measure runs a meter for d and summarizes the levels it produced. The
// display callback is throttled to four updates per second.
func measure(ctx audio.Context, dev *audio.DeviceInfo, cfg level.Config, d time.Duration, display func(float64)) (result, error) {
	meter := level.NewMeter(ctx, dev, level.NewEstimator(cfg))

	var mu sync.Mutex
	var levels []float64
	meter.OnLevel(func(lvl float64) {
		mu.Lock()
		levels = append(levels, lvl)
		mu.Unlock()
	})

	if err := meter.Start(); err != nil {
		return result{}, err
	}
	deadline := time.After(d)
	ticker := time.NewTicker(250 * time.Millisecond)
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-ticker.C:
			if display != nil {
				display(meter.Level())
			}
		}
	}
	ticker.Stop()
	meter.Stop()

	mu.Lock()
	defer mu.Unlock()
	r := result{frames: len(levels)}
	if len(levels) == 0 {
		return r, nil
	}
	r.min, r.max = levels[0], levels[0]
	for _, v := range levels {
		r.min = min(r.min, v)
		r.max = max(r.max, v)
	}
	r.median = calibrate.Median(levels)
	r.p80 = calibrate.Percentile(levels, 80)
	return r, nil
}

func bar(lvl float64) string {
	n := int(min(max(lvl, 0), 100) / 100 * barWidth)
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", barWidth-n) + "]"
}
