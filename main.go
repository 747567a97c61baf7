package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"hush/audio"
	"hush/beep"
	"hush/calibrate"
	"hush/doctor"
	"hush/level"
	"hush/log"
	"hush/settings"
	"hush/shutdown"
)

var version = "dev"

var shutdownOnce sync.Once

func gracefulShutdown(mon *Monitor) {
	shutdownOnce.Do(func() {
		if mon != nil {
			mon.CancelCalibration()
			mon.Stop()
			mon.MicTest(false)
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT: expect lower levels)"
		}
	}
	return "mic: " + name + suffix
}

func main() {
	configFlag := flag.String("config", "hush.yaml", "Settings file (YAML); defaults are used when it does not exist")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	calibrateFlag := flag.String("calibrate", "", "Calibrate headless with a preset (whisper, partner, group) and print the settings")
	fftFlag := flag.Bool("fft", false, "Measure loudness in the frequency domain")
	windowFlag := flag.Int("window", -1, "Sliding average window in frames (overrides the settings file)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run microphone diagnostics and exit")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, replays a WAV file)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Parse()

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if crashFile, err := log.InitCrash(); err == nil {
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	} else {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *versionFlag {
		fmt.Printf("hush %s\n", version)
		os.Exit(0)
	}

	if *doctorFlag {
		wavFile := ""
		if len(flag.Args()) > 0 {
			wavFile = flag.Args()[0]
		}
		os.Exit(doctor.Run(*deviceFlag, wavFile))
	}

	cfg, err := settings.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *fftFlag {
		cfg.FrequencyMode = true
	}
	if *windowFlag >= 0 {
		cfg.AverageWindowSize = *windowFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: hush -test <wav-file>")
			os.Exit(1)
		}
		runTestMode(args[0], cfg)
		return
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		selectedDevice = findDevice(ctx, *deviceFlag)
		if selectedDevice == nil {
			log.Warnf("device %q not found, using default", *deviceFlag)
			fmt.Printf("Warning: device %q not found, using default\n", *deviceFlag)
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(ctx)
		if errors.Is(err, audio.ErrSelectionCancelled) {
			fmt.Println("Using default device")
			selectedDevice = nil
		} else if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	meter := level.NewMeter(ctx, selectedDevice, level.NewEstimator(cfg.Level()))

	if *calibrateFlag != "" {
		os.Exit(runCalibration(meter, cfg, calibrate.PresetKey(*calibrateFlag)))
	}

	var sink EventSink = tuiSink{}
	if !*tuiFlag {
		sink = newConsoleSink(os.Stdout)
	}
	mon := NewMonitor(meter, cfg, sink)

	if *tuiFlag {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram(mon, deviceLineText(selectedDevice))
		tuiMu.Unlock()

		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
				os.Exit(1)
			}
			gracefulShutdown(mon)
		}()

		<-tuiReady
	}

	go beep.Init()
	go watchDevices(ctx, mon, meter, selectedDevice)

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)

	if !*tuiFlag {
		if err := mon.Start(); err != nil {
			log.Errorf("start error: %v", err)
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	<-sigChan
	gracefulShutdown(mon)
}

func findDevice(ctx audio.Context, name string) *audio.DeviceInfo {
	devices, err := ctx.Devices()
	if err != nil {
		return nil
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i]
		}
	}
	return nil
}

// watchDevices polls for device changes (hotplug). Losing the selected
// device ends every flow and falls back to the default device; the
// preferred device is picked up again when it reappears.
func watchDevices(ctx audio.Context, mon *Monitor, meter *level.Meter, preferred *audio.DeviceInfo) {
	preferredName := ""
	if preferred != nil {
		preferredName = preferred.Name
	}
	var last []string
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		devices, err := ctx.Devices()
		if err != nil {
			continue
		}
		names := make([]string, len(devices))
		for i := range devices {
			names[i] = devices[i].Name
		}
		if slices.Equal(last, names) {
			continue
		}
		last = names

		current := meter.Device()
		switch {
		case len(names) == 0:
			log.Info("device_disconnected: all")
			mon.DeviceLost()
		case current != nil && !slices.Contains(names, current.Name):
			log.Info("device_disconnected: " + current.Name)
			mon.DeviceLost()
			meter.SetDevice(nil)
			tuiSend(DeviceLineMsg{Text: deviceLineText(nil)})
		case current == nil && preferredName != "" && slices.Contains(names, preferredName):
			if dev := findDevice(ctx, preferredName); dev != nil {
				log.Info("device_reconnected: " + preferredName)
				if err := meter.SetDevice(dev); err != nil {
					log.Errorf("device switch error: %v", err)
				}
				tuiSend(DeviceLineMsg{Text: deviceLineText(dev)})
			}
		}
	}
}

// runCalibration samples the room once and prints the resulting settings
// for the user to paste into their file.
func runCalibration(meter *level.Meter, cfg settings.Settings, key calibrate.PresetKey) int {
	sink := newConsoleSink(os.Stderr)
	mon := NewMonitor(meter, cfg, sink)

	if err := mon.Calibrate(key); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Calibrating for %s, keep the room at its usual noise...\n", calibrate.Duration)

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	defer shutdown.Stop(sigChan)
	var err error
	select {
	case err = <-sink.calibrated:
	case <-sigChan:
		mon.CancelCalibration()
		fmt.Fprintln(os.Stderr, "Calibration cancelled.")
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out, err := mon.Settings().YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)
	return 0
}
