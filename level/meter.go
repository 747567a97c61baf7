package level

import (
	"sync"

	"go.uber.org/atomic"

	"hush/audio"
)

// Meter owns the capture device and feeds its frames through an Estimator.
//
// Several flows can share the device through Acquire/Release: it opens for
// the first holder and closes when the last one releases. Start and Stop
// bypass the holder bookkeeping.
type Meter struct {
	ctx    audio.Context
	config audio.CaptureConfig
	est    *Estimator

	mu      sync.Mutex
	device  *audio.DeviceInfo
	capture audio.CaptureDevice
	holders map[string]struct{}
	onLevel func(float64)

	// gate is held for reading while a frame is processed so Stop can wait
	// for in-flight callbacks.
	gate    sync.RWMutex
	running atomic.Bool
}

func NewMeter(ctx audio.Context, device *audio.DeviceInfo, est *Estimator) *Meter {
	return &Meter{
		ctx:     ctx,
		config:  audio.DefaultCaptureConfig(),
		est:     est,
		device:  device,
		holders: make(map[string]struct{}),
	}
}

// OnLevel registers the per-frame consumer. It runs on the capture
// goroutine and must not call Stop or Release.
func (m *Meter) OnLevel(fn func(level float64)) {
	m.gate.Lock()
	m.onLevel = fn
	m.gate.Unlock()
}

func (m *Meter) Level() float64 { return m.est.Level() }

func (m *Meter) Active() bool { return m.running.Load() }

func (m *Meter) SetConfig(cfg Config) {
	m.gate.Lock()
	m.est.SetConfig(cfg)
	m.gate.Unlock()
}

func (m *Meter) Device() *audio.DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// SetDevice switches the capture device. An open capture is reopened on the
// new device with the same holders.
func (m *Meter) SetDevice(dev *audio.DeviceInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = dev
	if !m.running.Load() {
		return nil
	}
	holders := m.holders
	m.stopLocked()
	if err := m.startLocked(); err != nil {
		return err
	}
	m.holders = holders
	return nil
}

func (m *Meter) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

// Stop closes the device and zeroes the level. No frame is processed after
// Stop returns. Stopping a stopped meter only re-zeroes the level.
func (m *Meter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Acquire registers holder and opens the device if nobody held it yet.
// A failed open leaves the holder set unchanged.
func (m *Meter) Acquire(holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holders[holder]; ok {
		return nil
	}
	if !m.running.Load() {
		if err := m.startLocked(); err != nil {
			return err
		}
	}
	m.holders[holder] = struct{}{}
	return nil
}

// Release drops holder and closes the device once no holder is left.
// Releasing a holder that never acquired is a no-op.
func (m *Meter) Release(holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holders[holder]; !ok {
		return
	}
	delete(m.holders, holder)
	if len(m.holders) == 0 {
		m.stopLocked()
	}
}

func (m *Meter) Holds(holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.holders[holder]
	return ok
}

func (m *Meter) startLocked() error {
	if m.running.Load() {
		return nil
	}
	capture, err := m.ctx.NewCapture(m.device, m.config)
	if err != nil {
		return err
	}

	m.gate.Lock()
	m.est.Reset()
	m.gate.Unlock()

	capture.SetCallback(m.handle)
	m.running.Store(true)
	if err := capture.Start(); err != nil {
		m.running.Store(false)
		capture.ClearCallback()
		capture.Close()
		m.gate.Lock()
		m.est.Reset()
		m.gate.Unlock()
		return err
	}
	m.capture = capture
	return nil
}

func (m *Meter) stopLocked() {
	m.running.Store(false)
	m.gate.Lock()
	m.est.Reset()
	m.gate.Unlock()

	if m.capture != nil {
		m.capture.ClearCallback()
		m.capture.Stop()
		m.capture.Close()
		m.capture = nil
	}
	m.holders = make(map[string]struct{})
}

func (m *Meter) handle(data []byte, _ uint32) {
	m.gate.RLock()
	defer m.gate.RUnlock()
	if !m.running.Load() {
		return
	}
	lvl := m.est.ProcessPCM16(data)
	if m.onLevel != nil {
		m.onLevel(lvl)
	}
}
