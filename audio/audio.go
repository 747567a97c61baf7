package audio

import (
	"errors"
	"strings"
)

const WAVHeaderSize = 44

const (
	SampleRate = 16000
	Channels   = 1
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no capture device available")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var permissionHints = []string{
	"permission", "access denied", "not permitted", "eacces", "unauthorized",
}

// classifyStartError maps a backend failure onto ErrPermissionDenied or
// ErrDeviceUnavailable, keeping the backend message in the chain.
func classifyStartError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	lower := strings.ToLower(err.Error())
	for _, h := range permissionHints {
		if strings.Contains(lower, h) {
			return errors.Join(ErrPermissionDenied, err)
		}
	}
	return errors.Join(ErrDeviceUnavailable, err)
}

// DataCallback receives little-endian PCM16 mono frames.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID      string // opaque platform-specific identifier
	Name    string
	Default bool // the system's current default input
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
