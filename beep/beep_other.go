//go:build !linux

package beep

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// cursor is the tone being played. Only the device callback advances pos.
type cursor struct {
	pcm []byte
	pos int
}

type malgoPlayer struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device

	cur atomic.Pointer[cursor]
}

func newPlayer() player {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil
	}
	p := &malgoPlayer{ctx: ctx}
	if err := p.open(); err != nil {
		ctx.Uninit()
		return nil
	}
	return p
}

func (p *malgoPlayer) open() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	dev, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{Data: p.fill})
	if err != nil {
		return err
	}
	p.device = dev
	return nil
}

func (p *malgoPlayer) fill(output, _ []byte, _ uint32) {
	n := 0
	if c := p.cur.Load(); c != nil {
		n = copy(output, c.pcm[c.pos:])
		c.pos += n
		if c.pos >= len(c.pcm) {
			p.cur.CompareAndSwap(c, nil)
		}
	}
	clear(output[n:])
}

func (p *malgoPlayer) play(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return
	}

	p.device.Stop()
	p.cur.Store(&cursor{pcm: toBytes(pcm)})
	if p.device.Start() == nil {
		return
	}

	// macOS invalidates the device across sleep/wake; reopen it once.
	p.device.Uninit()
	p.device = nil
	if p.open() != nil || p.device.Start() != nil {
		p.cur.Store(nil)
	}
}
