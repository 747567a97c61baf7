//go:build linux

package beep

import (
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// pulsePlayer opens a short-lived client per tone.
type pulsePlayer struct{}

func newPlayer() player { return pulsePlayer{} }

func (pulsePlayer) play(pcm []int16) {
	if len(pcm) > 0 {
		go playPulse(pcm)
	}
}

func playPulse(pcm []int16) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("hush"))
	if err != nil {
		return
	}
	defer c.Close()

	rest := pcm
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if len(rest) == 0 {
			return 0, pulse.EndOfData
		}
		n := copy(buf, rest)
		rest = rest[n:]
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return
	}
	defer stream.Close()
	stream.Start()
	stream.Drain()
	stream.Stop()
}
