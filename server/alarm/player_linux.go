//go:build linux

package alarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// PulsePlayer plays tones through the PulseAudio server. The client is
// dialled lazily and redialled after a failed playback.
type PulsePlayer struct {
	appName string

	mu     sync.Mutex
	client *pulse.Client
}

func NewPlayer(appName string) (Player, error) {
	return &PulsePlayer{appName: appName}, nil
}

func (p *PulsePlayer) conn() (*pulse.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := pulse.NewClient(pulse.ClientApplicationName(p.appName))
	if err != nil {
		return nil, fmt.Errorf("connect pulseaudio: %w", err)
	}
	p.client = c
	return c, nil
}

func (p *PulsePlayer) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

func (p *PulsePlayer) Play(ctx context.Context, samples []int16, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	c, err := p.conn()
	if err != nil {
		return err
	}

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) || ctx.Err() != nil {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackRawOption(func(cs *proto.CreatePlaybackStream) {
			cs.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		p.drop()
		return fmt.Errorf("open playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		p.drop()
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

func (p *PulsePlayer) Close() error {
	p.drop()
	return nil
}
