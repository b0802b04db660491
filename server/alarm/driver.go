package alarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrUnsupported = errors.New("audio output not supported on this platform")

// Player writes one tone to the host audio output. Play must return soon
// after ctx is cancelled.
type Player interface {
	Play(ctx context.Context, samples []int16, sampleRate int) error
	Close() error
}

// Driver repeats a short tone on a fixed period while started. Start and
// Stop are idempotent and safe for concurrent use; Stop returns only after
// the playback loop has exited, so no tone starts after it.
type Driver struct {
	cfg    Config
	player Player
	logger *zap.Logger
	tone   []int16

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	plays    atomic.Int64
	failures atomic.Int64
}

func NewDriver(cfg Config, player Player, logger *zap.Logger) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg:    cfg,
		player: player,
		logger: logger,
		tone:   GenerateTone(cfg.SampleRate, cfg.Frequency, cfg.ToneLength, cfg.Volume),
	}
}

func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(ctx, d.done)
	d.logger.Debug("Alarm sound started",
		zap.Float64("frequency", d.cfg.Frequency),
		zap.Duration("period", d.cfg.Period))
}

func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Debug("Alarm sound stopped")
}

func (d *Driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Stats reports how many tones played and how many failed.
func (d *Driver) Stats() (plays, failures int64) {
	return d.plays.Load(), d.failures.Load()
}

// Close stops the loop and releases the audio output.
func (d *Driver) Close() error {
	d.Stop()
	return d.player.Close()
}

func (d *Driver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.Period)
	defer ticker.Stop()

	for {
		d.beep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Driver) beep(ctx context.Context) {
	err := d.player.Play(ctx, d.tone, d.cfg.SampleRate)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// Audio errors never touch alarm state; only the first is loud.
		if d.failures.Add(1) == 1 {
			d.logger.Warn("Alarm tone playback failed", zap.Error(err))
		} else {
			d.logger.Debug("Alarm tone playback failed", zap.Error(err))
		}
		return
	}
	d.plays.Add(1)
}

// Silent discards tones. It backs the driver when audio is muted or the
// platform has no supported output.
type Silent struct{}

func (Silent) Play(context.Context, []int16, int) error { return nil }

func (Silent) Close() error { return nil }
