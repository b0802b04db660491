package alarm

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePlayer struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   bool
	playing bool
	closed  bool
}

func (p *fakePlayer) Play(ctx context.Context, samples []int16, sampleRate int) error {
	p.mu.Lock()
	p.calls++
	p.playing = true
	block, err := p.block, p.err
	p.mu.Unlock()

	if block {
		<-ctx.Done()
	}

	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	return err
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) snapshot() (calls int, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, p.playing
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Period = 2 * time.Millisecond
	cfg.ToneLength = time.Millisecond
	return cfg
}

func TestGenerateTone(t *testing.T) {
	samples := GenerateTone(8000, 500, 200*time.Millisecond, 0.5)
	require.Len(t, samples, 1600)

	assert.Zero(t, samples[0], "tone starts silent")
	var peak int16
	for _, s := range samples {
		if s > peak {
			peak = s
		}
	}
	assert.InDelta(t, 0.5*math.MaxInt16, float64(peak), 200)
}

func TestDriverRepeatsUntilStopped(t *testing.T) {
	p := &fakePlayer{}
	d := NewDriver(fastConfig(), p, zaptest.NewLogger(t))

	assert.False(t, d.Active())
	d.Start()
	d.Start()
	assert.True(t, d.Active())

	require.Eventually(t, func() bool {
		calls, _ := p.snapshot()
		return calls >= 5
	}, time.Second, time.Millisecond)

	d.Stop()
	assert.False(t, d.Active())
	calls, _ := p.snapshot()

	time.Sleep(10 * time.Millisecond)
	after, playing := p.snapshot()
	assert.Equal(t, calls, after, "no tone after Stop returns")
	assert.False(t, playing)

	plays, failures := d.Stats()
	assert.Equal(t, int64(calls), plays)
	assert.Zero(t, failures)
}

func TestDriverStopCancelsTone(t *testing.T) {
	p := &fakePlayer{block: true}
	d := NewDriver(DefaultConfig(), p, zaptest.NewLogger(t))

	d.Start()
	require.Eventually(t, func() bool {
		_, playing := p.snapshot()
		return playing
	}, time.Second, time.Millisecond)

	d.Stop()
	_, playing := p.snapshot()
	assert.False(t, playing)
}

func TestDriverToleratesPlaybackErrors(t *testing.T) {
	p := &fakePlayer{err: errors.New("device busy")}
	d := NewDriver(fastConfig(), p, zaptest.NewLogger(t))

	d.Start()
	require.Eventually(t, func() bool {
		_, failures := d.Stats()
		return failures >= 3
	}, time.Second, time.Millisecond)
	assert.True(t, d.Active())
	d.Stop()
}

func TestDriverStopWithoutStart(t *testing.T) {
	p := &fakePlayer{}
	d := NewDriver(DefaultConfig(), p, zaptest.NewLogger(t))
	d.Stop()
	require.NoError(t, d.Close())
	calls, _ := p.snapshot()
	assert.Zero(t, calls)
	assert.True(t, p.closed)
}

func TestDriverRestart(t *testing.T) {
	p := &fakePlayer{}
	d := NewDriver(fastConfig(), p, zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		d.Start()
		require.Eventually(t, func() bool {
			calls, _ := p.snapshot()
			return calls > i
		}, time.Second, time.Millisecond)
		d.Stop()
	}
	assert.False(t, d.Active())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Volume: 3}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
}
