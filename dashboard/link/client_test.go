package link

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const liveMarkerRPM = 1234.5

type recorder struct {
	mu     sync.Mutex
	drills []models.TelemetryReading
	vitals []models.VitalsReading
	states []State
}

func (r *recorder) OnDrill(x models.TelemetryReading) {
	r.mu.Lock()
	r.drills = append(r.drills, x)
	r.mu.Unlock()
}

func (r *recorder) OnVitals(x models.VitalsReading) {
	r.mu.Lock()
	r.vitals = append(r.vitals, x)
	r.mu.Unlock()
}

func (r *recorder) OnState(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) drillCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drills)
}

func (r *recorder) lastDrill() models.TelemetryReading {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.drills) == 0 {
		return models.TelemetryReading{}
	}
	return r.drills[len(r.drills)-1]
}

func (r *recorder) sawLiveReading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drills {
		if d.Sensors.RPM == liveMarkerRPM {
			return true
		}
	}
	return false
}

// rigServer speaks just enough of the telemetry protocol for the link.
type rigServer struct {
	accept atomic.Bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	commands []models.Command
}

func (s *rigServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.accept.Load() {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	conn.WriteJSON(models.ServerMessage{Type: models.MessageWelcome, Data: map[string]any{
		"clientId": "c-1",
		"control":  models.ControlState{IsRunning: true, TargetRPM: 2000, FeedLevel: 50},
	}})
	conn.WriteJSON(models.ServerMessage{Type: models.MessageUpdate, Data: models.TelemetryReading{
		Timestamp: time.Now(),
		Status:    models.DrillRunning,
		Sensors:   models.DrillSensors{RPM: liveMarkerRPM},
	}})

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Type == models.MessageControl {
			var cmd models.Command
			if json.Unmarshal(env.Payload, &cmd) == nil {
				s.mu.Lock()
				s.commands = append(s.commands, cmd)
				s.mu.Unlock()
			}
		}
	}
}

func (s *rigServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *rigServer) received() []models.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Command(nil), s.commands...)
}

func fastConfig(url string) Config {
	return Config{
		ServerURL:      url,
		RetryInterval:  20 * time.Millisecond,
		DrillInterval:  5 * time.Millisecond,
		VitalsInterval: 10 * time.Millisecond,
		Seed:           3,
		WorkerID:       "W-LOCAL",
	}
}

func startClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("link did not stop")
		}
	})
}

func TestFallbackWhenServerDown(t *testing.T) {
	rec := &recorder{}
	c := NewClient(fastConfig("ws://127.0.0.1:1/ws"), rec, zaptest.NewLogger(t))
	startClient(t, c)

	require.Eventually(t, func() bool { return rec.drillCount() >= 3 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.State().Mode == ModeFallback }, 2*time.Second, time.Millisecond)
	assert.NotEmpty(t, c.State().LastError)

	state, err := c.Send(models.Command{Command: models.CommandStart})
	require.NoError(t, err, "commands work offline")
	assert.True(t, state.IsRunning)
	require.Eventually(t, func() bool {
		return rec.lastDrill().Status != models.DrillStopped
	}, 2*time.Second, time.Millisecond, "local readings follow the mirrored control state")

	_, err = c.Send(models.Command{Command: "EXPLODE"})
	assert.ErrorIs(t, err, telemetry.ErrUnknownCommand)
	assert.True(t, c.Control().IsRunning)
}

func TestLiveLinkFallsBackAndRedials(t *testing.T) {
	rig := &rigServer{}
	rig.accept.Store(true)
	srv := httptest.NewServer(rig)
	defer srv.Close()

	rec := &recorder{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c := NewClient(fastConfig(url), rec, zaptest.NewLogger(t))
	startClient(t, c)

	require.Eventually(t, func() bool { return c.State().Mode == ModeLive }, 2*time.Second, time.Millisecond)
	require.Eventually(t, rec.sawLiveReading, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Control().TargetRPM == 2000 }, 2*time.Second, time.Millisecond,
		"control mirror adopts the server state on join")

	value := 70.0
	_, err := c.Send(models.Command{Command: models.CommandSetFeed, Value: &value})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rig.received()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, models.CommandSetFeed, rig.received()[0].Command)

	rig.accept.Store(false)
	rig.dropAll()
	require.Eventually(t, func() bool { return c.State().Mode == ModeFallback }, 2*time.Second, time.Millisecond)
	before := rec.drillCount()
	require.Eventually(t, func() bool { return rec.drillCount() > before+2 }, 2*time.Second, time.Millisecond,
		"local generation covers the outage")
	assert.Equal(t, 70.0, c.Control().FeedLevel)

	_, err = c.Send(models.Command{Command: models.CommandStop})
	assert.NoError(t, err)
	assert.False(t, errors.Is(err, ErrNotForwarded))

	rig.accept.Store(true)
	require.Eventually(t, func() bool { return c.State().Mode == ModeLive }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), c.State().Reconnects)
}
