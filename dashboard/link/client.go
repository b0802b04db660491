package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	readTimeout = 70 * time.Second
	dialTimeout = 5 * time.Second
)

type Mode string

const (
	ModeConnecting Mode = "connecting"
	ModeLive       Mode = "live"
	ModeFallback   Mode = "fallback"
)

// Sink receives everything the link produces. Calls come from the link's
// own goroutines and must not block for long.
type Sink interface {
	OnDrill(models.TelemetryReading)
	OnVitals(models.VitalsReading)
	OnState(State)
}

type State struct {
	Mode       Mode      `json:"mode"`
	ServerURL  string    `json:"server_url"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"last_error,omitempty"`
	Reconnects int64     `json:"reconnects"`
}

type Config struct {
	ServerURL      string
	RetryInterval  time.Duration
	DrillInterval  time.Duration
	VitalsInterval time.Duration
	WorkerID       string
	Seed           uint64
	// Face, when set, feeds camera state into locally generated vitals.
	Face func() models.FaceDetection
}

// Client keeps the dashboard fed with readings. While the server is
// reachable it relays the server stream; otherwise it generates readings
// locally from the mirrored control state and keeps redialling.
type Client struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger
	dialer *websocket.Dialer
	drill  *telemetry.DrillGenerator
	vitals *telemetry.VitalsGenerator

	mu      sync.Mutex
	control models.ControlState
	conn    *websocket.Conn
	state   State

	writeMu    sync.Mutex
	reconnects atomic.Int64
}

func NewClient(cfg Config, sink Sink, logger *zap.Logger) *Client {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 3 * time.Second
	}
	if cfg.DrillInterval <= 0 {
		cfg.DrillInterval = time.Second
	}
	if cfg.VitalsInterval <= 0 {
		cfg.VitalsInterval = 2 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "W-001"
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	noise := telemetry.NewNoise(cfg.Seed)
	return &Client{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
		drill:   telemetry.NewDrillGenerator(noise),
		vitals:  telemetry.NewVitalsGenerator(noise),
		control: telemetry.DefaultControlState(),
		state:   State{Mode: ModeConnecting, ServerURL: cfg.ServerURL, Since: time.Now()},
	}
}

// Run owns the connection until ctx is cancelled. Synthetic readings flow
// from the first moment the server is not streaming.
func (c *Client) Run(ctx context.Context) error {
	stopFallback := c.startFallback(ctx)
	defer func() { stopFallback() }()

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			stopFallback()
			c.setConn(conn)
			c.setState(ModeLive, nil)
			c.logger.Info("Telemetry link up", zap.String("url", c.cfg.ServerURL))

			err = c.readLoop(ctx, conn)

			c.setConn(nil)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			c.reconnects.Add(1)
			stopFallback = c.startFallback(ctx)
			c.logger.Warn("Telemetry link lost, generating locally", zap.Error(err))
		} else if ctx.Err() != nil {
			return nil
		}
		c.setState(ModeFallback, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.RetryInterval):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dctx, c.cfg.ServerURL, nil)
	if err != nil {
		c.logger.Debug("Telemetry dial failed", zap.String("url", c.cfg.ServerURL), zap.Error(err))
		return nil, fmt.Errorf("dial %s: %w", c.cfg.ServerURL, err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("Malformed server message", zap.Error(err))
		return
	}

	switch env.Type {
	case models.MessageUpdate:
		var r models.TelemetryReading
		if err := json.Unmarshal(env.Data, &r); err != nil {
			c.logger.Warn("Malformed drill reading", zap.Error(err))
			return
		}
		c.sink.OnDrill(r)
	case models.MessageHealthUpdate:
		var r models.VitalsReading
		if err := json.Unmarshal(env.Data, &r); err != nil {
			c.logger.Warn("Malformed vitals reading", zap.Error(err))
			return
		}
		c.sink.OnVitals(r)
	case models.MessageWelcome:
		var w struct {
			ClientID string              `json:"clientId"`
			Control  models.ControlState `json:"control"`
		}
		if err := json.Unmarshal(env.Data, &w); err == nil {
			c.mu.Lock()
			c.control = telemetry.Normalize(w.Control)
			c.mu.Unlock()
			c.logger.Info("Joined telemetry server", zap.String("client_id", w.ClientID))
		}
	case models.MessageError:
		var p models.ErrorPayload
		_ = json.Unmarshal(env.Data, &p)
		c.logger.Warn("Server rejected message", zap.String("message", p.Message))
	default:
		c.logger.Debug("Ignoring server message", zap.String("type", env.Type))
	}
}

// startFallback begins local generation and returns an idempotent stop.
func (c *Client) startFallback(ctx context.Context) func() {
	fctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.generate(fctx)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (c *Client) generate(ctx context.Context) {
	c.emitDrill()
	c.emitVitals()

	drill := time.NewTicker(c.cfg.DrillInterval)
	defer drill.Stop()
	vitals := time.NewTicker(c.cfg.VitalsInterval)
	defer vitals.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drill.C:
			c.emitDrill()
		case <-vitals.C:
			c.emitVitals()
		}
	}
}

func (c *Client) emitDrill() {
	c.sink.OnDrill(c.drill.Generate(c.Control(), time.Now()))
}

func (c *Client) emitVitals() {
	vs := models.VitalsState{
		WorkerID: c.cfg.WorkerID,
		Exertion: telemetry.Exertion(c.Control()),
	}
	if c.cfg.Face != nil {
		vs.FaceDetection = c.cfg.Face()
	}
	c.sink.OnVitals(c.vitals.Generate(vs, time.Now()))
}

// Send applies cmd to the local mirror and forwards it when live. Invalid
// commands are rejected here and never reach the server.
func (c *Client) Send(cmd models.Command) (models.ControlState, error) {
	c.mu.Lock()
	next, err := telemetry.Apply(c.control, cmd)
	if err != nil {
		c.mu.Unlock()
		return next, err
	}
	c.control = next
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return next, nil
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return next, fmt.Errorf("encode command: %w", err)
	}
	env := models.Envelope{Type: models.MessageControl, Payload: payload}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		c.logger.Warn("Failed to forward control command", zap.String("command", string(cmd.Command)), zap.Error(err))
		return next, fmt.Errorf("%w: %v", ErrNotForwarded, err)
	}
	return next, nil
}

// ErrNotForwarded means the command changed local state but the server
// did not receive it.
var ErrNotForwarded = errors.New("command not forwarded")

func (c *Client) Control() models.ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) setState(mode Mode, err error) {
	c.mu.Lock()
	if c.state.Mode != mode {
		c.state.Since = time.Now()
	}
	c.state.Mode = mode
	c.state.LastError = ""
	if err != nil {
		c.state.LastError = err.Error()
	}
	c.state.Reconnects = c.reconnects.Load()
	st := c.state
	c.mu.Unlock()
	c.sink.OnState(st)
}
