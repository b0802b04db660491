package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/san-kum/rigwatch/server/models"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	commandTimeout = 5 * time.Second
)

// CommandSubmitter applies control commands in arrival order.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd models.Command, source string) (models.ControlState, error)
	Control() models.ControlState
}

type HubConfig struct {
	ClientBuffer   int
	AllowedOrigins []string
}

type HubStats struct {
	Clients     int   `json:"clients"`
	Connections int64 `json:"connections"`
	Sent        int64 `json:"sent"`
	Dropped     int64 `json:"dropped"`
	Commands    int64 `json:"commands"`
}

type WelcomePayload struct {
	ClientID string              `json:"clientId"`
	Control  models.ControlState `json:"control"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// TelemetryHub fans readings out to every connected dashboard and feeds
// their CONTROL envelopes into the command queue. A slow client loses
// messages instead of stalling the others.
type TelemetryHub struct {
	control  CommandSubmitter
	logger   *zap.Logger
	upgrader websocket.Upgrader
	buffer   int

	mutex   sync.RWMutex
	clients map[string]*wsClient
	closed  bool

	connections atomic.Int64
	sent        atomic.Int64
	dropped     atomic.Int64
	commands    atomic.Int64
}

func NewTelemetryHub(control CommandSubmitter, cfg HubConfig, logger *zap.Logger) *TelemetryHub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 32
	}
	origins := cfg.AllowedOrigins
	return &TelemetryHub{
		control: control,
		logger:  logger,
		buffer:  cfg.ClientBuffer,
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				return slices.Contains(origins, "*") || slices.Contains(origins, origin)
			},
		},
	}
}

func (h *TelemetryHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.buffer),
	}
	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.connections.Add(1)
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.id),
		zap.String("client_ip", c.ClientIP()))

	go h.writePump(client)

	h.sendTo(client, models.ServerMessage{
		Type: models.MessageWelcome,
		Data: WelcomePayload{ClientID: client.id, Control: h.control.Control()},
	})

	h.readPump(c.Request.Context(), client)
	h.unregister(client)
	h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.id))
}

func (h *TelemetryHub) register(client *wsClient) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return false
	}
	h.clients[client.id] = client
	return true
}

// unregister closes the send queue exactly once; the write pump then says
// goodbye and closes the connection.
func (h *TelemetryHub) unregister(client *wsClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
}

func (h *TelemetryHub) readPump(ctx context.Context, client *wsClient) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read error", zap.String("client_id", client.id), zap.Error(err))
			}
			return
		}
		h.handleMessage(ctx, client, data)
	}
}

func (h *TelemetryHub) handleMessage(ctx context.Context, client *wsClient, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(client, "invalid message format")
		return
	}

	switch env.Type {
	case models.MessageControl:
		raw := env.Payload
		if len(raw) == 0 {
			raw = env.Data
		}
		var cmd models.Command
		if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Command == "" {
			h.sendError(client, "invalid control payload")
			return
		}
		h.commands.Add(1)

		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if _, err := h.control.Submit(cctx, cmd, client.id); err != nil {
			h.sendError(client, err.Error())
		}
	default:
		h.logger.Warn("Unknown message type received",
			zap.String("client_id", client.id),
			zap.String("type", env.Type))
		h.sendError(client, "unknown message type: "+env.Type)
	}
}

func (h *TelemetryHub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("WebSocket write failed", zap.String("client_id", client.id), zap.Error(err))
				return
			}
			h.sent.Add(1)
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Failed to send ping", zap.String("client_id", client.id), zap.Error(err))
				return
			}
		}
	}
}

// Broadcast encodes msg once and queues it for every client.
func (h *TelemetryHub) Broadcast(msg models.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for _, client := range h.clients {
		h.enqueue(client, data)
	}
}

// enqueue must run under h.mutex so send cannot be closed concurrently.
func (h *TelemetryHub) enqueue(client *wsClient, data []byte) {
	select {
	case client.send <- data:
	default:
		if h.dropped.Add(1)%100 == 1 {
			h.logger.Warn("Client send queue full, dropping messages", zap.String("client_id", client.id))
		}
	}
}

func (h *TelemetryHub) sendTo(client *wsClient, msg models.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if _, ok := h.clients[client.id]; ok {
		h.enqueue(client, data)
	}
}

func (h *TelemetryHub) sendError(client *wsClient, message string) {
	h.sendTo(client, models.ServerMessage{
		Type: models.MessageError,
		Data: models.ErrorPayload{Message: message, Timestamp: time.Now().Unix()},
	})
}

func (h *TelemetryHub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *TelemetryHub) Stats() HubStats {
	return HubStats{
		Clients:     h.Clients(),
		Connections: h.connections.Load(),
		Sent:        h.sent.Load(),
		Dropped:     h.dropped.Load(),
		Commands:    h.commands.Load(),
	}
}

var ErrHubClosed = errors.New("telemetry hub closed")

// Shutdown disconnects every client and refuses new ones.
func (h *TelemetryHub) Shutdown() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.closed = true
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.logger.Info("Telemetry hub closed")
	return nil
}
