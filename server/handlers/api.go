package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/rigwatch/server/cache"
	"github.com/san-kum/rigwatch/server/middleware"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/processor"
	"github.com/san-kum/rigwatch/server/store"
	"github.com/san-kum/rigwatch/server/telemetry"
	"go.uber.org/zap"
)

const APIVersion = "1.0"

const (
	StreamDrill  = "drill"
	StreamVitals = "vitals"
)

// Telemetry is the read and control surface the REST API serves.
type Telemetry interface {
	CommandSubmitter
	Latest(ctx context.Context) (*models.TelemetryReading, *models.VitalsReading)
	DrillHistory() []models.TelemetryReading
	VitalsHistory() []models.VitalsReading
	Trends() processor.Trends
	Counters(ctx context.Context) (models.AlertCounters, error)
	GetStats() processor.ProcessorStats
	QueueStats() processor.QueueStats
	CacheStats(ctx context.Context) (*cache.CacheStats, error)
}

type APIHandler struct {
	telemetry Telemetry
	sessions  store.SessionStore
	auth      *middleware.AuthMiddleware
	hub       *TelemetryHub
	tokenTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewAPIHandler(t Telemetry, sessions store.SessionStore, auth *middleware.AuthMiddleware, hub *TelemetryHub, tokenTTL time.Duration, logger *zap.Logger) *APIHandler {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &APIHandler{
		telemetry: t,
		sessions:  sessions,
		auth:      auth,
		hub:       hub,
		tokenTTL:  tokenTTL,
		logger:    logger,
		now:       time.Now,
	}
}

func respond(c *gin.Context, code int, data any) {
	c.JSON(code, models.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta(c),
	})
}

func fail(c *gin.Context, code int, errCode, message string, details map[string]any) {
	c.AbortWithStatusJSON(code, models.APIResponse{
		Success: false,
		Error:   &models.APIError{Code: errCode, Message: message, Details: details},
		Meta:    meta(c),
	})
}

func meta(c *gin.Context) *models.ResponseMeta {
	m := &models.ResponseMeta{
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().UTC(),
		Version:   APIVersion,
	}
	if start, ok := c.Get("start_time"); ok {
		if t, ok := start.(time.Time); ok {
			m.ProcessingTime = float64(time.Since(t).Microseconds()) / 1000
		}
	}
	return m
}

// Timing records when the request entered the API for the response meta.
func Timing() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("start_time", time.Now())
		c.Next()
	}
}

func (h *APIHandler) Latest(c *gin.Context) {
	drill, vitals := h.telemetry.Latest(c.Request.Context())
	respond(c, http.StatusOK, gin.H{
		"drill":   drill,
		"vitals":  vitals,
		"control": h.telemetry.Control(),
	})
}

// History returns the newest readings of one stream, oldest first.
func (h *APIHandler) History(c *gin.Context) {
	stream := c.DefaultQuery("stream", StreamDrill)
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	switch stream {
	case StreamDrill:
		respond(c, http.StatusOK, tail(h.telemetry.DrillHistory(), limit))
	case StreamVitals:
		respond(c, http.StatusOK, tail(h.telemetry.VitalsHistory(), limit))
	default:
		fail(c, http.StatusBadRequest, "invalid_stream", "stream must be drill or vitals",
			map[string]any{"stream": stream})
	}
}

func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[len(items)-limit:]
	}
	return items
}

func (h *APIHandler) Trends(c *gin.Context) {
	respond(c, http.StatusOK, h.telemetry.Trends())
}

func (h *APIHandler) Control(c *gin.Context) {
	var cmd models.Command
	if err := c.ShouldBindJSON(&cmd); err != nil || cmd.Command == "" {
		fail(c, http.StatusBadRequest, "invalid_command", "command is required", nil)
		return
	}

	source := c.ClientIP()
	if claims, ok := middleware.ClaimsFrom(c); ok {
		source = claims.Username
	}

	state, err := h.telemetry.Submit(c.Request.Context(), cmd, source)
	switch {
	case err == nil:
		respond(c, http.StatusOK, state)
	case errors.Is(err, telemetry.ErrUnknownCommand):
		fail(c, http.StatusBadRequest, "unknown_command", err.Error(), nil)
	case errors.Is(err, processor.ErrQueueFull), errors.Is(err, processor.ErrQueueStopped):
		fail(c, http.StatusServiceUnavailable, "queue_unavailable", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		fail(c, http.StatusGatewayTimeout, "timeout", "command not applied in time", nil)
	default:
		h.logger.Error("Control command failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "command failed", nil)
	}
}

func (h *APIHandler) Stats(c *gin.Context) {
	counters, err := h.telemetry.Counters(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to read alert counters", zap.Error(err))
	}
	stats := h.telemetry.GetStats()
	body := gin.H{
		"processor":      stats,
		"queue":          h.telemetry.QueueStats(),
		"alerts":         counters,
		"uptime_seconds": time.Since(stats.StartTime).Seconds(),
	}
	if h.hub != nil {
		body["hub"] = h.hub.Stats()
	}
	if cs, err := h.telemetry.CacheStats(c.Request.Context()); err == nil {
		body["cache"] = cs
	} else {
		h.logger.Warn("Failed to read cache stats", zap.Error(err))
	}
	respond(c, http.StatusOK, body)
}

// Login authenticates an operator, opens a shift session and returns a
// token bound to it.
func (h *APIHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", "username and password are required", nil)
		return
	}

	ctx := c.Request.Context()
	op, err := h.sessions.Authenticate(ctx, req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		h.logger.Warn("Login rejected", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		fail(c, http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
		return
	}
	if err != nil {
		h.logger.Error("Authentication failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "authentication failed", nil)
		return
	}

	sess, err := h.sessions.StartSession(ctx, op.ID, h.now())
	if err != nil {
		h.logger.Error("Failed to start session", zap.String("operator_id", op.ID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "could not start session", nil)
		return
	}

	token, expires, err := h.auth.GenerateToken(middleware.Claims{
		OperatorID: op.ID,
		Username:   op.Username,
		Role:       op.Role,
		SessionID:  sess.ID,
	}, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to sign token", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "could not issue token", nil)
		return
	}

	h.logger.Info("Operator logged in",
		zap.String("username", op.Username),
		zap.String("session_id", sess.ID))
	respond(c, http.StatusCreated, models.LoginResponse{Token: token, Session: sess, ExpiresAt: expires})
}

// Logout closes the token's session. Counters sent by the dashboard win;
// without a body the server's own alert counters are recorded.
func (h *APIHandler) Logout(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.SessionID == "" {
		fail(c, http.StatusUnauthorized, "no_session", "token carries no session", nil)
		return
	}

	ctx := c.Request.Context()
	var counters models.AlertCounters
	if c.Request.ContentLength > 0 {
		var req models.LogoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid_request", "invalid logout body", nil)
			return
		}
		counters = req.AlertCounters
	} else {
		var err error
		if counters, err = h.telemetry.Counters(ctx); err != nil {
			h.logger.Warn("Failed to read alert counters", zap.Error(err))
		}
	}

	sess, err := h.sessions.EndSession(ctx, claims.SessionID, h.now(), counters)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "session not found", nil)
		return
	case errors.Is(err, store.ErrSessionClosed):
		fail(c, http.StatusConflict, "session_closed", err.Error(), nil)
		return
	default:
		h.logger.Error("Failed to end session", zap.String("session_id", claims.SessionID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "could not end session", nil)
		return
	}

	h.logger.Info("Operator logged out",
		zap.String("username", claims.Username),
		zap.String("session_id", sess.ID),
		zap.Int64("health_alerts", counters.HealthAlertsCount),
		zap.Int64("drill_alerts", counters.DrillAlertsCount))
	respond(c, http.StatusOK, sess)
}

// GetSession returns a session to its owner or to an admin.
func (h *APIHandler) GetSession(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "unauthorized", "authorization required", nil)
		return
	}

	sess, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load session", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "could not load session", nil)
		return
	}
	if sess.OperatorID != claims.OperatorID && claims.Role != store.RoleAdmin {
		fail(c, http.StatusForbidden, "forbidden", "not your session", nil)
		return
	}
	respond(c, http.StatusOK, sess)
}
