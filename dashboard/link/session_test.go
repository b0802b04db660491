package link

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/rigwatch/server/cache"
	"github.com/san-kum/rigwatch/server/handlers"
	"github.com/san-kum/rigwatch/server/middleware"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/processor"
	"github.com/san-kum/rigwatch/server/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newAPIServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	mem := cache.NewMemoryCache(100, 0, logger)
	tp := processor.NewTelemetryProcessor(processor.ProcessorConfig{Seed: 1}, mem, logger)
	hub := handlers.NewTelemetryHub(tp, handlers.HubConfig{}, logger)
	sessions := store.NewMemoryStore()
	auth := middleware.NewAuthMiddleware("link-secret", logger)
	limiter := middleware.NewRateLimiter(1000, 1000, logger)
	api := handlers.NewAPIHandler(tp, sessions, auth, hub, time.Hour, logger)
	router := handlers.NewRouter(handlers.RouterConfig{
		MaxRequestSize: 1 << 20,
		RequestTimeout: 5 * time.Second,
	}, api, hub, auth, limiter, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown()
		limiter.Shutdown()
		_ = tp.Shutdown()
		_ = mem.Close()
	})
	return srv, sessions
}

func TestSessionClientLoginLogout(t *testing.T) {
	srv, sessions := newAPIServer(t)
	ctx := context.Background()
	_, err := sessions.CreateOperator(ctx, "driller", "rig12345", store.RoleOperator)
	require.NoError(t, err)

	client := NewSessionClient(srv.URL+"/api/v1/", time.Second)

	login, err := client.Login(ctx, "driller", "rig12345")
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
	assert.NotEmpty(t, login.Session.ID)
	assert.Nil(t, login.Session.LogoutAt)

	counters := models.AlertCounters{HealthAlertsCount: 4, DrillAlertsCount: 9}
	closed, err := client.Logout(ctx, login.Token, counters)
	require.NoError(t, err)
	assert.Equal(t, login.Session.ID, closed.ID)
	require.NotNil(t, closed.LogoutAt)
	assert.Equal(t, counters, closed.AlertCounters)

	_, err = client.Logout(ctx, login.Token, counters)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "session_closed", apiErr.Code)
}

func TestSessionClientRejectsBadCredentials(t *testing.T) {
	srv, _ := newAPIServer(t)
	client := NewSessionClient(srv.URL+"/api/v1", time.Second)

	_, err := client.Login(context.Background(), "nobody", "nothing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_credentials", apiErr.Code)
}

func TestSessionClientUnreachable(t *testing.T) {
	client := NewSessionClient("http://127.0.0.1:1/api/v1", 200*time.Millisecond)
	_, err := client.Login(context.Background(), "a", "b")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
