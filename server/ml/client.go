package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/rigwatch/server/models"
	"go.uber.org/zap"
)

var (
	ErrUnavailable  = errors.New("classifier unavailable")
	ErrNotConnected = errors.New("classifier not connected")
)

const userAgent = "rigwatch-dashboard/1.0"

type ClientConfig struct {
	// BaseURLs are tried in order until one answers its health check.
	BaseURLs            []string
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURLs:            []string{"http://localhost:5000"},
		Timeout:             2 * time.Second,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DetectResponse is the classifier's wire format for one camera frame.
type DetectResponse struct {
	Faces          []models.Face `json:"faces"`
	ProcessingTime float64       `json:"processing_time"`
	ModelVersion   string        `json:"model_version"`
}

// Client talks to the liveness classifier service, which owns the camera
// and returns face and eye landmarks for its most recent frame.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	mutex   sync.RWMutex
	baseURL string
	stopHC  context.CancelFunc
	hcDone  chan struct{}

	healthy    atomic.Bool
	detections atomic.Int64
	failures   atomic.Int64
}

func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	defaults := DefaultClientConfig()
	if len(config.BaseURLs) == 0 {
		config.BaseURLs = defaults.BaseURLs
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	return &Client{
		config: config,
		logger: logger,
		sleep:  sleepContext,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect finds the first base URL that passes a health check, retrying
// each one up to MaxRetries times with a linear backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.stopHealthChecker()

	var lastErr error
	for _, base := range c.config.BaseURLs {
		base = strings.TrimRight(base, "/")
		for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
			if attempt > 0 {
				c.logger.Warn("Retrying classifier connection",
					zap.String("url", base),
					zap.Int("attempt", attempt),
					zap.Error(lastErr))
				if err := c.sleep(ctx, c.config.RetryDelay*time.Duration(attempt)); err != nil {
					return fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
			}

			err := c.healthCheck(ctx, base)
			if err == nil {
				c.activate(base)
				return nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}
		c.logger.Warn("Classifier endpoint unavailable, trying next", zap.String("url", base), zap.Error(lastErr))
	}
	return fmt.Errorf("%w after trying %d endpoints: %v", ErrUnavailable, len(c.config.BaseURLs), lastErr)
}

func (c *Client) activate(base string) {
	c.mutex.Lock()
	c.baseURL = base
	if c.config.HealthCheckInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopHC = cancel
		c.hcDone = make(chan struct{})
		go c.runHealthChecker(ctx, base, c.hcDone)
	}
	c.mutex.Unlock()
	c.healthy.Store(true)

	c.logger.Info("Classifier connected", zap.String("url", base))
	if info, err := c.ModelInfo(context.Background()); err == nil {
		c.logger.Info("Classifier model", zap.Any("info", info))
	}
}

func (c *Client) active() (string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.baseURL == "" {
		return "", ErrNotConnected
	}
	return c.baseURL, nil
}

// Detect asks for the landmarks of the current frame. It does not retry;
// a failed tick is simply a missing observation.
func (c *Client) Detect(ctx context.Context) (models.FaceResult, error) {
	base, err := c.active()
	if err != nil {
		return models.FaceResult{}, err
	}

	body, err := json.Marshal(map[string]any{"timestamp": time.Now().UnixMilli()})
	if err != nil {
		return models.FaceResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/detect", bytes.NewReader(body))
	if err != nil {
		return models.FaceResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.failures.Add(1)
		return models.FaceResult{}, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.failures.Add(1)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.FaceResult{}, fmt.Errorf("classifier error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var dr DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		c.failures.Add(1)
		return models.FaceResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	c.detections.Add(1)
	return convertResponse(dr), nil
}

// convertResponse keeps only the most confident face.
func convertResponse(dr DetectResponse) models.FaceResult {
	if len(dr.Faces) == 0 {
		return models.FaceResult{}
	}
	best := dr.Faces[0]
	for _, f := range dr.Faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return models.FaceResult{Faces: []models.Face{best}}
}

// Release tells the service to free the camera and stops health checks.
func (c *Client) Release(ctx context.Context) error {
	c.stopHealthChecker()

	c.mutex.Lock()
	base := c.baseURL
	c.baseURL = ""
	c.mutex.Unlock()
	c.healthy.Store(false)

	if base == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/release", nil)
	if err != nil {
		return fmt.Errorf("failed to create release request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("release failed (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	base, err := c.active()
	if err != nil {
		return err
	}
	return c.healthCheck(ctx, base)
}

func (c *Client) healthCheck(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) runHealthChecker(ctx context.Context, base string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.healthCheck(ctx, base)
			if ctx.Err() != nil {
				return
			}
			was := c.healthy.Swap(err == nil)
			switch {
			case err != nil && was:
				c.logger.Error("Classifier health check failed", zap.String("url", base), zap.Error(err))
			case err == nil && !was:
				c.logger.Info("Classifier recovered", zap.String("url", base))
			default:
				c.logger.Debug("Classifier health check", zap.Bool("healthy", err == nil))
			}
		}
	}
}

func (c *Client) stopHealthChecker() {
	c.mutex.Lock()
	stop, done := c.stopHC, c.hcDone
	c.stopHC, c.hcDone = nil, nil
	c.mutex.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// BaseURL is the endpoint Connect settled on, or "" when disconnected.
func (c *Client) BaseURL() string {
	base, _ := c.active()
	return base
}

func (c *Client) Stats() (detections, failures int64) {
	return c.detections.Load(), c.failures.Load()
}

func (c *Client) ModelInfo(ctx context.Context) (map[string]any, error) {
	base, err := c.active()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models/info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model info request failed (status %d)", resp.StatusCode)
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode model info: %w", err)
	}
	return info, nil
}
