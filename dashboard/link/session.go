package link

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/san-kum/rigwatch/server/models"
)

// SessionClient logs an operator in and out against the server REST API.
type SessionClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewSessionClient(apiURL string, timeout time.Duration) *SessionClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SessionClient{
		baseURL:    strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

func (s *SessionClient) Login(ctx context.Context, username, password string) (models.LoginResponse, error) {
	var out models.LoginResponse
	err := s.do(ctx, http.MethodPost, "/sessions", "", models.LoginRequest{Username: username, Password: password}, &out)
	return out, err
}

// Logout closes the token's session with the counters the dashboard saw.
func (s *SessionClient) Logout(ctx context.Context, token string, counters models.AlertCounters) (models.OperatorSession, error) {
	var out models.OperatorSession
	err := s.do(ctx, http.MethodPost, "/sessions/logout", token, models.LogoutRequest{AlertCounters: counters}, &out)
	return out, err
}

func (s *SessionClient) do(ctx context.Context, method, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Success bool             `json:"success"`
		Data    json.RawMessage  `json:"data"`
		Error   *models.APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "malformed", Message: strings.TrimSpace(string(raw))}
	}
	if !envelope.Success || resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Code: "unknown"}
		if envelope.Error != nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
