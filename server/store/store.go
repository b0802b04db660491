package store

import (
	"context"
	"errors"
	"time"

	"github.com/san-kum/rigwatch/server/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrConflict           = errors.New("already exists")
	ErrSessionClosed      = errors.New("session already closed")
)

const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// SessionStore persists operators and their shift sessions. A session is
// opened at login and closed once at logout with the alert counters the
// dashboard accumulated.
type SessionStore interface {
	CreateOperator(ctx context.Context, username, password, role string) (models.Operator, error)
	Authenticate(ctx context.Context, username, password string) (models.Operator, error)
	StartSession(ctx context.Context, operatorID string, at time.Time) (models.OperatorSession, error)
	EndSession(ctx context.Context, sessionID string, at time.Time, counters models.AlertCounters) (models.OperatorSession, error)
	GetSession(ctx context.Context, sessionID string) (models.OperatorSession, error)
	Close() error
}
