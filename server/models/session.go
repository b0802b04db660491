package models

import "time"

type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// OperatorSession is the record the session logging collaborator writes on
// login and completes on logout.
type OperatorSession struct {
	ID         string     `json:"id"`
	OperatorID string     `json:"operator_id"`
	LoginAt    time.Time  `json:"login_at"`
	LogoutAt   *time.Time `json:"logout_at,omitempty"`
	AlertCounters
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LogoutRequest struct {
	AlertCounters
}

type LoginResponse struct {
	Token     string          `json:"token"`
	Session   OperatorSession `json:"session"`
	ExpiresAt time.Time       `json:"expires_at"`
}
