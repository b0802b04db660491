package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/rigwatch/server/models"
)

// MemoryStore keeps everything in process memory. It backs the server when
// no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	operators  map[string]models.Operator
	byUsername map[string]string
	sessions   map[string]models.OperatorSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		operators:  make(map[string]models.Operator),
		byUsername: make(map[string]string),
		sessions:   make(map[string]models.OperatorSession),
	}
}

func (s *MemoryStore) CreateOperator(ctx context.Context, username, password, role string) (models.Operator, error) {
	hash, err := newOperatorFields(username, password, role)
	if err != nil {
		return models.Operator{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[username]; exists {
		return models.Operator{}, ErrConflict
	}
	op := models.Operator{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	s.operators[op.ID] = op
	s.byUsername[username] = op.ID
	return op, nil
}

func (s *MemoryStore) Authenticate(ctx context.Context, username, password string) (models.Operator, error) {
	s.mu.RLock()
	id, ok := s.byUsername[username]
	op := s.operators[id]
	s.mu.RUnlock()
	if !ok {
		return models.Operator{}, ErrInvalidCredentials
	}
	if err := CheckPassword(op.PasswordHash, password); err != nil {
		return models.Operator{}, err
	}
	return op, nil
}

func (s *MemoryStore) StartSession(ctx context.Context, operatorID string, at time.Time) (models.OperatorSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operators[operatorID]; !ok {
		return models.OperatorSession{}, ErrNotFound
	}
	sess := models.OperatorSession{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		LoginAt:    at.UTC(),
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *MemoryStore) EndSession(ctx context.Context, sessionID string, at time.Time, counters models.AlertCounters) (models.OperatorSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return models.OperatorSession{}, ErrNotFound
	}
	if sess.LogoutAt != nil {
		return sess, ErrSessionClosed
	}
	logout := at.UTC()
	sess.LogoutAt = &logout
	sess.AlertCounters = counters
	s.sessions[sessionID] = sess
	return sess, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (models.OperatorSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return models.OperatorSession{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Close() error { return nil }
