package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/san-kum/rigwatch/server/models"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

type PostgresConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects, migrates the schema to the latest version and
// returns a ready store.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	if err := migrate(ctx, *poolCfg.ConnConfig, logger); err != nil {
		return nil, err
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	logger.Info("Connected to Postgres",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func migrate(ctx context.Context, connCfg pgx.ConnConfig, logger *zap.Logger) error {
	db := stdlib.OpenDB(connCfg)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("Database schema up to date", zap.Int64("version", version))
	return nil
}

func (s *PostgresStore) CreateOperator(ctx context.Context, username, password, role string) (models.Operator, error) {
	hash, err := newOperatorFields(username, password, role)
	if err != nil {
		return models.Operator{}, err
	}

	op := models.Operator{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		PasswordHash: hash,
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO operators (id, username, role, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		op.ID, op.Username, op.Role, op.PasswordHash,
	).Scan(&op.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Operator{}, ErrConflict
		}
		return models.Operator{}, fmt.Errorf("insert operator: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) Authenticate(ctx context.Context, username, password string) (models.Operator, error) {
	var op models.Operator
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, role, password_hash, created_at
		 FROM operators WHERE username = $1`,
		username,
	).Scan(&op.ID, &op.Username, &op.Role, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Operator{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.Operator{}, fmt.Errorf("query operator: %w", err)
	}
	if err := CheckPassword(op.PasswordHash, password); err != nil {
		return models.Operator{}, err
	}
	return op, nil
}

func (s *PostgresStore) StartSession(ctx context.Context, operatorID string, at time.Time) (models.OperatorSession, error) {
	sess := models.OperatorSession{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		LoginAt:    at.UTC(),
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO operator_sessions (id, operator_id, login_at)
		 SELECT $1::text, id, $3::timestamptz FROM operators WHERE id = $2`,
		sess.ID, sess.OperatorID, sess.LoginAt)
	if err != nil {
		return models.OperatorSession{}, fmt.Errorf("insert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.OperatorSession{}, ErrNotFound
	}
	return sess, nil
}

func (s *PostgresStore) EndSession(ctx context.Context, sessionID string, at time.Time, counters models.AlertCounters) (models.OperatorSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.OperatorSession{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	sess, err := scanSession(tx.QueryRow(ctx, sessionSelect+` WHERE id = $1 FOR UPDATE`, sessionID))
	if err != nil {
		return models.OperatorSession{}, err
	}
	if sess.LogoutAt != nil {
		return sess, ErrSessionClosed
	}

	logout := at.UTC()
	_, err = tx.Exec(ctx,
		`UPDATE operator_sessions
		 SET logout_at = $2, health_alerts_count = $3, drill_alerts_count = $4
		 WHERE id = $1`,
		sessionID, logout, counters.HealthAlertsCount, counters.DrillAlertsCount)
	if err != nil {
		return models.OperatorSession{}, fmt.Errorf("close session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.OperatorSession{}, fmt.Errorf("commit: %w", err)
	}

	sess.LogoutAt = &logout
	sess.AlertCounters = counters
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (models.OperatorSession, error) {
	return scanSession(s.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, sessionID))
}

const sessionSelect = `SELECT id, operator_id, login_at, logout_at, health_alerts_count, drill_alerts_count
	FROM operator_sessions`

func scanSession(row pgx.Row) (models.OperatorSession, error) {
	var sess models.OperatorSession
	err := row.Scan(&sess.ID, &sess.OperatorID, &sess.LoginAt, &sess.LogoutAt,
		&sess.HealthAlertsCount, &sess.DrillAlertsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OperatorSession{}, ErrNotFound
	}
	if err != nil {
		return models.OperatorSession{}, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
