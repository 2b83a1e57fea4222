// Package database manages the PostgreSQL connection pool and the PitCrew
// schema (audit trail and postmortem index).
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a new database connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("database: parsing config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("database: creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: pinging database: %w", err)
	}

	return &DB{Pool: pool, logger: logger.Named("database")}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("connection pool closed")
	}
}

// Schema is the PitCrew PostgreSQL schema. Every statement is idempotent.
const Schema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		id           BIGSERIAL PRIMARY KEY,
		timestamp    TIMESTAMPTZ NOT NULL,
		incident_id  TEXT NOT NULL,
		event        TEXT NOT NULL DEFAULT 'policy_evaluation',
		target       TEXT NOT NULL DEFAULT '',
		risk_score   INTEGER NOT NULL,
		rule_id      TEXT NOT NULL,
		decision     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS postmortems (
		incident_id       TEXT PRIMARY KEY,
		service           TEXT NOT NULL,
		root_cause        TEXT NOT NULL,
		resolution        TEXT NOT NULL,
		detection_time    TIMESTAMPTZ NOT NULL,
		recovery_time     TIMESTAMPTZ NOT NULL,
		duration_seconds  DOUBLE PRECISION NOT NULL,
		location          TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_incident ON audit_log(incident_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
	`

// Migrate runs database schema migrations.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("database: acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// "OCO" prefix + 04, distinct from the other Open Cloud Ops modules.
	const migrationLockID int64 = 0x4F43_4F04
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("database: acquiring migration lock: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("database: running migrations: %w", err)
	}

	db.logger.Info("schema migrated")
	return nil
}
