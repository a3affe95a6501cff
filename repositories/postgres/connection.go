package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/sessionguard/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB adapts an existing pool, e.g. one opened by sqlmock
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// schema is idempotent. Identifiers are unique per role and tenant among
// live principals only, so a soft-deleted identifier can be registered again.
const schema = `
	CREATE TABLE IF NOT EXISTS principals (
		id UUID PRIMARY KEY,
		role VARCHAR(32) NOT NULL,
		identifier VARCHAR(320) NOT NULL,
		credential_secret VARCHAR(255) NOT NULL,
		tenant_id UUID,
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_principals_live_identity ON principals (
		lower(identifier),
		role,
		coalesce(tenant_id, '00000000-0000-0000-0000-000000000000'::uuid)
	) WHERE deleted_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_principals_tenant_id ON principals(tenant_id) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS tenant_admins (
		id UUID PRIMARY KEY,
		principal_id UUID NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		tenant_id UUID NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_tenant_admins_live ON tenant_admins (principal_id, tenant_id)
		WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		action VARCHAR(64) NOT NULL,
		outcome VARCHAR(64) NOT NULL,
		principal_id UUID,
		actor_id UUID,
		tenant_id UUID,
		detail TEXT NOT NULL DEFAULT '',
		request_id VARCHAR(128) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_principal ON audit_events(principal_id, created_at DESC);
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
