package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

const principalColumns = `id, role, identifier, credential_secret, tenant_id, status, deleted_at, created_at, updated_at`

// PrincipalRepository implements the repositories.PrincipalRepository interface
type PrincipalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB, logger *zap.Logger) repositories.PrincipalRepository {
	return &PrincipalRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipal(row rowScanner) (*models.Principal, error) {
	p := &models.Principal{}
	err := row.Scan(
		&p.ID,
		&p.Role,
		&p.Identifier,
		&p.CredentialSecret,
		&p.TenantID,
		&p.Status,
		&p.DeletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByIdentifier retrieves a live principal by identifier, role and tenant
func (r *PrincipalRepository) FindByIdentifier(ctx context.Context, lookup repositories.PrincipalLookup) (*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE lower(identifier) = lower($1)
			AND role = $2
			AND tenant_id IS NOT DISTINCT FROM $3::uuid
			AND deleted_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	p, err := scanPrincipal(executor.QueryRowContext(ctx, query,
		models.NormalizeIdentifier(lookup.Identifier),
		lookup.Role,
		lookup.TenantID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find principal by identifier: %w", err)
	}

	return p, nil
}

// FindByID retrieves a live principal by ID
func (r *PrincipalRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE id = $1 AND deleted_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	p, err := scanPrincipal(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	return p, nil
}

// Create inserts a new principal
func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	query := `
		INSERT INTO principals (id, role, identifier, credential_secret, tenant_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		p.ID,
		p.Role,
		p.Identifier,
		p.CredentialSecret,
		p.TenantID,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicate
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}

	r.logger.Debug("principal created", zap.String("id", p.ID.String()), zap.String("role", string(p.Role)))
	return nil
}

// Update updates identifier, role, status and credential secret of a live principal
func (r *PrincipalRepository) Update(ctx context.Context, p *models.Principal) error {
	query := `
		UPDATE principals
		SET identifier = $2, role = $3, status = $4, credential_secret = $5, updated_at = $6
		WHERE id = $1 AND deleted_at IS NULL
	`

	p.UpdatedAt = time.Now().UTC()

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		p.ID,
		p.Identifier,
		p.Role,
		p.Status,
		p.CredentialSecret,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicate
		}
		return fmt.Errorf("failed to update principal: %w", err)
	}

	if err := requireOneRow(result); err != nil {
		return err
	}

	r.logger.Debug("principal updated", zap.String("id", p.ID.String()))
	return nil
}

// SoftDelete marks a live principal deleted
func (r *PrincipalRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE principals
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete principal: %w", err)
	}

	if err := requireOneRow(result); err != nil {
		return err
	}

	r.logger.Debug("principal soft-deleted", zap.String("id", id.String()))
	return nil
}

// ListByTenant lists live principals of a tenant
func (r *PrincipalRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	return r.list(ctx, query, tenantID, limit, offset)
}

// List lists all live principals
func (r *PrincipalRepository) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`

	return r.list(ctx, query, limit, offset)
}

func (r *PrincipalRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Principal, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	principals := []*models.Principal{}
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		principals = append(principals, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principals: %w", err)
	}

	return principals, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
