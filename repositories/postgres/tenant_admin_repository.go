package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
	"go.uber.org/zap"
)

// TenantAdminRepository implements the repositories.TenantAdminRepository interface
type TenantAdminRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTenantAdminRepository creates a new tenant admin repository
func NewTenantAdminRepository(db *DB, logger *zap.Logger) repositories.TenantAdminRepository {
	return &TenantAdminRepository{
		db:     db,
		logger: logger,
	}
}

// FindActive returns the active, non-deleted assignment of principalID to tenantID
func (r *TenantAdminRepository) FindActive(ctx context.Context, principalID, tenantID uuid.UUID) (*models.TenantAdmin, error) {
	query := `
		SELECT id, principal_id, tenant_id, active, deleted_at, created_at
		FROM tenant_admins
		WHERE principal_id = $1 AND tenant_id = $2 AND active = true AND deleted_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	a := &models.TenantAdmin{}
	err := executor.QueryRowContext(ctx, query, principalID, tenantID).Scan(
		&a.ID,
		&a.PrincipalID,
		&a.TenantID,
		&a.Active,
		&a.DeletedAt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find tenant admin: %w", err)
	}

	return a, nil
}

// Assign creates an assignment
func (r *TenantAdminRepository) Assign(ctx context.Context, a *models.TenantAdmin) error {
	query := `
		INSERT INTO tenant_admins (id, principal_id, tenant_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query, a.ID, a.PrincipalID, a.TenantID, a.Active, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicate
		}
		return fmt.Errorf("failed to assign tenant admin: %w", err)
	}

	r.logger.Debug("tenant admin assigned",
		zap.String("principal_id", a.PrincipalID.String()),
		zap.String("tenant_id", a.TenantID.String()))
	return nil
}

// RevokeAll soft-deletes every live assignment of the principal.
// Revoking nothing is not an error.
func (r *TenantAdminRepository) RevokeAll(ctx context.Context, principalID uuid.UUID, at time.Time) error {
	query := `
		UPDATE tenant_admins
		SET active = false, deleted_at = $2
		WHERE principal_id = $1 AND deleted_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, principalID, at)
	if err != nil {
		return fmt.Errorf("failed to revoke tenant admin assignments: %w", err)
	}

	n, _ := result.RowsAffected()
	r.logger.Debug("tenant admin assignments revoked",
		zap.String("principal_id", principalID.String()),
		zap.Int64("count", n))
	return nil
}
