package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an audit event
func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, action, outcome, principal_id, actor_id, tenant_id, detail, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		e.ID,
		e.Action,
		e.Outcome,
		e.PrincipalID,
		e.ActorID,
		e.TenantID,
		e.Detail,
		e.RequestID,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	r.logger.Debug("audit event inserted", zap.String("id", e.ID.String()), zap.String("action", string(e.Action)))
	return nil
}

// ListByPrincipal lists events about a principal, newest first
func (r *AuditRepository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, action, outcome, principal_id, actor_id, tenant_id, detail, request_id, created_at
		FROM audit_events
		WHERE principal_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, principalID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		e := &models.AuditEvent{}
		if err := rows.Scan(
			&e.ID,
			&e.Action,
			&e.Outcome,
			&e.PrincipalID,
			&e.ActorID,
			&e.TenantID,
			&e.Detail,
			&e.RequestID,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}
