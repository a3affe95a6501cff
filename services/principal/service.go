// Package principal exposes principal records to authenticated callers.
// Each operation runs exactly one guard check before it touches the store.
package principal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/sessionguard/internal/observability"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
	"github.com/upb/sessionguard/services"
	"github.com/upb/sessionguard/services/guard"
	"github.com/upb/sessionguard/services/session"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// AuditRecorder receives security audit events
type AuditRecorder interface {
	Record(ctx context.Context, event *models.AuditEvent)
}

// ErrOutranked is the internal reason for refusing a status change on a
// principal whose role is not strictly below the caller's.
var ErrOutranked = errors.New("target role is not below the caller's role")

// Enroller creates principals inside a tenant
type Enroller interface {
	Enroll(ctx context.Context, grantor models.Role, tenantID uuid.UUID, input session.RegisterInput) (*models.PrincipalSummary, error)
}

// Service manages principal records
type Service struct {
	principals   repositories.PrincipalRepository
	tenantAdmins repositories.TenantAdminRepository
	txManager    repositories.TransactionManager
	auditLog     repositories.AuditRepository
	recorder     AuditRecorder
	guard        *guard.Guard
	enroller     Enroller
	elevated     []models.Role
	logger       *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithAudit records enrollments, deletions, status changes and tenant admin
// assignments
func WithAudit(r AuditRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a principal service. elevated lists the roles that
// bypass ownership on principal records.
func NewService(
	repos *repositories.Repositories,
	txManager repositories.TransactionManager,
	g *guard.Guard,
	enroller Enroller,
	elevated []models.Role,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		principals:   repos.Principals,
		tenantAdmins: repos.TenantAdmins,
		auditLog:     repos.Audit,
		txManager:    txManager,
		guard:        g,
		enroller:     enroller,
		elevated:     elevated,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a principal the caller owns
func (s *Service) Get(ctx context.Context, ac *guard.AuthContext, id uuid.UUID) (*models.PrincipalSummary, error) {
	if err := s.guard.AuthorizeOwnership(ac, guard.ResourceRef{Owner: id}, s.elevated...); err != nil {
		return nil, err
	}

	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := p.Summary()
	return &summary, nil
}

// UpdateIdentifier changes the identifier of a principal the caller owns
func (s *Service) UpdateIdentifier(ctx context.Context, ac *guard.AuthContext, id uuid.UUID, identifier string) (*models.PrincipalSummary, error) {
	if err := s.guard.AuthorizeOwnership(ac, guard.ResourceRef{Owner: id}, s.elevated...); err != nil {
		return nil, err
	}

	identifier = models.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, services.NewValidationError("identifier is required")
	}

	return services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) (*models.PrincipalSummary, error) {
		p, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		p.Identifier = identifier
		if err := s.update(ctx, p); err != nil {
			return nil, err
		}
		summary := p.Summary()
		return &summary, nil
	})
}

// Delete soft-deletes a principal the caller owns and revokes its tenant
// admin assignments in the same transaction.
func (s *Service) Delete(ctx context.Context, ac *guard.AuthContext, id uuid.UUID) error {
	if err := s.guard.AuthorizeOwnership(ac, guard.ResourceRef{Owner: id}, s.elevated...); err != nil {
		return err
	}

	now := time.Now().UTC()
	err := services.WithTransaction(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) error {
		if err := s.principals.SoftDelete(ctx, id, now); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return services.ErrPrincipalNotFound
			}
			return services.WrapInternal("failed to delete principal", err)
		}
		if err := s.tenantAdmins.RevokeAll(ctx, id, now); err != nil {
			return services.WrapInternal("failed to revoke tenant assignments", err)
		}
		return nil
	})
	if err != nil {
		if !services.IsNotFoundError(err) {
			s.logger.Error("failed to delete principal", zap.String("principal_id", id.String()), zap.Error(err))
		}
		return err
	}

	s.logger.Info("principal deleted",
		zap.String("principal_id", id.String()),
		zap.String("actor_id", ac.PrincipalID.String()),
	)
	s.record(ctx, models.NewAuditEvent(models.AuditActionDelete, observability.OutcomeSuccess).
		About(id).
		By(ac.PrincipalID))
	return nil
}

// ListTenant lists the principals of a tenant the caller belongs to
func (s *Service) ListTenant(ctx context.Context, ac *guard.AuthContext, tenantID uuid.UUID, limit, offset int) ([]models.PrincipalSummary, error) {
	if err := s.guard.AuthorizeTenancy(ctx, ac, guard.TenantResource(tenantID)); err != nil {
		return nil, err
	}

	limit, offset = page(limit, offset)
	principals, err := s.principals.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list tenant principals", zap.Error(err))
		return nil, services.WrapInternal("failed to list principals", err)
	}
	return summaries(principals), nil
}

// Enroll creates a principal inside tenantID. Admins, and tenant admins of
// that tenant, only.
func (s *Service) Enroll(ctx context.Context, ac *guard.AuthContext, tenantID uuid.UUID, input session.RegisterInput) (*models.PrincipalSummary, error) {
	if err := s.guard.AuthorizeTenantAdmin(ctx, ac, guard.TenantResource(tenantID)); err != nil {
		return nil, err
	}

	summary, err := s.enroller.Enroll(ctx, ac.Role, tenantID, input)
	if err != nil {
		return nil, err
	}

	s.record(ctx, models.NewAuditEvent(models.AuditActionEnroll, observability.OutcomeSuccess).
		About(summary.ID).
		By(ac.PrincipalID).
		InTenant(&tenantID))
	return summary, nil
}

// ListAll lists every principal. Admin only.
func (s *Service) ListAll(ctx context.Context, ac *guard.AuthContext, limit, offset int) ([]models.PrincipalSummary, error) {
	if err := s.guard.AuthorizeRole(ac, models.RoleAdmin); err != nil {
		return nil, err
	}

	limit, offset = page(limit, offset)
	principals, err := s.principals.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list principals", zap.Error(err))
		return nil, services.WrapInternal("failed to list principals", err)
	}
	return summaries(principals), nil
}

// SetStatus activates, suspends or parks a principal. Admins and
// moderators only, and only on principals whose role ranks strictly below
// their own.
func (s *Service) SetStatus(ctx context.Context, ac *guard.AuthContext, id uuid.UUID, status models.Status) (*models.PrincipalSummary, error) {
	if err := s.guard.AuthorizeRole(ac, models.RoleAdmin, models.RoleModerator); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, services.ErrInvalidStatus
	}

	summary, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) (*models.PrincipalSummary, error) {
		p, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ac.Role.Outranks(p.Role) {
			s.logger.Warn("status change refused",
				zap.String("principal_id", id.String()),
				zap.String("target_role", p.Role.String()),
				zap.String("actor_id", ac.PrincipalID.String()),
				zap.String("actor_role", ac.Role.String()),
			)
			return nil, services.NewForbiddenError(ErrOutranked)
		}
		p.Status = status
		if err := s.update(ctx, p); err != nil {
			return nil, err
		}

		s.logger.Info("principal status changed",
			zap.String("principal_id", id.String()),
			zap.String("status", string(status)),
			zap.String("actor_id", ac.PrincipalID.String()),
		)
		summary := p.Summary()
		return &summary, nil
	})
	if err != nil {
		return nil, err
	}

	event := models.NewAuditEvent(models.AuditActionStatusChange, observability.OutcomeSuccess).
		About(id).
		By(ac.PrincipalID).
		InTenant(summary.TenantID)
	event.Detail = string(status)
	s.record(ctx, event)
	return summary, nil
}

// AssignTenantAdmin grants a tenant_admin principal administrative rights
// over its tenant. Admin only.
func (s *Service) AssignTenantAdmin(ctx context.Context, ac *guard.AuthContext, tenantID, principalID uuid.UUID) (*models.TenantAdmin, error) {
	if err := s.guard.AuthorizeRole(ac, models.RoleAdmin); err != nil {
		return nil, err
	}

	p, err := s.load(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p.Role != models.RoleTenantAdmin || p.TenantID == nil || *p.TenantID != tenantID {
		return nil, services.NewValidationError("principal is not a tenant admin of this tenant")
	}

	assignment := models.NewTenantAdmin(principalID, tenantID)
	if err := s.tenantAdmins.Assign(ctx, assignment); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.WrapError(services.ErrorTypeConflict, "tenant admin already assigned", err)
		}
		s.logger.Error("failed to assign tenant admin", zap.Error(err))
		return nil, services.WrapInternal("failed to assign tenant admin", err)
	}

	s.record(ctx, models.NewAuditEvent(models.AuditActionTenantAdminAssign, observability.OutcomeSuccess).
		About(principalID).
		By(ac.PrincipalID).
		InTenant(&tenantID))
	return assignment, nil
}

// History lists the audit events about a principal the caller owns, newest
// first
func (s *Service) History(ctx context.Context, ac *guard.AuthContext, id uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	if err := s.guard.AuthorizeOwnership(ac, guard.ResourceRef{Owner: id}, s.elevated...); err != nil {
		return nil, err
	}
	if s.auditLog == nil {
		return []*models.AuditEvent{}, nil
	}

	limit, offset = page(limit, offset)
	events, err := s.auditLog.ListByPrincipal(ctx, id, limit, offset)
	if err != nil {
		s.logger.Error("failed to list audit events", zap.String("principal_id", id.String()), zap.Error(err))
		return nil, services.WrapInternal("failed to list audit events", err)
	}
	return events, nil
}

func (s *Service) record(ctx context.Context, event *models.AuditEvent) {
	if s.recorder != nil {
		s.recorder.Record(ctx, event)
	}
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	p, err := s.principals.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrPrincipalNotFound
		}
		s.logger.Error("failed to load principal", zap.String("principal_id", id.String()), zap.Error(err))
		return nil, services.WrapInternal("failed to load principal", err)
	}
	return p, nil
}

func (s *Service) update(ctx context.Context, p *models.Principal) error {
	err := s.principals.Update(ctx, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrDuplicate):
		return services.ErrDuplicatePrincipal
	case errors.Is(err, repositories.ErrNotFound):
		return services.ErrPrincipalNotFound
	default:
		s.logger.Error("failed to update principal", zap.String("principal_id", p.ID.String()), zap.Error(err))
		return services.WrapInternal("failed to update principal", err)
	}
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func summaries(principals []*models.Principal) []models.PrincipalSummary {
	out := make([]models.PrincipalSummary, 0, len(principals))
	for _, p := range principals {
		out = append(out, p.Summary())
	}
	return out
}
