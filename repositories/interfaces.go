package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/sessionguard/models"
)

var (
	// ErrNotFound is returned when no live (non soft-deleted) row matches
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a write violates a uniqueness constraint
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error
}

type transactionContextKey struct{}

// ContextWithTransaction binds tx to ctx so repositories run their queries inside it
func ContextWithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, transactionContextKey{}, tx)
}

// TransactionFromContext retrieves a transaction from the context if available
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(Transaction)
	return tx, ok
}

// PrincipalLookup identifies a principal by its natural key.
// TenantID nil matches principals that belong to no tenant.
type PrincipalLookup struct {
	Identifier string
	Role       models.Role
	TenantID   *uuid.UUID
}

// PrincipalRepository is the credential store. Every read excludes
// soft-deleted principals and returns ErrNotFound when nothing matches.
type PrincipalRepository interface {
	// FindByIdentifier retrieves a principal by identifier, role and tenant
	FindByIdentifier(ctx context.Context, lookup PrincipalLookup) (*models.Principal, error)

	// FindByID retrieves a principal by ID
	FindByID(ctx context.Context, id uuid.UUID) (*models.Principal, error)

	// Create inserts a new principal, ErrDuplicate on a taken identifier
	Create(ctx context.Context, principal *models.Principal) error

	// Update updates identifier, role, status and credential secret
	Update(ctx context.Context, principal *models.Principal) error

	// SoftDelete marks the principal deleted at the given instant
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListByTenant lists live principals of a tenant with pagination
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Principal, error)

	// List lists all live principals with pagination
	List(ctx context.Context, limit, offset int) ([]*models.Principal, error)
}

// TenantAdminRepository stores administrative assignments of principals to tenants
type TenantAdminRepository interface {
	// FindActive returns the active, non-deleted assignment or ErrNotFound
	FindActive(ctx context.Context, principalID, tenantID uuid.UUID) (*models.TenantAdmin, error)

	// Assign creates an assignment
	Assign(ctx context.Context, assignment *models.TenantAdmin) error

	// RevokeAll soft-deletes every assignment held by the principal
	RevokeAll(ctx context.Context, principalID uuid.UUID, at time.Time) error
}

// AuditRepository stores the append-only audit trail
type AuditRepository interface {
	// Insert appends an event
	Insert(ctx context.Context, event *models.AuditEvent) error

	// ListByPrincipal lists events about a principal, newest first
	ListByPrincipal(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error)
}

// Repositories groups every repository the service needs
type Repositories struct {
	Principals   PrincipalRepository
	TenantAdmins TenantAdminRepository
	Audit        AuditRepository
}
