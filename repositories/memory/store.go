// Package memory is an in-process implementation of the repositories
// interfaces. It backs unit tests and local runs without PostgreSQL;
// transactions are accepted but not isolated.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
)

// Store holds principals, tenant admin assignments and the audit trail
type Store struct {
	mu         sync.RWMutex
	principals map[uuid.UUID]*models.Principal
	admins     map[uuid.UUID]*models.TenantAdmin
	events     []*models.AuditEvent
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		principals: make(map[uuid.UUID]*models.Principal),
		admins:     make(map[uuid.UUID]*models.TenantAdmin),
	}
}

// Repositories returns repository views over the store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Principals:   (*principalRepo)(s),
		TenantAdmins: (*tenantAdminRepo)(s),
		Audit:        (*auditRepo)(s),
	}
}

// TransactionManager returns a manager whose transactions only carry context
func (s *Store) TransactionManager() repositories.TransactionManager {
	return txManager{}
}

func copyPrincipal(p *models.Principal) *models.Principal {
	c := *p
	if p.TenantID != nil {
		t := *p.TenantID
		c.TenantID = &t
	}
	if p.DeletedAt != nil {
		d := *p.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

func sameTenant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type principalRepo Store

func (r *principalRepo) FindByIdentifier(ctx context.Context, lookup repositories.PrincipalLookup) (*models.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	identifier := models.NormalizeIdentifier(lookup.Identifier)
	for _, p := range r.principals {
		if p.IsDeleted() {
			continue
		}
		if p.Identifier == identifier && p.Role == lookup.Role && sameTenant(p.TenantID, lookup.TenantID) {
			return copyPrincipal(p), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *principalRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[id]
	if !ok || p.IsDeleted() {
		return nil, repositories.ErrNotFound
	}
	return copyPrincipal(p), nil
}

func (r *principalRepo) conflicts(candidate *models.Principal) bool {
	for _, p := range r.principals {
		if p.ID == candidate.ID || p.IsDeleted() {
			continue
		}
		if p.Identifier == candidate.Identifier && p.Role == candidate.Role && sameTenant(p.TenantID, candidate.TenantID) {
			return true
		}
	}
	return false
}

func (r *principalRepo) Create(ctx context.Context, p *models.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.principals[p.ID]; exists || r.conflicts(p) {
		return repositories.ErrDuplicate
	}
	r.principals[p.ID] = copyPrincipal(p)
	return nil
}

func (r *principalRepo) Update(ctx context.Context, p *models.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.principals[p.ID]
	if !ok || current.IsDeleted() {
		return repositories.ErrNotFound
	}
	if r.conflicts(p) {
		return repositories.ErrDuplicate
	}

	p.UpdatedAt = time.Now().UTC()
	current.Identifier = p.Identifier
	current.Role = p.Role
	current.Status = p.Status
	current.CredentialSecret = p.CredentialSecret
	current.UpdatedAt = p.UpdatedAt
	return nil
}

func (r *principalRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[id]
	if !ok || p.IsDeleted() {
		return repositories.ErrNotFound
	}
	p.DeletedAt = &at
	p.UpdatedAt = at
	return nil
}

func (r *principalRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Principal, error) {
	return r.list(ctx, limit, offset, func(p *models.Principal) bool {
		return p.TenantID != nil && *p.TenantID == tenantID
	})
}

func (r *principalRepo) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	return r.list(ctx, limit, offset, func(*models.Principal) bool { return true })
}

func (r *principalRepo) list(ctx context.Context, limit, offset int, keep func(*models.Principal) bool) ([]*models.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []*models.Principal{}
	for _, p := range r.principals {
		if !p.IsDeleted() && keep(p) {
			matched = append(matched, copyPrincipal(p))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return []*models.Principal{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

type tenantAdminRepo Store

func (r *tenantAdminRepo) FindActive(ctx context.Context, principalID, tenantID uuid.UUID) (*models.TenantAdmin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.admins {
		if a.PrincipalID == principalID && a.TenantID == tenantID && a.InEffect() {
			c := *a
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *tenantAdminRepo) Assign(ctx context.Context, a *models.TenantAdmin) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.admins {
		if existing.PrincipalID == a.PrincipalID && existing.TenantID == a.TenantID && existing.DeletedAt == nil {
			return repositories.ErrDuplicate
		}
	}
	c := *a
	r.admins[a.ID] = &c
	return nil
}

func (r *tenantAdminRepo) RevokeAll(ctx context.Context, principalID uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.admins {
		if a.PrincipalID == principalID && a.DeletedAt == nil {
			a.Active = false
			revokedAt := at
			a.DeletedAt = &revokedAt
		}
	}
	return nil
}

type auditRepo Store

func (r *auditRepo) Insert(ctx context.Context, e *models.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *e
	r.events = append(r.events, &c)
	return nil
}

// ListByPrincipal walks the trail backwards so the newest event comes first
func (r *auditRepo) ListByPrincipal(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.AuditEvent{}
	skipped := 0
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.PrincipalID == nil || *e.PrincipalID != principalID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

type txManager struct{}

func (txManager) Begin(context.Context) (repositories.Transaction, error) {
	return tx{}, nil
}

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }
