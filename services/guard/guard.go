// Package guard turns bearer tokens into an AuthContext and gates
// operations on ownership, tenancy or role. Handlers pick one check per
// resource type and combine it with Authenticate; checks are never OR-ed.
package guard

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/sessionguard/internal/observability"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
	"github.com/upb/sessionguard/services"
	"github.com/upb/sessionguard/services/token"
)

// Internal denial reasons. Callers only ever see the opaque
// unauthenticated or forbidden message.
var (
	ErrMissingToken        = errors.New("no bearer token presented")
	ErrMalformedHeader     = errors.New("authorization header is not a bearer credential")
	ErrNotOwner            = errors.New("principal does not own the resource")
	ErrTenantMismatch      = errors.New("resource belongs to another tenant")
	ErrTenantAdminInactive = errors.New("tenant admin assignment is not active")
	ErrRoleNotAllowed      = errors.New("role is not allowed")
)

// Check names used for decision metrics
const (
	CheckOwnership = "ownership"
	CheckTenancy   = "tenancy"
	CheckRole      = "role"
)

// AuthContext is the verified identity of the caller
type AuthContext struct {
	PrincipalID uuid.UUID
	Role        models.Role
	TenantID    *uuid.UUID
}

// HasRole reports whether the caller holds one of roles
func (ac *AuthContext) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if ac.Role == r {
			return true
		}
	}
	return false
}

// IsAdministrative reports whether the caller holds an administrative role
func (ac *AuthContext) IsAdministrative() bool {
	return ac.Role.IsAdministrative()
}

// Resource is anything scoped by owner and, optionally, tenant
type Resource interface {
	OwnerID() uuid.UUID
	TenantID() *uuid.UUID
}

// ResourceRef is a plain Resource value
type ResourceRef struct {
	Owner  uuid.UUID
	Tenant *uuid.UUID
}

func (r ResourceRef) OwnerID() uuid.UUID   { return r.Owner }
func (r ResourceRef) TenantID() *uuid.UUID { return r.Tenant }

// PrincipalResource scopes a principal record to itself and its tenant
func PrincipalResource(p *models.Principal) ResourceRef {
	return ResourceRef{Owner: p.ID, Tenant: p.TenantID}
}

// TenantResource is a resource that only carries a tenant
func TenantResource(tenantID uuid.UUID) ResourceRef {
	return ResourceRef{Tenant: &tenantID}
}

// Guard authenticates callers and evaluates authorization checks
type Guard struct {
	codec        *token.Codec
	tenantAdmins repositories.TenantAdminRepository
	metrics      *observability.AuthMetrics
	logger       *zap.Logger
}

// Option configures a Guard
type Option func(*Guard)

// WithMetrics records authentication and decision outcomes
func WithMetrics(m *observability.AuthMetrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// New creates a guard
func New(codec *token.Codec, tenantAdmins repositories.TenantAdminRepository, logger *zap.Logger, opts ...Option) *Guard {
	g := &Guard{
		codec:        codec,
		tenantAdmins: tenantAdmins,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate verifies an access token. Any failure is Unauthenticated
// with the verification reason wrapped inside.
func (g *Guard) Authenticate(rawToken string) (*AuthContext, error) {
	if rawToken == "" {
		g.metrics.RecordAuthentication(observability.OutcomeUnauthenticated)
		return nil, services.NewUnauthenticatedError(ErrMissingToken)
	}

	claims, err := g.codec.Verify(rawToken, token.PurposeAccess)
	if err != nil {
		g.metrics.RecordAuthentication(observability.OutcomeInvalidToken)
		g.logger.Debug("access token rejected", zap.Error(err))
		return nil, services.NewUnauthenticatedError(errors.Unwrap(err))
	}

	g.metrics.RecordAuthentication(observability.OutcomeSuccess)
	return &AuthContext{
		PrincipalID: claims.PrincipalID,
		Role:        claims.Role,
		TenantID:    claims.TenantID,
	}, nil
}

// AuthenticateRequest reads the bearer token from the Authorization header
func (g *Guard) AuthenticateRequest(r *http.Request) (*AuthContext, error) {
	raw, err := BearerToken(r)
	if err != nil {
		g.metrics.RecordAuthentication(observability.OutcomeUnauthenticated)
		return nil, services.NewUnauthenticatedError(err)
	}
	return g.Authenticate(raw)
}

// BearerToken extracts the token from "Authorization: Bearer <token>"
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingToken
	}
	return raw, nil
}

// AuthorizeOwnership allows the resource owner, or a caller holding one of
// the elevated roles for this operation.
func (g *Guard) AuthorizeOwnership(ac *AuthContext, res Resource, elevated ...models.Role) error {
	if ac.PrincipalID == res.OwnerID() || ac.HasRole(elevated...) {
		return g.allow(CheckOwnership)
	}
	return g.deny(CheckOwnership, ac, ErrNotOwner)
}

// AuthorizeTenancy allows callers from the resource's tenant. Callers with
// an administrative role must also hold an active assignment to that tenant.
func (g *Guard) AuthorizeTenancy(ctx context.Context, ac *AuthContext, res Resource) error {
	tenantID := res.TenantID()
	if ac.TenantID == nil || tenantID == nil || *ac.TenantID != *tenantID {
		return g.deny(CheckTenancy, ac, ErrTenantMismatch)
	}

	if ac.IsAdministrative() {
		_, err := g.tenantAdmins.FindActive(ctx, ac.PrincipalID, *tenantID)
		if errors.Is(err, repositories.ErrNotFound) {
			return g.deny(CheckTenancy, ac, ErrTenantAdminInactive)
		}
		if err != nil {
			g.logger.Error("failed to load tenant admin assignment", zap.Error(err))
			return services.WrapInternal("failed to check tenant assignment", err)
		}
	}

	return g.allow(CheckTenancy)
}

// AuthorizeTenantAdmin allows global admins, and tenant admins holding an
// active assignment over the resource's tenant. Members of the tenant are
// denied.
func (g *Guard) AuthorizeTenantAdmin(ctx context.Context, ac *AuthContext, res Resource) error {
	switch {
	case ac.HasRole(models.RoleAdmin):
		return g.allow(CheckTenancy)
	case !ac.HasRole(models.RoleTenantAdmin):
		return g.deny(CheckTenancy, ac, ErrRoleNotAllowed)
	}
	return g.AuthorizeTenancy(ctx, ac, res)
}

// AuthorizeRole allows callers holding one of allowed
func (g *Guard) AuthorizeRole(ac *AuthContext, allowed ...models.Role) error {
	if ac.HasRole(allowed...) {
		return g.allow(CheckRole)
	}
	return g.deny(CheckRole, ac, ErrRoleNotAllowed)
}

func (g *Guard) allow(check string) error {
	g.metrics.RecordDecision(check, true)
	return nil
}

func (g *Guard) deny(check string, ac *AuthContext, reason error) error {
	g.metrics.RecordDecision(check, false)
	g.logger.Warn("authorization denied",
		zap.String("check", check),
		zap.String("principal_id", ac.PrincipalID.String()),
		zap.String("role", ac.Role.String()),
		zap.Error(reason),
	)
	return services.NewForbiddenError(reason)
}
