// Package session implements login, refresh and self-registration on top of
// the token codec and the credential store. Sessions are stateless: nothing
// about an issued pair is persisted.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/sessionguard/internal/observability"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/repositories"
	"github.com/upb/sessionguard/services"
	"github.com/upb/sessionguard/services/token"
)

var (
	// ErrPrincipalInactive is the internal reason for refusing a refresh to a
	// principal that still exists but is no longer active.
	ErrPrincipalInactive = errors.New("principal is not active")
	// ErrUnknownRole is the internal reason for a login that names a role
	// outside the closed set.
	ErrUnknownRole = errors.New("unknown role")
	// ErrRoleNotGrantable is the internal reason for refusing an enrollment
	// whose role sits above what the grantor may hand out.
	ErrRoleNotGrantable = errors.New("role not grantable")
)

// SecretHasher hashes and verifies credential secrets
type SecretHasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) (bool, error)
	CompareDummy(secret string)
}

// AuditRecorder receives security audit events
type AuditRecorder interface {
	Record(ctx context.Context, event *models.AuditEvent)
}

// LoginInput identifies the principal signing in. Role and TenantID narrow
// the lookup because identifiers are only unique per role and tenant.
type LoginInput struct {
	Identifier string
	Secret     string
	Role       string
	TenantID   *uuid.UUID
}

// RegisterInput describes a new principal. Self-registered principals never
// belong to a tenant; membership is granted through Enroll.
type RegisterInput struct {
	Identifier string
	Secret     string
	Role       string
}

// DefaultRegistrableRoles are the roles open to self-registration when no
// allow-list is configured
var DefaultRegistrableRoles = []models.Role{models.RoleMember, models.RoleViewer}

// Service issues and refreshes sessions
type Service struct {
	principals  repositories.PrincipalRepository
	txManager   repositories.TransactionManager
	codec       *token.Codec
	hasher      SecretHasher
	defaultRole models.Role
	registrable map[models.Role]struct{}
	metrics     *observability.AuthMetrics
	audit       AuditRecorder
	logger      *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records login and refresh outcomes
func WithMetrics(m *observability.AuthMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAudit records login, refresh and registration events
func WithAudit(r AuditRecorder) Option {
	return func(s *Service) {
		s.audit = r
	}
}

// WithRegistrableRoles replaces the self-registration allow-list. An empty
// list keeps DefaultRegistrableRoles. Administrative roles are never
// registrable and are dropped from roles.
func WithRegistrableRoles(roles ...models.Role) Option {
	return func(s *Service) {
		if len(roles) > 0 {
			s.registrable = registrableSet(roles)
		}
	}
}

func registrableSet(roles []models.Role) map[models.Role]struct{} {
	set := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		if r.Valid() && !r.IsAdministrative() {
			set[r] = struct{}{}
		}
	}
	return set
}

// NewService creates a new session service
func NewService(
	principals repositories.PrincipalRepository,
	txManager repositories.TransactionManager,
	codec *token.Codec,
	hasher SecretHasher,
	defaultRole models.Role,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if !defaultRole.Valid() {
		defaultRole = models.RoleMember
	}
	s := &Service{
		principals:  principals,
		txManager:   txManager,
		codec:       codec,
		hasher:      hasher,
		defaultRole: defaultRole,
		registrable: registrableSet(DefaultRegistrableRoles),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks the credentials and mints a fresh token pair.
// Unknown identifiers, unknown roles and wrong secrets all produce the same
// InvalidCredentials error, and all of them pay for one bcrypt comparison.
func (s *Service) Login(ctx context.Context, input LoginInput) (*models.SessionResult, error) {
	result, principal, err := s.login(ctx, input)
	outcome := loginOutcome(err)
	s.metrics.RecordLogin(outcome)

	event := models.NewAuditEvent(models.AuditActionLogin, outcome)
	if principal != nil {
		event.About(principal.ID).InTenant(principal.TenantID)
	}
	s.record(ctx, event)
	return result, err
}

// login returns the matched principal alongside any error so that failed
// attempts against a known account can be audited.
func (s *Service) login(ctx context.Context, input LoginInput) (*models.SessionResult, *models.Principal, error) {
	role, err := s.resolveRole(input.Role)
	if err != nil {
		s.hasher.CompareDummy(input.Secret)
		s.logger.Debug("login rejected", zap.Error(err))
		return nil, nil, services.NewInvalidCredentialsError()
	}

	principal, err := s.principals.FindByIdentifier(ctx, repositories.PrincipalLookup{
		Identifier: input.Identifier,
		Role:       role,
		TenantID:   input.TenantID,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.hasher.CompareDummy(input.Secret)
			s.logger.Debug("login rejected: unknown identifier", zap.String("role", role.String()))
			return nil, nil, services.NewInvalidCredentialsError()
		}
		s.logger.Error("failed to look up principal", zap.Error(err))
		return nil, nil, services.WrapInternal("failed to look up principal", err)
	}

	ok, err := s.hasher.Compare(principal.CredentialSecret, input.Secret)
	if err != nil {
		s.logger.Error("stored credential secret is unusable",
			zap.String("principal_id", principal.ID.String()),
			zap.Error(err),
		)
		return nil, principal, services.WrapInternal("failed to verify credentials", err)
	}
	if !ok {
		s.logger.Debug("login rejected: secret mismatch", zap.String("principal_id", principal.ID.String()))
		return nil, principal, services.NewInvalidCredentialsError()
	}

	if !principal.IsActive() {
		s.logger.Info("login refused for ineligible principal",
			zap.String("principal_id", principal.ID.String()),
			zap.String("status", string(principal.Status)),
		)
		return nil, principal, services.NewAccountNotEligibleError(fmt.Errorf("status %s", principal.Status))
	}

	result, err := s.IssuePair(principal)
	if err != nil {
		return nil, principal, err
	}

	s.logger.Info("principal signed in",
		zap.String("principal_id", principal.ID.String()),
		zap.String("role", principal.Role.String()),
	)
	return result, principal, nil
}

// Refresh verifies a refresh token, reloads its principal and mints a new
// pair. The presented token is not revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.SessionResult, error) {
	result, claims, err := s.refresh(ctx, refreshToken)
	outcome := refreshOutcome(err)
	s.metrics.RecordRefresh(outcome)

	// tokens that fail verification name nobody trustworthy
	if claims != nil {
		s.record(ctx, models.NewAuditEvent(models.AuditActionRefresh, outcome).
			About(claims.PrincipalID).
			InTenant(claims.TenantID))
	}
	return result, err
}

func (s *Service) refresh(ctx context.Context, refreshToken string) (*models.SessionResult, *token.Claims, error) {
	claims, err := s.codec.Verify(refreshToken, token.PurposeRefresh)
	if err != nil {
		s.logger.Debug("refresh rejected", zap.Error(err))
		return nil, nil, err
	}

	principal, err := s.principals.FindByID(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.logger.Info("refresh for missing principal", zap.String("principal_id", claims.PrincipalID.String()))
			return nil, claims, services.NewPrincipalGoneError()
		}
		s.logger.Error("failed to reload principal", zap.Error(err))
		return nil, claims, services.WrapInternal("failed to reload principal", err)
	}

	if !principal.IsActive() {
		s.logger.Info("refresh for inactive principal",
			zap.String("principal_id", principal.ID.String()),
			zap.String("status", string(principal.Status)),
		)
		return nil, claims, services.WrapError(services.ErrorTypePrincipalGone, services.ErrPrincipalGone.Message, ErrPrincipalInactive)
	}

	result, err := s.IssuePair(principal)
	return result, claims, err
}

// Register creates an active, tenantless principal. Only roles on the
// registrable allow-list can be self-registered.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*models.PrincipalSummary, error) {
	role, err := s.resolveRole(input.Role)
	if err != nil {
		return nil, services.ErrInvalidRole
	}
	if _, ok := s.registrable[role]; !ok {
		return nil, services.NewValidationError("role cannot be self-registered")
	}

	principal, err := s.create(ctx, input, role, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("principal registered",
		zap.String("principal_id", principal.ID.String()),
		zap.String("role", role.String()),
	)
	s.record(ctx, models.NewAuditEvent(models.AuditActionRegister, observability.OutcomeSuccess).
		About(principal.ID))

	summary := principal.Summary()
	return &summary, nil
}

// Enroll creates an active principal inside tenantID on behalf of grantor.
// It does not authorize grantor against the tenant; callers run that check.
// Only admins may grant roles at or above moderator, and nobody can enroll
// an admin into a tenant.
func (s *Service) Enroll(ctx context.Context, grantor models.Role, tenantID uuid.UUID, input RegisterInput) (*models.PrincipalSummary, error) {
	role, err := s.resolveRole(input.Role)
	if err != nil {
		return nil, services.ErrInvalidRole
	}
	if role == models.RoleAdmin {
		return nil, services.NewValidationError("admin principals cannot belong to a tenant")
	}
	if grantor != models.RoleAdmin && !models.RoleModerator.Outranks(role) {
		return nil, services.NewForbiddenError(fmt.Errorf("%w: %s cannot grant %s", ErrRoleNotGrantable, grantor, role))
	}

	principal, err := s.create(ctx, input, role, &tenantID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("principal enrolled",
		zap.String("principal_id", principal.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("role", role.String()),
	)

	summary := principal.Summary()
	return &summary, nil
}

func (s *Service) create(ctx context.Context, input RegisterInput, role models.Role, tenantID *uuid.UUID) (*models.Principal, error) {
	identifier := models.NormalizeIdentifier(input.Identifier)
	if identifier == "" {
		return nil, services.NewValidationError("identifier is required")
	}
	if input.Secret == "" {
		return nil, services.NewValidationError("secret is required")
	}

	hash, err := s.hasher.Hash(input.Secret)
	if err != nil {
		s.logger.Error("failed to hash secret", zap.Error(err))
		return nil, services.WrapInternal("failed to hash secret", err)
	}

	principal := models.NewPrincipal(identifier, hash, role, tenantID)

	err = services.WithTransaction(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) error {
		return s.principals.Create(ctx, principal)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.ErrDuplicatePrincipal
		}
		s.logger.Error("failed to create principal", zap.Error(err))
		return nil, services.WrapInternal("failed to create principal", err)
	}
	return principal, nil
}

// IssuePair mints an access and a refresh token for the principal
func (s *Service) IssuePair(principal *models.Principal) (*models.SessionResult, error) {
	pair, err := s.codec.IssuePair(principal.ID, principal.Role, principal.TenantID)
	if err != nil {
		s.logger.Error("failed to issue tokens", zap.Error(err))
		return nil, services.WrapInternal("failed to issue tokens", err)
	}

	return &models.SessionResult{
		Principal: principal.Summary(),
		Token: models.TokenPair{
			Access:           pair.Access.Token,
			Refresh:          pair.Refresh.Token,
			ExpiredAt:        token.FormatTimestamp(pair.Access.ExpiresAt),
			RefreshableUntil: token.FormatTimestamp(pair.Refresh.ExpiresAt),
		},
	}, nil
}

func (s *Service) record(ctx context.Context, event *models.AuditEvent) {
	if s.audit != nil {
		s.audit.Record(ctx, event)
	}
}

func (s *Service) resolveRole(raw string) (models.Role, error) {
	if raw == "" {
		return s.defaultRole, nil
	}
	role, ok := models.ParseRole(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case services.IsInvalidCredentialsError(err):
		return observability.OutcomeInvalidCredentials
	case services.IsAccountNotEligibleError(err):
		return observability.OutcomeNotEligible
	default:
		return observability.OutcomeError
	}
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case services.IsInvalidTokenError(err):
		return observability.OutcomeInvalidToken
	case services.IsPrincipalGoneError(err):
		return observability.OutcomePrincipalGone
	default:
		return observability.OutcomeError
	}
}
