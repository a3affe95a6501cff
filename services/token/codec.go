// Package token issues and verifies the signed, self-describing session
// tokens handed to clients. Tokens are HS256 JWTs; nothing is stored
// server-side, so a token stays valid until it expires.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/services"
)

// TimestampLayout is ISO-8601 with millisecond precision
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Verification failure reasons. They are wrapped inside an invalid_token
// DomainError and only ever reach logs.
var (
	ErrMalformed = errors.New("token malformed")
	ErrSignature = errors.New("token signature invalid")
	ErrPurpose   = errors.New("token purpose mismatch")
	ErrIssuer    = errors.New("token issuer mismatch")
	ErrExpired   = errors.New("token expired")
)

// Purpose distinguishes access tokens from refresh tokens
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

// Valid reports whether p is a known purpose
func (p Purpose) Valid() bool {
	return p == PurposeAccess || p == PurposeRefresh
}

// Config holds the codec settings
type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is the verified payload of a token
type Claims struct {
	ID          string
	PrincipalID uuid.UUID
	Role        models.Role
	TenantID    *uuid.UUID
	Purpose     Purpose
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Issued is a freshly minted token
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Pair is an access token and a refresh token minted at the same instant
type Pair struct {
	Access  Issued
	Refresh Issued
}

// wireClaims is the JWT body. issued_at and expires_at keep millisecond
// precision; the registered iat/exp are whole seconds.
type wireClaims struct {
	Role      string `json:"role"`
	Purpose   string `json:"purpose"`
	TenantID  string `json:"tenant_id,omitempty"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
	jwt.RegisteredClaims
}

// Option configures a Codec
type Option func(*Codec)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// Codec signs and verifies tokens
type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewCodec creates a codec. A missing secret or issuer is a config error.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, services.NewConfigError("token signing secret is not configured")
	}
	if cfg.Issuer == "" {
		return nil, services.NewConfigError("token issuer is not configured")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, services.NewConfigError("token TTLs must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, services.NewConfigError("access token TTL must be shorter than refresh token TTL")
	}

	c := &Codec{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	return c, nil
}

// AccessTTL returns the configured access token lifetime
func (c *Codec) AccessTTL() time.Duration {
	return c.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime
func (c *Codec) RefreshTTL() time.Duration {
	return c.refreshTTL
}

// Issue mints a token. A non-positive ttl uses the purpose default.
func (c *Codec) Issue(principalID uuid.UUID, role models.Role, tenantID *uuid.UUID, purpose Purpose, ttl time.Duration) (Issued, error) {
	return c.issueAt(c.now(), principalID, role, tenantID, purpose, ttl)
}

// IssuePair mints an access and a refresh token for the same subject from
// one clock reading, so the access expiry always precedes the refresh expiry.
func (c *Codec) IssuePair(principalID uuid.UUID, role models.Role, tenantID *uuid.UUID) (Pair, error) {
	now := c.now()

	access, err := c.issueAt(now, principalID, role, tenantID, PurposeAccess, c.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.issueAt(now, principalID, role, tenantID, PurposeRefresh, c.refreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{Access: access, Refresh: refresh}, nil
}

func (c *Codec) issueAt(now time.Time, principalID uuid.UUID, role models.Role, tenantID *uuid.UUID, purpose Purpose, ttl time.Duration) (Issued, error) {
	if !purpose.Valid() {
		return Issued{}, fmt.Errorf("unknown token purpose %q", purpose)
	}
	if ttl <= 0 {
		ttl = c.accessTTL
		if purpose == PurposeRefresh {
			ttl = c.refreshTTL
		}
	}

	issuedAt := now.UTC().Truncate(time.Millisecond)
	expiresAt := issuedAt.Add(ttl)

	claims := wireClaims{
		Role:      string(role),
		Purpose:   string(purpose),
		IssuedAt:  FormatTimestamp(issuedAt),
		ExpiresAt: FormatTimestamp(expiresAt),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   principalID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(expiresAt)),
		},
	}
	if tenantID != nil {
		claims.TenantID = tenantID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return Issued{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, issuer, purpose and expiry. Every failure is an
// invalid_token DomainError wrapping one of the Err* reasons.
func (c *Codec) Verify(tokenString string, expected Purpose) (*Claims, error) {
	var wc wireClaims
	_, err := c.parser.ParseWithClaims(tokenString, &wc, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, services.NewInvalidTokenError(classify(err))
	}

	if Purpose(wc.Purpose) != expected {
		return nil, services.NewInvalidTokenError(ErrPurpose)
	}

	claims, err := wc.decode()
	if err != nil {
		return nil, services.NewInvalidTokenError(fmt.Errorf("%w: %v", ErrMalformed, err))
	}

	// exp is rounded up to the second, expires_at is authoritative
	if !c.now().Before(claims.ExpiresAt) {
		return nil, services.NewInvalidTokenError(ErrExpired)
	}

	return claims, nil
}

func (wc *wireClaims) decode() (*Claims, error) {
	principalID, err := uuid.Parse(wc.Subject)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}

	role := models.Role(wc.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", wc.Role)
	}

	issuedAt, err := ParseTimestamp(wc.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("issued_at: %w", err)
	}
	expiresAt, err := ParseTimestamp(wc.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}

	claims := &Claims{
		ID:          wc.ID,
		PrincipalID: principalID,
		Role:        role,
		Purpose:     Purpose(wc.Purpose),
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}

	if wc.TenantID != "" {
		tenantID, err := uuid.Parse(wc.TenantID)
		if err != nil {
			return nil, fmt.Errorf("tenant_id: %w", err)
		}
		claims.TenantID = &tenantID
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// FormatTimestamp renders t as UTC ISO-8601 with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a FormatTimestamp string
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func ceilSecond(t time.Time) time.Time {
	s := t.Truncate(time.Second)
	if s.Before(t) {
		s = s.Add(time.Second)
	}
	return s
}
