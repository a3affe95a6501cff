package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the role tag a principal authenticates with. The set is closed.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleModerator   Role = "moderator"
	RoleMember      Role = "member"
	RoleViewer      Role = "viewer"
)

// roleRanks orders the closed role set; higher ranks administer lower ones
var roleRanks = map[Role]int{
	RoleAdmin:       4,
	RoleTenantAdmin: 3,
	RoleModerator:   2,
	RoleMember:      1,
	RoleViewer:      0,
}

// ParseRole converts a raw tag into a Role, rejecting tags outside the closed set.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := roleRanks[r]
	return r, ok
}

// Valid reports whether r belongs to the closed role set
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// IsAdministrative returns true for roles that administer other principals.
// Tenant-scoped checks for these roles also require an active TenantAdmin assignment.
func (r Role) IsAdministrative() bool {
	return r == RoleAdmin || r == RoleTenantAdmin
}

// Rank places r in the role hierarchy. Unknown roles rank below every known one.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// Outranks reports whether r sits strictly above other in the hierarchy
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

func (r Role) String() string {
	return string(r)
}

// Status is the account state of a principal
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending" // registered, email not verified
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusSuspended:
		return true
	}
	return false
}

// Principal is a stored credential record for any actor of the service
type Principal struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Role             Role       `json:"role" db:"role"`
	Identifier       string     `json:"identifier" db:"identifier"`
	CredentialSecret string     `json:"-" db:"credential_secret"` // bcrypt hash, never serialized
	TenantID         *uuid.UUID `json:"tenant_id,omitempty" db:"tenant_id"`
	Status           Status     `json:"status" db:"status"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Principal model
func (Principal) TableName() string {
	return "principals"
}

// NewPrincipal creates an active principal with the given hashed secret
func NewPrincipal(identifier, secretHash string, role Role, tenantID *uuid.UUID) *Principal {
	now := time.Now().UTC()
	return &Principal{
		ID:               uuid.New(),
		Role:             role,
		Identifier:       NormalizeIdentifier(identifier),
		CredentialSecret: secretHash,
		TenantID:         tenantID,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsDeleted reports whether the principal has been soft-deleted
func (p *Principal) IsDeleted() bool {
	return p.DeletedAt != nil
}

// IsActive reports whether the principal may authenticate
func (p *Principal) IsActive() bool {
	return !p.IsDeleted() && p.Status == StatusActive
}

// Summary returns the public view of the principal
func (p *Principal) Summary() PrincipalSummary {
	return PrincipalSummary{
		ID:         p.ID,
		Role:       p.Role,
		Identifier: p.Identifier,
		TenantID:   p.TenantID,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// PrincipalSummary is the principal representation returned to clients
type PrincipalSummary struct {
	ID         uuid.UUID  `json:"id"`
	Role       Role       `json:"role"`
	Identifier string     `json:"identifier"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NormalizeIdentifier trims and lower-cases an email or provider key
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
