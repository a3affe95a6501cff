package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantAdmin is a principal's administrative assignment to a tenant.
type TenantAdmin struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	PrincipalID uuid.UUID  `json:"principal_id" db:"principal_id"`
	TenantID    uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Active      bool       `json:"active" db:"active"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the TenantAdmin model
func (TenantAdmin) TableName() string {
	return "tenant_admins"
}

// NewTenantAdmin creates an active assignment
func NewTenantAdmin(principalID, tenantID uuid.UUID) *TenantAdmin {
	return &TenantAdmin{
		ID:          uuid.New(),
		PrincipalID: principalID,
		TenantID:    tenantID,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
}

// InEffect reports whether the assignment currently grants tenant administration
func (a *TenantAdmin) InEffect() bool {
	return a.Active && a.DeletedAt == nil
}
