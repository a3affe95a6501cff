package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names a security-relevant event
type AuditAction string

const (
	AuditActionLogin             AuditAction = "session.login"
	AuditActionRefresh           AuditAction = "session.refresh"
	AuditActionRegister          AuditAction = "principal.register"
	AuditActionEnroll            AuditAction = "principal.enroll"
	AuditActionDelete            AuditAction = "principal.delete"
	AuditActionStatusChange      AuditAction = "principal.status"
	AuditActionTenantAdminAssign AuditAction = "tenant_admin.assign"
)

// AuditEvent is one entry of the audit trail. It never carries secrets or
// tokens. PrincipalID is the subject of the event and stays nil when a login
// names an identifier that matches nobody.
type AuditEvent struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Action      AuditAction `json:"action" db:"action"`
	Outcome     string      `json:"outcome" db:"outcome"`
	PrincipalID *uuid.UUID  `json:"principal_id,omitempty" db:"principal_id"`
	ActorID     *uuid.UUID  `json:"actor_id,omitempty" db:"actor_id"`
	TenantID    *uuid.UUID  `json:"tenant_id,omitempty" db:"tenant_id"`
	Detail      string      `json:"detail,omitempty" db:"detail"`
	RequestID   string      `json:"request_id,omitempty" db:"request_id"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates an event stamped with the current time
func NewAuditEvent(action AuditAction, outcome string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		Action:    action,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
}

// About sets the subject principal
func (e *AuditEvent) About(principalID uuid.UUID) *AuditEvent {
	id := principalID
	e.PrincipalID = &id
	return e
}

// By sets the acting principal
func (e *AuditEvent) By(actorID uuid.UUID) *AuditEvent {
	id := actorID
	e.ActorID = &id
	return e
}

// InTenant sets the tenant scope; nil leaves it unset
func (e *AuditEvent) InTenant(tenantID *uuid.UUID) *AuditEvent {
	if tenantID != nil {
		id := *tenantID
		e.TenantID = &id
	}
	return e
}
