package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/sessionguard/internal/observability"
	"github.com/upb/sessionguard/middleware"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/services"
	"github.com/upb/sessionguard/services/guard"
	"github.com/upb/sessionguard/services/session"
	"github.com/upb/sessionguard/utils"
)

// UpdatePrincipalRequest represents a self-service update
type UpdatePrincipalRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
}

// SetStatusRequest represents an administrative status change
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,status"`
}

// AssignTenantAdminRequest names the principal to promote
type AssignTenantAdminRequest struct {
	PrincipalID uuid.UUID `json:"principal_id" validate:"required"`
}

// EnrollRequest describes a principal created inside a tenant
type EnrollRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Secret     string `json:"secret" validate:"required,min=8,max=72"`
	Role       string `json:"role,omitempty" validate:"omitempty,role"`
}

// PrincipalService defines the principal operations the handler needs
type PrincipalService interface {
	Get(ctx context.Context, ac *guard.AuthContext, id uuid.UUID) (*models.PrincipalSummary, error)
	UpdateIdentifier(ctx context.Context, ac *guard.AuthContext, id uuid.UUID, identifier string) (*models.PrincipalSummary, error)
	Delete(ctx context.Context, ac *guard.AuthContext, id uuid.UUID) error
	ListTenant(ctx context.Context, ac *guard.AuthContext, tenantID uuid.UUID, limit, offset int) ([]models.PrincipalSummary, error)
	Enroll(ctx context.Context, ac *guard.AuthContext, tenantID uuid.UUID, input session.RegisterInput) (*models.PrincipalSummary, error)
	ListAll(ctx context.Context, ac *guard.AuthContext, limit, offset int) ([]models.PrincipalSummary, error)
	SetStatus(ctx context.Context, ac *guard.AuthContext, id uuid.UUID, status models.Status) (*models.PrincipalSummary, error)
	AssignTenantAdmin(ctx context.Context, ac *guard.AuthContext, tenantID, principalID uuid.UUID) (*models.TenantAdmin, error)
	History(ctx context.Context, ac *guard.AuthContext, id uuid.UUID, limit, offset int) ([]*models.AuditEvent, error)
}

// PrincipalHandler handles principal resources. Every route sits behind
// RequireAuth.
type PrincipalHandler struct {
	principals PrincipalService
	logger     *zap.Logger
}

// NewPrincipalHandler creates a new PrincipalHandler
func NewPrincipalHandler(principals PrincipalService, logger *zap.Logger) *PrincipalHandler {
	return &PrincipalHandler{
		principals: principals,
		logger:     logger,
	}
}

// HandleMe handles GET /api/v1/principals/me
func (h *PrincipalHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}

	summary, err := h.principals.Get(r.Context(), ac, ac.PrincipalID)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleList handles GET /api/v1/principals
func (h *PrincipalHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	list, err := h.principals.ListAll(r.Context(), ac, limit, offset)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, list)
}

// HandleGet handles GET /api/v1/principals/{id}
func (h *PrincipalHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	summary, err := h.principals.Get(r.Context(), ac, id)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleUpdate handles PUT /api/v1/principals/{id}
func (h *PrincipalHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdatePrincipalRequest
	if !decodeAndValidate(w, r, &req, logger) {
		return
	}

	summary, err := h.principals.UpdateIdentifier(r.Context(), ac, id, req.Identifier)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleDelete handles DELETE /api/v1/principals/{id}
func (h *PrincipalHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.principals.Delete(r.Context(), ac, id); err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleSetStatus handles PUT /api/v1/principals/{id}/status
func (h *PrincipalHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req SetStatusRequest
	if !decodeAndValidate(w, r, &req, logger) {
		return
	}

	summary, err := h.principals.SetStatus(r.Context(), ac, id, models.Status(req.Status))
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleHistory handles GET /api/v1/principals/{id}/audit
func (h *PrincipalHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	events, err := h.principals.History(r.Context(), ac, id, limit, offset)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, events)
}

// HandleListTenant handles GET /api/v1/tenants/{tenantID}/principals
func (h *PrincipalHandler) HandleListTenant(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	tenantID, ok := pathUUID(w, r, "tenantID")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	list, err := h.principals.ListTenant(r.Context(), ac, tenantID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, list)
}

// HandleEnroll handles POST /api/v1/tenants/{tenantID}/principals
func (h *PrincipalHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	tenantID, ok := pathUUID(w, r, "tenantID")
	if !ok {
		return
	}

	var req EnrollRequest
	if !decodeAndValidate(w, r, &req, logger) {
		return
	}

	summary, err := h.principals.Enroll(r.Context(), ac, tenantID, session.RegisterInput{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		Role:       req.Role,
	})
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteCreated(w, summary)
}

// HandleAssignTenantAdmin handles POST /api/v1/tenants/{tenantID}/admins
func (h *PrincipalHandler) HandleAssignTenantAdmin(w http.ResponseWriter, r *http.Request) {
	ac, logger, ok := h.caller(w, r)
	if !ok {
		return
	}
	tenantID, ok := pathUUID(w, r, "tenantID")
	if !ok {
		return
	}

	var req AssignTenantAdminRequest
	if !decodeAndValidate(w, r, &req, logger) {
		return
	}

	assignment, err := h.principals.AssignTenantAdmin(r.Context(), ac, tenantID, req.PrincipalID)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteCreated(w, assignment)
}

func (h *PrincipalHandler) caller(w http.ResponseWriter, r *http.Request) (*guard.AuthContext, *zap.Logger, bool) {
	logger := observability.WithRequest(r.Context(), h.logger)
	ac := middleware.GetAuthContext(r.Context())
	if ac == nil {
		logger.Error("auth context not found")
		_ = utils.WriteUnauthorized(w, services.ErrUnauthenticated.Message)
		return nil, logger, false
	}
	return ac, logger.With(zap.String("principal_id", ac.PrincipalID.String())), true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		_ = utils.WriteBadRequest(w, "invalid "+name+" format", nil)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	limit, offset := 0, 0
	var err error

	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			_ = utils.WriteBadRequest(w, "invalid limit", nil)
			return 0, 0, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			_ = utils.WriteBadRequest(w, "invalid offset", nil)
			return 0, 0, false
		}
	}
	return limit, offset, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}
