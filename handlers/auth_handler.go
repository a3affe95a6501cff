package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/sessionguard/internal/observability"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/services/session"
	"github.com/upb/sessionguard/utils"
)

// RegisterRequest represents a self-registration request. It has no tenant
// field: a body naming tenant_id is rejected as an unknown field.
type RegisterRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Secret     string `json:"secret" validate:"required,min=8,max=72"`
	Role       string `json:"role,omitempty" validate:"omitempty,role"`
}

// LoginRequest represents a login request. The secret has no minimum
// length so a short wrong secret fails like any other wrong secret.
type LoginRequest struct {
	Identifier string     `json:"identifier" validate:"required,max=320"`
	Secret     string     `json:"secret" validate:"required,max=1024"`
	Role       string     `json:"role,omitempty" validate:"max=64"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
}

// RefreshRequest carries the refresh token in the body
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// SessionService defines the session operations the handler needs
type SessionService interface {
	Login(ctx context.Context, input session.LoginInput) (*models.SessionResult, error)
	Refresh(ctx context.Context, refreshToken string) (*models.SessionResult, error)
	Register(ctx context.Context, input session.RegisterInput) (*models.PrincipalSummary, error)
}

// AuthHandler handles session endpoints
type AuthHandler struct {
	sessions SessionService
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(sessions SessionService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// HandleRegister handles POST /api/v1/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequest(r.Context(), h.logger)

	var req RegisterRequest
	if !decodeAndValidate(w, r, &req, logger) {
		return
	}

	summary, err := h.sessions.Register(r.Context(), session.RegisterInput{
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

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequest(r.Context(), h.logger)

	var req LoginRequest
	if !decodeAndValidate(w, r, &req, logger) {
		return
	}

	result, err := h.sessions.Login(r.Context(), session.LoginInput{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		Role:       req.Role,
		TenantID:   req.TenantID,
	})
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleRefresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequest(r.Context(), h.logger)

	var req RefreshRequest
	if !decodeAndValidate(w, r, &req, logger) {
		return
	}

	result, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	_ = utils.WriteOK(w, result)
}
