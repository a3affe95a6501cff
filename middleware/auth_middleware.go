package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/sessionguard/internal/observability"
	"github.com/upb/sessionguard/services"
	"github.com/upb/sessionguard/services/guard"
	"github.com/upb/sessionguard/utils"
)

// AuthMiddleware puts the guard in front of handlers
type AuthMiddleware struct {
	guard  *guard.Guard
	logger *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(g *guard.Guard, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		guard:  g,
		logger: logger,
	}
}

// RequireAuth rejects requests without a valid bearer access token and
// stores the AuthContext for the handlers behind it.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.WithRequest(ctx, m.logger)

		ac, err := m.guard.AuthenticateRequest(r)
		if err != nil {
			logger.Warn("authentication failed", zap.Error(err))
			_ = utils.WriteUnauthorized(w, services.GetErrorMessage(err))
			return
		}

		logger.Debug("authentication successful",
			zap.String("principal_id", ac.PrincipalID.String()),
			zap.String("role", ac.Role.String()))

		next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, ac)))
	})
}
