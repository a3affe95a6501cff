package middleware

import (
	"context"

	"github.com/upb/sessionguard/services/guard"
)

type contextKey string

// AuthContextKey is the context key for the verified caller
const AuthContextKey contextKey = "auth_context"

// WithAuthContext adds the verified caller to the context
func WithAuthContext(ctx context.Context, ac *guard.AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}

// GetAuthContext retrieves the verified caller from context, or nil
func GetAuthContext(ctx context.Context) *guard.AuthContext {
	if val := ctx.Value(AuthContextKey); val != nil {
		if ac, ok := val.(*guard.AuthContext); ok {
			return ac
		}
	}
	return nil
}
