package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/sessionguard/app"
	"github.com/upb/sessionguard/config"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/security"
)

func testDeps(t *testing.T) *app.Dependencies {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RequestTimeout: 5 * time.Second},
		Token: config.TokenConfig{
			SigningSecret: "0123456789abcdef0123456789abcdef",
			Issuer:        "sessionguard-test",
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Auth: config.AuthConfig{
			DefaultRole:   models.RoleMember,
			ElevatedRoles: []models.Role{models.RoleAdmin},
			BcryptCost:    4,
		},
		CORS:          config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		Observability: config.ObservabilityConfig{LogLevel: "debug", MetricsEnabled: true},
	}
	deps, err := app.NewInMemoryDependencies(cfg, zap.NewNop())
	require.NoError(t, err)
	return deps
}

func call(t *testing.T, h http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type sessionBody struct {
	Data models.SessionResult `json:"data"`
}

func login(t *testing.T, h http.Handler, identifier, secret string) models.SessionResult {
	t.Helper()
	w := call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"identifier": identifier, "secret": secret})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body sessionBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Data
}

func register(t *testing.T, h http.Handler, identifier, secret string) models.PrincipalSummary {
	t.Helper()
	w := call(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"identifier": identifier, "secret": secret})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data models.PrincipalSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Data
}

// seed stores a principal directly, for roles that cannot be self-registered
func seed(t *testing.T, deps *app.Dependencies, identifier, secret string, role models.Role, tenant *uuid.UUID) *models.Principal {
	t.Helper()
	hash, err := security.NewHasher(4).Hash(secret)
	require.NoError(t, err)
	p := models.NewPrincipal(identifier, hash, role, tenant)
	require.NoError(t, deps.Repositories.Principals.Create(context.Background(), p))
	return p
}

func loginAs(t *testing.T, h http.Handler, body map[string]interface{}) models.SessionResult {
	t.Helper()
	w := call(t, h, http.MethodPost, "/api/v1/auth/login", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp sessionBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Data
}

func TestSessionLifecycle(t *testing.T) {
	h := SetupRoutes(testDeps(t))

	registered := register(t, h, "u1@example.com", "s3cret123")

	session := login(t, h, "u1@example.com", "s3cret123")
	assert.NotEmpty(t, session.Token.Access)
	assert.NotEmpty(t, session.Token.Refresh)
	assert.Less(t, session.Token.ExpiredAt, session.Token.RefreshableUntil)

	w := call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"identifier": "u1@example.com", "secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, h, http.MethodGet, "/api/v1/principals/me", session.Token.Access, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// the refresh token is not an access token
	w = call(t, h, http.MethodGet, "/api/v1/principals/me", session.Token.Refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, h, http.MethodDelete, "/api/v1/principals/"+registered.ID.String(), session.Token.Access, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"identifier": "u1@example.com", "secret": "s3cret123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, h, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": session.Token.Refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "principal no longer exists")
}

func TestOwnershipAcrossPrincipals(t *testing.T) {
	h := SetupRoutes(testDeps(t))

	a := register(t, h, "a@example.com", "s3cret123")
	b := register(t, h, "b@example.com", "s3cret123")
	sessionA := login(t, h, "a@example.com", "s3cret123")

	w := call(t, h, http.MethodGet, "/api/v1/principals/"+b.ID.String(), sessionA.Token.Access, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(t, h, http.MethodGet, "/api/v1/principals/"+a.ID.String(), sessionA.Token.Access, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, h, http.MethodGet, "/api/v1/principals", sessionA.Token.Access, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTenantMembershipIsGranted(t *testing.T) {
	deps := testDeps(t)
	h := SetupRoutes(deps)
	tenant := uuid.New()
	seed(t, deps, "root@example.com", "s3cret123", models.RoleAdmin, nil)
	admin := loginAs(t, h, map[string]interface{}{"identifier": "root@example.com", "secret": "s3cret123", "role": "admin"})

	tenantPath := "/api/v1/tenants/" + tenant.String() + "/principals"
	w := call(t, h, http.MethodPost, tenantPath, admin.Token.Access,
		map[string]string{"identifier": "alice@victim.example", "secret": "s3cret123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// naming a tenant at self-registration is refused outright
	w = call(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"identifier": "mallory@evil.example",
		"secret":     "s3cret123",
		"tenant_id":  tenant.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	outsider := register(t, h, "mallory@evil.example", "s3cret123")
	assert.Nil(t, outsider.TenantID)
	mallory := login(t, h, "mallory@evil.example", "s3cret123")

	w = call(t, h, http.MethodGet, tenantPath, mallory.Token.Access, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "alice@victim.example")

	w = call(t, h, http.MethodPost, tenantPath, mallory.Token.Access,
		map[string]string{"identifier": "mallory2@evil.example", "secret": "s3cret123"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// the tenant login only matches the enrolled principal
	w = call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]interface{}{
		"identifier": "mallory@evil.example", "secret": "s3cret123", "tenant_id": tenant.String(),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	alice := loginAs(t, h, map[string]interface{}{"identifier": "alice@victim.example", "secret": "s3cret123", "tenant_id": tenant.String()})
	w = call(t, h, http.MethodGet, tenantPath, alice.Token.Access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice@victim.example")
	assert.NotContains(t, w.Body.String(), "mallory@evil.example")
}

func TestStatusChangesFollowRoleHierarchy(t *testing.T) {
	deps := testDeps(t)
	h := SetupRoutes(deps)

	w := call(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"identifier": "attacker@example.com", "secret": "s3cret123", "role": "moderator",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	admin := seed(t, deps, "root@example.com", "s3cret123", models.RoleAdmin, nil)
	peer := seed(t, deps, "mod2@example.com", "s3cret123", models.RoleModerator, nil)
	seed(t, deps, "mod@example.com", "s3cret123", models.RoleModerator, nil)
	victim := register(t, h, "victim@example.com", "s3cret123")
	mod := loginAs(t, h, map[string]interface{}{"identifier": "mod@example.com", "secret": "s3cret123", "role": "moderator"})

	suspend := map[string]string{"status": "suspended"}
	w = call(t, h, http.MethodPut, "/api/v1/principals/"+admin.ID.String()+"/status", mod.Token.Access, suspend)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = call(t, h, http.MethodPut, "/api/v1/principals/"+peer.ID.String()+"/status", mod.Token.Access, suspend)
	assert.Equal(t, http.StatusForbidden, w.Code)

	loginAs(t, h, map[string]interface{}{"identifier": "root@example.com", "secret": "s3cret123", "role": "admin"})

	w = call(t, h, http.MethodPut, "/api/v1/principals/"+victim.ID.String()+"/status", mod.Token.Access, suspend)
	assert.Equal(t, http.StatusOK, w.Code)
	w = call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"identifier": "victim@example.com", "secret": "s3cret123"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListAllRunsOneRoleCheck(t *testing.T) {
	deps := testDeps(t)
	h := SetupRoutes(deps)
	seed(t, deps, "root@example.com", "s3cret123", models.RoleAdmin, nil)
	admin := loginAs(t, h, map[string]interface{}{"identifier": "root@example.com", "secret": "s3cret123", "role": "admin"})

	w := call(t, h, http.MethodGet, "/api/v1/principals", admin.Token.Access, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sessionguard_authorization_decisions_total{check="role",decision="allow"} 1`+"\n")
}

func TestPublicEndpoints(t *testing.T) {
	h := SetupRoutes(testDeps(t))

	t.Run("healthz", func(t *testing.T) {
		w := call(t, h, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("readyz without database", func(t *testing.T) {
		w := call(t, h, http.MethodGet, "/readyz", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "not_ready")
	})

	t.Run("metrics", func(t *testing.T) {
		call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"identifier": "ghost@example.com", "secret": "x"})

		w := call(t, h, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `sessionguard_logins_total{outcome="invalid_credentials"} 1`)
	})

	t.Run("unknown route", func(t *testing.T) {
		w := call(t, h, http.MethodGet, "/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "endpoint not found")
	})

	t.Run("request id header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/principals/me", nil)
		req.Header.Set("X-Request-Id", "req-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("WWW-Authenticate"), "Bearer"))
	})
}

func TestCORSPreflight(t *testing.T) {
	h := SetupRoutes(testDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
