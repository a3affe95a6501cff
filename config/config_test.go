package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/sessionguard/models"
	"github.com/upb/sessionguard/services"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"TOKEN_SIGNING_SECRET": testSecret,
				"TOKEN_ISSUER":         "sessionguard",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.True(t, cfg.Database.InitSchema)
				assert.Equal(t, time.Hour, cfg.Token.AccessTTL)
				assert.Equal(t, 168*time.Hour, cfg.Token.RefreshTTL)
				assert.Equal(t, models.RoleMember, cfg.Auth.DefaultRole)
				assert.Equal(t, []models.Role{models.RoleAdmin}, cfg.Auth.ElevatedRoles)
				assert.Equal(t, []models.Role{models.RoleMember, models.RoleViewer}, cfg.Auth.RegistrableRoles)
				assert.Equal(t, 12, cfg.Auth.BcryptCost)
				assert.True(t, cfg.Observability.MetricsEnabled)
				assert.Equal(t, AuditConfig{Enabled: true, BufferSize: 1024, WorkerCount: 2}, cfg.Audit)
			},
		},
		{
			name: "token and auth overrides",
			envVars: map[string]string{
				"TOKEN_SIGNING_SECRET":   testSecret,
				"TOKEN_ISSUER":           "auth.example.com",
				"TOKEN_ACCESS_TTL":       "15m",
				"TOKEN_REFRESH_TTL":      "24h",
				"AUTH_DEFAULT_ROLE":      "viewer",
				"AUTH_ELEVATED_ROLES":    "admin, Moderator",
				"AUTH_REGISTRABLE_ROLES": "viewer",
				"PASSWORD_BCRYPT_COST":   "10",
				"AUDIT_ENABLED":          "false",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "auth.example.com", cfg.Token.Issuer)
				assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
				assert.Equal(t, 24*time.Hour, cfg.Token.RefreshTTL)
				assert.Equal(t, models.RoleViewer, cfg.Auth.DefaultRole)
				assert.Equal(t, []models.Role{models.RoleAdmin, models.RoleModerator}, cfg.Auth.ElevatedRoles)
				assert.Equal(t, []models.Role{models.RoleViewer}, cfg.Auth.RegistrableRoles)
				assert.Equal(t, 10, cfg.Auth.BcryptCost)
				assert.False(t, cfg.Audit.Enabled)
			},
		},
		{
			name: "database url and cors",
			envVars: map[string]string{
				"TOKEN_SIGNING_SECRET": testSecret,
				"TOKEN_ISSUER":         "sessionguard",
				"DATABASE_URL":         "postgres://u:p@db.internal:6543/guard?sslmode=require",
				"CORS_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com,",
				"DB_INIT_SCHEMA":       "false",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres://u:p@db.internal:6543/guard?sslmode=require", cfg.Database.DSN())
				assert.Equal(t, "host=db.internal port=6543 database=guard", cfg.Database.LogString())
				assert.False(t, cfg.Database.InitSchema)
				assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT",
			envVars: map[string]string{
				"TOKEN_SIGNING_SECRET": testSecret,
				"TOKEN_ISSUER":         "sessionguard",
				"PORT":                 "9443",
				"SERVER_PORT":          "9000",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "missing signing secret",
			envVars: map[string]string{
				"TOKEN_ISSUER": "sessionguard",
			},
			wantErr: true,
		},
		{
			name: "missing issuer",
			envVars: map[string]string{
				"TOKEN_SIGNING_SECRET": testSecret,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, services.IsConfigError(err))
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseConfig{
			Host:     "localhost",
			User:     "user",
			Database: "db",
		},
		Token: TokenConfig{
			SigningSecret: testSecret,
			Issuer:        "sessionguard",
			AccessTTL:     time.Hour,
			RefreshTTL:    168 * time.Hour,
		},
		Auth: AuthConfig{
			DefaultRole:      models.RoleMember,
			ElevatedRoles:    []models.Role{models.RoleAdmin},
			RegistrableRoles: []models.Role{models.RoleMember, models.RoleViewer},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{"valid config", func(*Config) {}, false, ""},
		{"short secret", func(c *Config) { c.Token.SigningSecret = "short" }, true, "at least 32 bytes"},
		{"missing issuer", func(c *Config) { c.Token.Issuer = "" }, true, "issuer is required"},
		{"access not shorter than refresh", func(c *Config) { c.Token.AccessTTL = c.Token.RefreshTTL }, true, "shorter than refresh"},
		{"zero ttl", func(c *Config) { c.Token.AccessTTL = 0 }, true, "must be positive"},
		{"unknown default role", func(c *Config) { c.Auth.DefaultRole = "root" }, true, "unknown default role"},
		{"unknown elevated role", func(c *Config) { c.Auth.ElevatedRoles = []models.Role{"superuser"} }, true, "unknown elevated role"},
		{"unknown registrable role", func(c *Config) { c.Auth.RegistrableRoles = []models.Role{"wizard"} }, true, "unknown registrable role"},
		{"administrative registrable role", func(c *Config) {
			c.Auth.RegistrableRoles = []models.Role{models.RoleMember, models.RoleTenantAdmin}
		}, true, "cannot be self-registered"},
		{"moderator registrable by choice", func(c *Config) { c.Auth.RegistrableRoles = []models.Role{models.RoleModerator} }, false, ""},
		{"wildcard cors in production", func(c *Config) {
			c.Environment = "production"
			c.CORS.AllowedOrigins = []string{"https://app.example.com", "*"}
		}, true, "wildcard CORS origin"},
		{"wildcard cors in development", func(c *Config) { c.CORS.AllowedOrigins = []string{"*"} }, false, ""},
		{"missing database host", func(c *Config) { c.Database.Host = "" }, true, "database configuration required"},
		{"missing database user", func(c *Config) { c.Database.User = "" }, true, "database user is required"},
		{"connection string skips field checks", func(c *Config) {
			c.Database = DatabaseConfig{ConnectionString: "postgres://localhost/db"}
		}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, services.IsConfigError(err))
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())
	assert.NotContains(t, cfg.LogString(), "testpass")
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "TEST_INT", "42", 10, 42},
		{"empty value", "TEST_INT", "", 10, 10},
		{"invalid int", "TEST_INT", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsInt(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))

	os.Setenv("TEST_DURATION", "ninety")
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
}
