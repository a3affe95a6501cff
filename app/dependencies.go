package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/sessionguard/config"
	"github.com/upb/sessionguard/handlers"
	"github.com/upb/sessionguard/internal/observability"
	"github.com/upb/sessionguard/middleware"
	"github.com/upb/sessionguard/repositories"
	"github.com/upb/sessionguard/repositories/memory"
	"github.com/upb/sessionguard/repositories/postgres"
	"github.com/upb/sessionguard/security"
	"github.com/upb/sessionguard/services/audit"
	"github.com/upb/sessionguard/services/guard"
	"github.com/upb/sessionguard/services/principal"
	"github.com/upb/sessionguard/services/session"
	"github.com/upb/sessionguard/services/token"
)

const defaultAuditStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.AuthMetrics

	// Repository Factory, nil when running on the in-memory store
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager

	// Services
	Audit      *audit.Service // nil when the audit trail is disabled
	Codec      *token.Codec
	Guard      *guard.Guard
	Sessions   *session.Service
	Principals *principal.Service

	// HTTP
	AuthMiddleware   *middleware.AuthMiddleware
	AuthHandler      *handlers.AuthHandler
	PrincipalHandler *handlers.PrincipalHandler
	HealthHandler    *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies on
// PostgreSQL. Signing configuration is checked before the database is
// touched so a bad secret fails fast.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initCodec(); err != nil {
		return nil, err
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.Repositories = deps.RepoFactory.NewRepositories()
	deps.TxManager = deps.RepoFactory.GetTransactionManager()
	if err := deps.initServices(); err != nil {
		return nil, err
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// NewInMemoryDependencies wires the application on the in-memory store.
// Readiness always reports the database as not initialized.
func NewInMemoryDependencies(cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initCodec(); err != nil {
		return nil, err
	}

	store := memory.NewStore()
	deps.Repositories = store.Repositories()
	deps.TxManager = store.TransactionManager()
	if err := deps.initServices(); err != nil {
		return nil, err
	}

	logger.Warn("using in-memory credential store, data is not persisted")
	return deps, nil
}

func (d *Dependencies) initCodec() error {
	codec, err := token.NewCodec(token.Config{
		Secret:     d.Config.Token.SigningSecret,
		Issuer:     d.Config.Token.Issuer,
		AccessTTL:  d.Config.Token.AccessTTL,
		RefreshTTL: d.Config.Token.RefreshTTL,
	})
	if err != nil {
		return err
	}
	d.Codec = codec
	return nil
}

// initDatabase opens the pool, pings it and optionally creates the schema
func (d *Dependencies) initDatabase(ctx context.Context) error {
	factory, err := postgres.NewRepositoryFactory(d.Config.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if d.Config.Database.InitSchema {
		if err := d.DB.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

func (d *Dependencies) initServices() error {
	if d.Config.Observability.MetricsEnabled {
		d.Metrics = observability.NewAuthMetrics()
	}

	if d.Config.Audit.Enabled {
		d.Audit = audit.NewService(d.Repositories.Audit, d.Logger, audit.Config{
			BufferSize:  d.Config.Audit.BufferSize,
			WorkerCount: d.Config.Audit.WorkerCount,
		})
		if err := d.Audit.Start(); err != nil {
			return fmt.Errorf("failed to start audit service: %w", err)
		}
	}

	hasher := security.NewHasher(d.Config.Auth.BcryptCost)

	d.Guard = guard.New(d.Codec, d.Repositories.TenantAdmins, d.Logger, guard.WithMetrics(d.Metrics))
	d.Sessions = session.NewService(
		d.Repositories.Principals,
		d.TxManager,
		d.Codec,
		hasher,
		d.Config.Auth.DefaultRole,
		d.Logger,
		session.WithMetrics(d.Metrics),
		session.WithAudit(d.Audit),
		session.WithRegistrableRoles(d.Config.Auth.RegistrableRoles...),
	)
	d.Principals = principal.NewService(
		d.Repositories,
		d.TxManager,
		d.Guard,
		d.Sessions,
		d.Config.Auth.ElevatedRoles,
		d.Logger,
		principal.WithAudit(d.Audit),
	)

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Guard, d.Logger)
	d.AuthHandler = handlers.NewAuthHandler(d.Sessions, d.Logger)
	d.PrincipalHandler = handlers.NewPrincipalHandler(d.Principals, d.Logger)
	var healthOpts []handlers.HealthOption
	if d.Audit != nil {
		healthOpts = append(healthOpts, handlers.WithAuditStats(d.Audit))
	}
	d.HealthHandler = handlers.NewHealthHandler(d.sqlDB(), d.Logger, healthOpts...)

	d.Logger.Info("services initialized",
		zap.String("issuer", d.Config.Token.Issuer),
		zap.Duration("access_ttl", d.Codec.AccessTTL()),
		zap.Duration("refresh_ttl", d.Codec.RefreshTTL()),
		zap.Int("bcrypt_cost", hasher.Cost()),
		zap.Bool("audit", d.Audit != nil))
	return nil
}

func (d *Dependencies) sqlDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// drain the audit queue while the database is still open
	if d.Audit != nil {
		timeout := defaultAuditStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
