package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/sessionguard/services/audit"
	"github.com/upb/sessionguard/utils"
)

const readinessTimeout = 2 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Details   map[string]int    `json:"details,omitempty"`
}

// AuditStats reports the state of the audit trail writer
type AuditStats interface {
	GetStats() audit.Stats
}

// HealthHandler handles liveness and readiness checks
type HealthHandler struct {
	db     *sql.DB
	audit  AuditStats
	logger *zap.Logger
}

// HealthOption configures a HealthHandler
type HealthOption func(*HealthHandler)

// WithAuditStats adds the audit writer to readiness. A stopped writer makes
// the service not ready.
func WithAuditStats(a AuditStats) HealthOption {
	return func(h *HealthHandler) {
		h.audit = a
	}
}

// NewHealthHandler creates a new HealthHandler. A nil db is never ready.
func NewHealthHandler(db *sql.DB, logger *zap.Logger, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		db:     db,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{},
	}
	httpStatus := http.StatusOK

	switch err := h.checkDatabase(ctx); {
	case h.db == nil:
		response.Checks["database"] = "not_initialized"
	case err != nil:
		h.logger.Warn("database health check failed", zap.Error(err))
		response.Checks["database"] = "unhealthy"
	default:
		response.Checks["database"] = "healthy"
	}

	auditReady := true
	if h.audit != nil {
		stats := h.audit.GetStats()
		response.Details = map[string]int{
			"audit_buffer_size": stats.BufferSize,
			"audit_pending":     stats.PendingEvents,
			"audit_dropped":     stats.Dropped,
			"audit_workers":     stats.WorkerCount,
		}
		response.Checks["audit"] = "running"
		if !stats.Started {
			response.Checks["audit"] = "stopped"
			auditReady = false
		}
	}

	if response.Checks["database"] != "healthy" || !auditReady {
		response.Status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
