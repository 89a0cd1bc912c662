package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/monitoring"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
}

// DatabaseHealthChecker checks that the record store is reachable.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
}

// poolStats is implemented by stores that expose connection pool statistics.
type poolStats interface {
	Health() map[string]any
}

// BackupHealthProvider computes backup system health snapshots.
type BackupHealthProvider interface {
	SystemHealth(ctx context.Context) *monitoring.SystemHealth
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db      DatabaseHealthChecker
	monitor BackupHealthProvider
	logger  zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db DatabaseHealthChecker, monitor BackupHealthProvider, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		monitor: monitor,
		logger:  logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the health routes.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/backups", h.Backups)
	}
}

// Overall reports whether the process can reach its record store.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbResult := h.checkDatabase(ctx)
	response := &HealthResponse{
		Status: dbResult.Status,
		Checks: map[string]*HealthCheckResult{"database": dbResult},
	}

	if dbResult.Status == HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Backups returns the backup system health snapshot. Critical health is
// reported as 503 so load balancers and probes can act on it.
// GET /health/backups
func (h *HealthHandler) Backups(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	snapshot := h.monitor.SystemHealth(ctx)
	if snapshot.OverallStatus == monitoring.StatusCritical {
		c.JSON(http.StatusServiceUnavailable, snapshot)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Status: HealthStatusHealthy}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "record store not configured"
		return result
	}

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("record store health check failed")
		result.Status = HealthStatusUnhealthy
		result.Error = "record store unreachable"
		result.Duration = time.Since(start).String()
		return result
	}

	result.Duration = time.Since(start).String()
	if ps, ok := h.db.(poolStats); ok {
		result.Details = ps.Health()
	}
	return result
}
