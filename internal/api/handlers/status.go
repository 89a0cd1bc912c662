package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/backup"
	"github.com/MacJediWizard/freightdesk/internal/models"
)

const maxHistoryLimit = 100

// StatusProvider reports backup statistics and history.
type StatusProvider interface {
	GetBackupStatus(ctx context.Context) *backup.Status
	GetBackupHistory(ctx context.Context, limit int) []*models.Backup
}

// StatusResponse is the response for GET /status.
type StatusResponse struct {
	backup.StatusStats
	SuccessRate    float64  `json:"success_rate"`
	IsHealthy      bool     `json:"is_healthy"`
	HealthMessages []string `json:"health_messages"`
}

// HistoryResponse is the response for GET /backups.
type HistoryResponse struct {
	Backups []*models.Backup `json:"backups"`
	Count   int              `json:"count"`
}

// StatusHandler serves backup status and history.
type StatusHandler struct {
	service StatusProvider
	logger  zerolog.Logger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(service StatusProvider, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		service: service,
		logger:  logger.With().Str("component", "status_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the status routes.
func (h *StatusHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/status", h.Status)
	r.GET("/backups", h.History)
}

// Status returns aggregated backup statistics.
// GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	st := h.service.GetBackupStatus(ctx)
	c.JSON(http.StatusOK, StatusResponse{
		StatusStats:    st.Stats,
		SuccessRate:    st.SuccessRate(),
		IsHealthy:      st.IsHealthy(),
		HealthMessages: st.HealthMessages(),
	})
}

// History returns the newest backups.
// GET /backups?limit=N
func (h *StatusHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	backups := h.service.GetBackupHistory(c.Request.Context(), limit)
	c.JSON(http.StatusOK, HistoryResponse{Backups: backups, Count: len(backups)})
}
