// Package api serves the read-only ops endpoints of the backup process.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/api/handlers"
	"github.com/MacJediWizard/freightdesk/internal/api/middleware"
)

// Config holds configuration for the ops router.
type Config struct {
	// RateLimitRequests is the number of requests allowed per client per period.
	RateLimitRequests int64
	// RateLimitPeriod is a duration string such as "1m".
	RateLimitPeriod string
	Version         string
	Commit          string
	BuildDate       string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 120,
		RateLimitPeriod:   "1m",
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Deps are the collaborators behind the endpoints. Gatherer may be nil.
type Deps struct {
	Database handlers.DatabaseHealthChecker
	Monitor  handlers.BackupHealthProvider
	Service  handlers.StatusProvider
	Gatherer prometheus.Gatherer
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a Router serving /health, /health/backups, /status,
// /backups, /metrics and /version.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	handlers.NewHealthHandler(deps.Database, deps.Monitor, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewStatusHandler(deps.Service, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewMetricsHandler(deps.Gatherer).RegisterPublicRoutes(r.Engine)
	handlers.RegisterVersionRoute(r.Engine, handlers.VersionInfo{
		Version:   cfg.Version,
		Commit:    cfg.Commit,
		BuildDate: cfg.BuildDate,
	})

	r.logger.Debug().Msg("ops routes registered")
	return r, nil
}
