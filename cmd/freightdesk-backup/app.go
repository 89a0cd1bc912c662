package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/backup"
	"github.com/MacJediWizard/freightdesk/internal/config"
	"github.com/MacJediWizard/freightdesk/internal/db"
	"github.com/MacJediWizard/freightdesk/internal/lock"
	"github.com/MacJediWizard/freightdesk/internal/metrics"
	"github.com/MacJediWizard/freightdesk/internal/models"
	"github.com/MacJediWizard/freightdesk/internal/monitoring"
	"github.com/MacJediWizard/freightdesk/internal/notifications"
	"github.com/MacJediWizard/freightdesk/internal/storage"
)

// recordStore is implemented by both the PostgreSQL and SQLite stores.
type recordStore interface {
	backup.RecordStore
	ListActiveSchedules(ctx context.Context) ([]*models.BackupSchedule, error)
	UpdateScheduleRun(ctx context.Context, s *models.BackupSchedule) error
	Ping(ctx context.Context) error
	Close() error
}

// app holds the process wiring shared by the subcommands.
type app struct {
	server   config.ServerConfig
	provider *config.KoanfProvider
	cfg      *config.BackupConfig
	logger   zerolog.Logger

	database *backup.DatabaseHandler
	files    *backup.FileHandler

	store    recordStore
	registry *prometheus.Registry
	metrics  *metrics.PrometheusMetrics
	closers  []func() error
}

// loadApp reads configuration and builds the handlers. It performs no I/O
// beyond reading the config file.
func loadApp(flags *globalFlags) (*app, error) {
	server := config.LoadServerConfig()

	provider, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg := config.NewBackupConfig(provider)
	logger := newLogger(server)

	return &app{
		server:   server,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		database: backup.NewDatabaseHandler(cfg, backup.NewPathLocator(cfg.DumpBinary()), logger),
		files:    backup.NewFileHandler(cfg, logger),
	}, nil
}

func newLogger(server config.ServerConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(server.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("version", Version).Logger().Level(level)
	if !server.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger
}

// openStore connects to the configured record store and applies migrations.
func (a *app) openStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.server.RecordStore {
	case config.StorePostgres:
		if a.server.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres record store")
		}
		database, err := db.New(ctx, db.DefaultConfig(a.server.DatabaseURL), a.logger)
		if err != nil {
			return fmt.Errorf("connect to record store: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return fmt.Errorf("migrate record store: %w", err)
		}
		a.store = database
	default:
		store, err := db.NewSQLiteStore(ctx, a.server.SQLitePath, a.logger)
		if err != nil {
			return fmt.Errorf("open record store: %w", err)
		}
		a.store = store
	}

	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *app) initMetrics() error {
	if a.metrics != nil {
		return nil
	}
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewPrometheusMetrics(a.registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = m
	return nil
}

func (a *app) newLocker() (lock.Locker, error) {
	switch a.cfg.LockDriver() {
	case "redis":
		settings := a.cfg.Redis()
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Addr,
			Password: settings.Password,
			DB:       settings.DB,
		})
		a.closers = append(a.closers, client.Close)
		return lock.NewRedisLocker(client, "freightdesk:"), nil
	case "", "local":
		dir := filepath.Join(storage.ResolveBackupPath(a.cfg.StoragePath(), a.cfg.DiskRoot()), ".locks")
		return lock.NewFileLocker(dir), nil
	case "memory":
		return lock.NewLocalLocker(), nil
	default:
		return nil, fmt.Errorf("unsupported lock driver %q", a.cfg.LockDriver())
	}
}

// newDispatcher returns nil when the notification channels cannot be built.
func (a *app) newDispatcher() *notifications.Dispatcher {
	d, err := notifications.NewDispatcher(a.cfg, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("notifications disabled")
		return nil
	}
	return d
}

// newService wires the orchestrator with every configured collaborator.
func (a *app) newService(ctx context.Context) (*backup.Service, error) {
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initMetrics(); err != nil {
		return nil, err
	}

	locker, err := a.newLocker()
	if err != nil {
		return nil, err
	}

	meter, err := storage.NewMeter(ctx, a.cfg)
	if err != nil {
		return nil, err
	}

	deps := backup.Deps{
		Config:   a.cfg,
		Store:    a.store,
		Database: a.database,
		Files:    a.files,
		Locker:   locker,
		Usage:    meter,
		Metrics:  a.metrics,
	}
	if d := a.newDispatcher(); d != nil {
		deps.Notifier = d
	}

	if offsite := a.cfg.Offsite(); offsite.Enabled {
		client, err := storage.NewS3Client(ctx, offsite)
		if err != nil {
			return nil, fmt.Errorf("configure off-site storage: %w", err)
		}
		deps.Uploader = storage.NewS3Uploader(client, offsite.Bucket, offsite.Prefix, a.logger)
	}

	return backup.NewService(deps, a.logger), nil
}

// newMonitor wires the health monitor.
func (a *app) newMonitor(ctx context.Context) (*monitoring.BackupMonitor, error) {
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initMetrics(); err != nil {
		return nil, err
	}

	meter, err := storage.NewMeter(ctx, a.cfg)
	if err != nil {
		return nil, err
	}

	deps := monitoring.Deps{
		Config:  a.cfg,
		Store:   a.store,
		Usage:   meter,
		Metrics: a.metrics,
		Disk:    storage.FreeSpace,
	}
	if d := a.newDispatcher(); d != nil {
		deps.Alerter = d
	}
	return monitoring.NewBackupMonitor(deps, a.logger), nil
}

// Close releases every resource opened by the app, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
