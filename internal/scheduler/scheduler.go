// Package scheduler triggers backup runs for active BackupSchedule records
// using cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/backup"
	"github.com/MacJediWizard/freightdesk/internal/models"
)

// Store defines the schedule persistence the scheduler needs.
type Store interface {
	ListActiveSchedules(ctx context.Context) ([]*models.BackupSchedule, error)
	UpdateScheduleRun(ctx context.Context, s *models.BackupSchedule) error
}

// Runner starts backup runs.
type Runner interface {
	CreateManualBackup(ctx context.Context, opts backup.Options) *backup.Result
}

// Config holds configuration for the scheduler.
type Config struct {
	// RefreshInterval is how often to reload schedules from the store.
	RefreshInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{RefreshInterval: 5 * time.Minute}
}

type entry struct {
	id   cron.EntryID
	expr string
}

// Scheduler runs backups for active schedules.
type Scheduler struct {
	store   Store
	runner  Runner
	config  Config
	cron    *cron.Cron
	now     func() time.Time
	logger  zerolog.Logger
	mu      sync.RWMutex
	entries map[uuid.UUID]entry
	running bool
	stopCh  chan struct{}
}

// New creates a Scheduler. Cron expressions use the standard five-field format.
func New(store Store, runner Runner, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		config:  cfg,
		cron:    cron.New(),
		now:     time.Now,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[uuid.UUID]entry),
	}
}

// Start loads schedules and starts the cron loop and the refresh loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to load initial schedules")
	}

	s.cron.Start()
	go s.refreshLoop(ctx)

	s.logger.Info().Msg("backup scheduler started")
	return nil
}

// Stop stops scheduling. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	close(s.stopCh)
	s.logger.Info().Msg("stopping backup scheduler")
	return s.cron.Stop()
}

// Reload syncs cron entries with the active schedules in the store.
func (s *Scheduler) Reload(ctx context.Context) error {
	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list active schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool, len(schedules))
	for _, sched := range schedules {
		if !sched.IsActive {
			continue
		}
		seen[sched.ID] = true

		if e, ok := s.entries[sched.ID]; ok {
			if e.expr == sched.CronExpression && s.cron.Entry(e.id).Valid() {
				continue
			}
			s.cron.Remove(e.id)
			delete(s.entries, sched.ID)
		}

		if err := s.addSchedule(ctx, sched); err != nil {
			s.logger.Error().
				Err(err).
				Str("schedule_id", sched.ID.String()).
				Str("schedule_name", sched.Name).
				Msg("failed to add schedule")
		}
	}

	for id, e := range s.entries {
		if !seen[id] {
			s.cron.Remove(e.id)
			delete(s.entries, id)
			s.logger.Debug().Str("schedule_id", id.String()).Msg("removed inactive schedule")
		}
	}

	s.logger.Debug().Int("active_schedules", len(s.entries)).Msg("schedules reloaded")
	return nil
}

func (s *Scheduler) addSchedule(ctx context.Context, sched *models.BackupSchedule) error {
	copied := *sched
	id, err := s.cron.AddFunc(sched.CronExpression, func() {
		s.RunSchedule(ctx, &copied)
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}
	s.entries[sched.ID] = entry{id: id, expr: sched.CronExpression}
	s.logger.Debug().
		Str("schedule_id", sched.ID.String()).
		Str("schedule_name", sched.Name).
		Str("cron_expression", sched.CronExpression).
		Msg("added schedule")
	return nil
}

// RunSchedule runs one backup for sched and records the run on the schedule.
func (s *Scheduler) RunSchedule(ctx context.Context, sched *models.BackupSchedule) *backup.Result {
	logger := s.logger.With().
		Str("schedule_id", sched.ID.String()).
		Str("schedule_name", sched.Name).
		Logger()

	ranAt := s.now()
	result := s.runner.CreateManualBackup(ctx, backup.Options{
		Type:      string(sched.BackupType),
		Name:      fmt.Sprintf("%s %s", sched.Name, ranAt.UTC().Format("2006-01-02 15:04")),
		CreatedBy: "scheduler",
	})
	if result.Success {
		logger.Info().Msg("scheduled backup completed")
	} else {
		logger.Warn().Str("message", result.Message).Msg("scheduled backup failed")
	}

	next, err := NextRun(sched.CronExpression, ranAt)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compute next run")
		return result
	}
	sched.RecordRun(ranAt, next)
	if err := s.store.UpdateScheduleRun(ctx, sched); err != nil {
		logger.Error().Err(err).Msg("failed to record schedule run")
	}
	return result
}

// NextRun returns the first activation of expr after t.
func NextRun(expr string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched.Next(t), nil
}

// ActiveSchedules returns the number of scheduled entries.
func (s *Scheduler) ActiveSchedules() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// NextActivation returns the next cron activation for a loaded schedule.
func (s *Scheduler) NextActivation(id uuid.UUID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	ce := s.cron.Entry(e.id)
	if !ce.Valid() {
		return time.Time{}, false
	}
	return ce.Next, true
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.logger.Error().Err(err).Msg("failed to reload schedules")
			}
		}
	}
}
