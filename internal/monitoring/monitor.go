// Package monitoring derives backup system health from stored backup and
// schedule records plus storage usage, and raises alerts when it degrades.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/config"
	"github.com/MacJediWizard/freightdesk/internal/models"
	"github.com/MacJediWizard/freightdesk/internal/notifications"
	"github.com/MacJediWizard/freightdesk/internal/storage"
)

// Store defines the record reads needed by the monitor.
type Store interface {
	// ListBackupsSince returns backups created at or after since, newest first.
	ListBackupsSince(ctx context.Context, since time.Time) ([]*models.Backup, error)
	ListActiveSchedules(ctx context.Context) ([]*models.BackupSchedule, error)
}

// Alerter delivers health alerts.
type Alerter interface {
	NotifyHealthWarning(ctx context.Context, data notifications.HealthAlertData) error
}

// HealthRecorder exports health snapshots as metrics.
type HealthRecorder interface {
	SetHealth(status string, warningsBySeverity map[string]int, scheduleHealthPercent float64)
	SetStorageBytes(kind string, bytes int64)
}

// DiskProbe reports free space for the filesystem holding path.
type DiskProbe func(ctx context.Context, path string) (*storage.DiskSpace, error)

// Deps holds the monitor's collaborators. Alerter, Metrics and Disk are optional.
type Deps struct {
	Config  *config.BackupConfig
	Store   Store
	Usage   storage.Meter
	Alerter Alerter
	Metrics HealthRecorder
	Disk    DiskProbe
}

// BackupMonitor computes read-only health snapshots. It never writes records.
type BackupMonitor struct {
	cfg     *config.BackupConfig
	store   Store
	usage   storage.Meter
	alerter Alerter
	metrics HealthRecorder
	disk    DiskProbe
	now     func() time.Time
	logger  zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBackupMonitor creates a BackupMonitor.
func NewBackupMonitor(deps Deps, logger zerolog.Logger) *BackupMonitor {
	return &BackupMonitor{
		cfg:     deps.Config,
		store:   deps.Store,
		usage:   deps.Usage,
		alerter: deps.Alerter,
		metrics: deps.Metrics,
		disk:    deps.Disk,
		now:     time.Now,
		logger:  logger.With().Str("component", "backup_monitor").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// SystemHealth computes the current health snapshot. Read failures degrade the
// affected section to empty values.
func (m *BackupMonitor) SystemHealth(ctx context.Context) *SystemHealth {
	now := m.now()
	windowDays := m.cfg.MonitorWindowDays()

	recent, err := m.store.ListBackupsSince(ctx, now.AddDate(0, 0, -windowDays))
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list recent backups")
		recent = nil
	}

	// Failures are read on their own so a failed window read cannot hide them.
	failures, err := m.store.ListBackupsSince(ctx, now.Add(-FailureWindow))
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list backups from the last 24 hours, failure alerting degraded")
		failures = recent
	}

	schedules, err := m.store.ListActiveSchedules(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list active schedules")
		schedules = nil
	}

	h := &SystemHealth{
		RecentBackups: recentBackups(recent, windowDays),
		Storage:       m.storageHealth(ctx),
		Schedules:     scheduleHealth(schedules, now),
		FailedBackups: failedSince(failures, now.Add(-FailureWindow)),
		CheckedAt:     now,
	}
	h.Warnings = buildWarnings(h)
	h.OverallStatus = overallStatus(h.Warnings)
	return h
}

// ShouldSendAlert reports whether a critical warning exists or any backup
// failed within the last 24 hours.
func (m *BackupMonitor) ShouldSendAlert(ctx context.Context) bool {
	h := m.SystemHealth(ctx)
	return m.shouldAlert(h)
}

func (m *BackupMonitor) shouldAlert(h *SystemHealth) bool {
	if h.HasCritical() {
		return true
	}
	return len(h.FailedBackups) > 0
}

func (m *BackupMonitor) storageHealth(ctx context.Context) StorageHealth {
	path := storage.ResolveBackupPath(m.cfg.StoragePath(), m.cfg.DiskRoot())
	maxBytes := m.cfg.MaxStorageBytes()

	sh := StorageHealth{
		Path:         path,
		Driver:       m.cfg.StorageDriver(),
		MaxBytes:     maxBytes,
		MaxFormatted: humanize.IBytes(uint64(max(maxBytes, 0))),
	}

	if m.usage != nil {
		used, err := m.usage.UsedBytes(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("failed to measure backup storage")
			sh.Error = err.Error()
		} else {
			sh.UsedBytes = used
		}
	}
	sh.UsedFormatted = humanize.IBytes(uint64(max(sh.UsedBytes, 0)))

	if maxBytes > 0 {
		sh.UsagePercent = float64(sh.UsedBytes) / float64(maxBytes) * 100
	}
	sh.IsCritical = sh.UsagePercent > StorageCriticalPercent
	sh.IsWarning = sh.UsagePercent > StorageWarningPercent

	if m.disk != nil && sh.Driver != "s3" {
		if space, err := m.disk(ctx, path); err != nil {
			m.logger.Debug().Err(err).Str("path", path).Msg("failed to probe free disk space")
		} else {
			sh.DiskFreeBytes = space.Free
		}
	}

	return sh
}

func failedSince(backups []*models.Backup, since time.Time) []BackupSummary {
	out := []BackupSummary{}
	for _, b := range backups {
		if b.Status == models.BackupStatusFailed && !b.CreatedAt.Before(since) {
			out = append(out, *summarize(b))
		}
	}
	return out
}

func buildWarnings(h *SystemHealth) []Warning {
	warnings := []Warning{}

	switch {
	case h.Storage.IsCritical:
		warnings = append(warnings, Warning{
			Type:     WarningStorage,
			Message:  fmt.Sprintf("Backup storage usage is critical: %.1f%% of %s used", h.Storage.UsagePercent, h.Storage.MaxFormatted),
			Severity: SeverityCritical,
		})
	case h.Storage.IsWarning:
		warnings = append(warnings, Warning{
			Type:     WarningStorage,
			Message:  fmt.Sprintf("Backup storage usage is high: %.1f%% of %s used", h.Storage.UsagePercent, h.Storage.MaxFormatted),
			Severity: SeverityWarning,
		})
	}

	if n := len(h.Schedules.Overdue); n > 0 {
		warnings = append(warnings, Warning{
			Type:     WarningOverdueSchedules,
			Message:  fmt.Sprintf("%d backup schedule(s) are overdue", n),
			Severity: SeverityWarning,
		})
	}

	if n := len(h.FailedBackups); n > 0 {
		warnings = append(warnings, Warning{
			Type:     WarningRecentFailures,
			Message:  fmt.Sprintf("%d backup(s) failed in the last 24 hours", n),
			Severity: SeverityWarning,
		})
	}

	return warnings
}

// Check computes health once, exports it and sends an alert when warranted.
func (m *BackupMonitor) Check(ctx context.Context) *SystemHealth {
	h := m.SystemHealth(ctx)

	if m.metrics != nil {
		m.metrics.SetHealth(string(h.OverallStatus), h.WarningsBySeverity(), h.Schedules.HealthPercentage)
		m.metrics.SetStorageBytes("used", h.Storage.UsedBytes)
		m.metrics.SetStorageBytes("limit", h.Storage.MaxBytes)
		if h.Storage.DiskFreeBytes > 0 {
			m.metrics.SetStorageBytes("free", int64(h.Storage.DiskFreeBytes))
		}
	}

	m.logger.Debug().
		Str("status", string(h.OverallStatus)).
		Int("warnings", len(h.Warnings)).
		Msg("backup health checked")

	if !m.shouldAlert(h) || m.alerter == nil || !m.cfg.NotifyOnHealthWarning() {
		return h
	}

	if err := m.alerter.NotifyHealthWarning(ctx, alertData(h)); err != nil {
		m.logger.Error().Err(err).Str("status", string(h.OverallStatus)).Msg("failed to send health alert")
	} else {
		m.logger.Info().Str("status", string(h.OverallStatus)).Msg("health alert sent")
	}
	return h
}

func alertData(h *SystemHealth) notifications.HealthAlertData {
	data := notifications.HealthAlertData{
		OverallStatus: string(h.OverallStatus),
		CheckedAt:     h.CheckedAt,
	}
	for _, w := range h.Warnings {
		data.Warnings = append(data.Warnings, notifications.HealthWarning{
			Severity: string(w.Severity),
			Message:  w.Message,
		})
	}
	return data
}

// Start runs Check immediately and then every interval until Stop or ctx ends.
func (m *BackupMonitor) Start(ctx context.Context, interval time.Duration) {
	m.wg.Add(1)
	go m.run(ctx, interval)
	m.logger.Info().Dur("interval", interval).Msg("backup monitor started")
}

// Stop gracefully stops the monitoring loop. It is safe to call more than once.
func (m *BackupMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.logger.Info().Msg("backup monitor stopped")
}

// Run blocks running checks every interval until ctx is done.
func (m *BackupMonitor) Run(ctx context.Context, interval time.Duration) {
	m.wg.Add(1)
	m.run(ctx, interval)
}

func (m *BackupMonitor) run(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	if interval <= 0 {
		interval = time.Hour
	}

	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
