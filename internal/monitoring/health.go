package monitoring

import (
	"time"

	"github.com/MacJediWizard/freightdesk/internal/models"
)

// Storage usage thresholds as a percentage of the configured maximum.
const (
	StorageWarningPercent  = 75.0
	StorageCriticalPercent = 90.0
	// MaxOverdueHours is how late a schedule may run and still be healthy.
	MaxOverdueHours = 2.0
	// FailureWindow is the trailing window for failure warnings and alerts.
	FailureWindow = 24 * time.Hour
)

// OverallStatus summarizes system health.
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusWarning  OverallStatus = "warning"
	StatusCritical OverallStatus = "critical"
)

// Severity grades a warning.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Warning types.
const (
	WarningStorage          = "storage"
	WarningOverdueSchedules = "overdue_schedules"
	WarningRecentFailures   = "recent_failures"
)

// Warning is one health finding.
type Warning struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// BackupSummary is a compact view of a backup record.
type BackupSummary struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Type      models.BackupType   `json:"type"`
	Status    models.BackupStatus `json:"status"`
	FileSize  int64               `json:"file_size"`
	CreatedAt time.Time           `json:"created_at"`
	Error     string              `json:"error,omitempty"`
}

func summarize(b *models.Backup) *BackupSummary {
	if b == nil {
		return nil
	}
	return &BackupSummary{
		ID:        b.ID.String(),
		Name:      b.Name,
		Type:      b.Type,
		Status:    b.Status,
		FileSize:  b.FileSize,
		CreatedAt: b.CreatedAt,
		Error:     b.ErrorMessage(),
	}
}

// RecentBackups aggregates backups over the monitoring window.
type RecentBackups struct {
	WindowDays     int            `json:"window_days"`
	Total          int            `json:"total"`
	Successful     int            `json:"successful"`
	Failed         int            `json:"failed"`
	Pending        int            `json:"pending"`
	SuccessRate    float64        `json:"success_rate"`
	LastSuccessful *BackupSummary `json:"last_successful,omitempty"`
	LastFailed     *BackupSummary `json:"last_failed,omitempty"`
}

// StorageHealth describes backup storage consumption.
type StorageHealth struct {
	Path          string  `json:"path"`
	Driver        string  `json:"driver"`
	UsedBytes     int64   `json:"used_bytes"`
	UsedFormatted string  `json:"used_formatted"`
	MaxBytes      int64   `json:"max_bytes"`
	MaxFormatted  string  `json:"max_formatted"`
	UsagePercent  float64 `json:"usage_percent"`
	IsWarning     bool    `json:"is_warning"`
	IsCritical    bool    `json:"is_critical"`
	DiskFreeBytes uint64  `json:"disk_free_bytes,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// ScheduleStatus is the health of one active schedule.
type ScheduleStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	OverdueHours float64    `json:"overdue_hours"`
	Healthy      bool       `json:"healthy"`
}

// ScheduleHealth aggregates active schedules.
type ScheduleHealth struct {
	Total            int              `json:"total"`
	Healthy          int              `json:"healthy"`
	HealthPercentage float64          `json:"health_percentage"`
	Overdue          []ScheduleStatus `json:"overdue"`
}

// SystemHealth is a read-only health snapshot.
type SystemHealth struct {
	OverallStatus OverallStatus   `json:"overall_status"`
	RecentBackups RecentBackups   `json:"recent_backups"`
	Storage       StorageHealth   `json:"storage"`
	Schedules     ScheduleHealth  `json:"schedules"`
	FailedBackups []BackupSummary `json:"failed_backups"`
	Warnings      []Warning       `json:"warnings"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// HasCritical reports whether any warning is critical.
func (h *SystemHealth) HasCritical() bool {
	for _, w := range h.Warnings {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// WarningsBySeverity counts warnings per severity.
func (h *SystemHealth) WarningsBySeverity() map[string]int {
	out := make(map[string]int, 2)
	for _, w := range h.Warnings {
		out[string(w.Severity)]++
	}
	return out
}

func overallStatus(warnings []Warning) OverallStatus {
	status := StatusHealthy
	for _, w := range warnings {
		if w.Severity == SeverityCritical {
			return StatusCritical
		}
		status = StatusWarning
	}
	return status
}

// scheduleHealth evaluates active schedules at now.
func scheduleHealth(schedules []*models.BackupSchedule, now time.Time) ScheduleHealth {
	out := ScheduleHealth{Overdue: []ScheduleStatus{}}
	for _, s := range schedules {
		if !s.IsActive {
			continue
		}
		out.Total++
		st := ScheduleStatus{
			ID:           s.ID.String(),
			Name:         s.Name,
			LastRunAt:    s.LastRunAt,
			NextRunAt:    s.NextRunAt,
			OverdueHours: s.OverdueHours(now),
		}
		st.Healthy = s.LastRunAt != nil && st.OverdueHours <= MaxOverdueHours
		if st.Healthy {
			out.Healthy++
		} else {
			out.Overdue = append(out.Overdue, st)
		}
	}
	out.HealthPercentage = 100
	if out.Total > 0 {
		out.HealthPercentage = float64(out.Healthy) / float64(out.Total) * 100
	}
	return out
}

// recentBackups aggregates backups (newest first) for the window.
func recentBackups(backups []*models.Backup, windowDays int) RecentBackups {
	out := RecentBackups{WindowDays: windowDays, Total: len(backups)}
	for _, b := range backups {
		switch b.Status {
		case models.BackupStatusCompleted:
			out.Successful++
			if out.LastSuccessful == nil {
				out.LastSuccessful = summarize(b)
			}
		case models.BackupStatusFailed:
			out.Failed++
			if out.LastFailed == nil {
				out.LastFailed = summarize(b)
			}
		case models.BackupStatusPending:
			out.Pending++
		}
	}
	if out.Total > 0 {
		out.SuccessRate = float64(out.Successful) / float64(out.Total) * 100
	}
	return out
}
