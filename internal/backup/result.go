package backup

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/freightdesk/internal/models"
)

// Result is the outcome of a backup request.
type Result struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Backup   *models.Backup `json:"backup,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Succeeded creates a successful Result.
func Succeeded(message string, b *models.Backup) *Result {
	return &Result{Success: true, Message: message, Backup: b, Metadata: map[string]any{}}
}

// Failed creates a failed Result.
func Failed(message string, b *models.Backup) *Result {
	return &Result{Success: false, Message: message, Backup: b, Metadata: map[string]any{}}
}

// WithMetadata returns a copy of r with key set to value.
func (r *Result) WithMetadata(key string, value any) *Result {
	md := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[key] = value
	return &Result{Success: r.Success, Message: r.Message, Backup: r.Backup, Metadata: md}
}

// Health thresholds for Status.
const (
	HealthyMinSuccessRate = 80.0
	HealthyMaxBackupAge   = 48 * time.Hour
)

// StorageUsage is the space taken by backup artifacts.
type StorageUsage struct {
	Bytes     int64  `json:"bytes"`
	Formatted string `json:"formatted"`
}

// StatusStats is the aggregated input of a Status.
type StatusStats struct {
	TotalBackups      int            `json:"total_backups"`
	RecentBackups     int            `json:"recent_backups"`
	SuccessfulBackups int            `json:"successful_backups"`
	FailedBackups     int            `json:"failed_backups"`
	PendingBackups    int            `json:"pending_backups"`
	LastBackup        *models.Backup `json:"last_backup,omitempty"`
	LastSuccessfulAt  *time.Time     `json:"last_successful_at,omitempty"`
	StorageUsage      StorageUsage   `json:"storage_usage"`
	StoragePath       string         `json:"storage_path"`
	RetentionPolicy   map[string]int `json:"retention_policy"`
}

// Status derives health from backup statistics.
type Status struct {
	Stats StatusStats `json:"stats"`
	now   func() time.Time
}

// NewStatus creates a Status evaluated against the wall clock.
func NewStatus(stats StatusStats) *Status {
	return &Status{Stats: stats, now: time.Now}
}

// SuccessRate is successful/recent as a percentage, 0 when there were no recent backups.
func (s *Status) SuccessRate() float64 {
	if s.Stats.RecentBackups == 0 {
		return 0
	}
	return float64(s.Stats.SuccessfulBackups) / float64(s.Stats.RecentBackups) * 100
}

// LastBackupAge returns the age of the most recent backup and whether one exists.
func (s *Status) LastBackupAge() (time.Duration, bool) {
	if s.Stats.LastBackup == nil {
		return 0, false
	}
	return s.now().Sub(s.Stats.LastBackup.CreatedAt), true
}

// IsHealthy requires no pending backups, a success rate of at least 80% and a
// backup within the last 48 hours.
func (s *Status) IsHealthy() bool {
	if s.Stats.PendingBackups > 0 {
		return false
	}
	if s.SuccessRate() < HealthyMinSuccessRate {
		return false
	}
	age, ok := s.LastBackupAge()
	return ok && age <= HealthyMaxBackupAge
}

// HealthMessages explains the current health in human-readable form.
func (s *Status) HealthMessages() []string {
	var msgs []string

	if s.Stats.PendingBackups > 0 {
		msgs = append(msgs, fmt.Sprintf("%d backup(s) still pending", s.Stats.PendingBackups))
	}

	if s.Stats.RecentBackups == 0 {
		msgs = append(msgs, "No backups in the last 7 days")
	} else if rate := s.SuccessRate(); rate < HealthyMinSuccessRate {
		msgs = append(msgs, fmt.Sprintf("Success rate %.1f%% is below %.0f%%", rate, HealthyMinSuccessRate))
	}

	age, ok := s.LastBackupAge()
	switch {
	case !ok:
		msgs = append(msgs, "No backups have been created")
	case age > HealthyMaxBackupAge:
		msgs = append(msgs, fmt.Sprintf("Last backup is %.0f hours old", age.Hours()))
	}

	if len(msgs) == 0 {
		msgs = append(msgs, "Backup system is healthy")
	}
	return msgs
}
