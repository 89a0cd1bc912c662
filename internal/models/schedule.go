package models

import (
	"time"

	"github.com/google/uuid"
)

// BackupSchedule represents a recurring backup trigger.
type BackupSchedule struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	CronExpression string     `json:"cron_expression" db:"cron_expression"`
	BackupType     BackupType `json:"backup_type" db:"backup_type"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// NewBackupSchedule creates an active schedule.
func NewBackupSchedule(name, cronExpr string, backupType BackupType) *BackupSchedule {
	now := time.Now()
	return &BackupSchedule{
		ID:             uuid.New(),
		Name:           name,
		CronExpression: cronExpr,
		BackupType:     backupType,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// OverdueHours returns how many hours have passed since the schedule was due.
// It is zero when NextRunAt is unset or still in the future.
func (s *BackupSchedule) OverdueHours(now time.Time) float64 {
	if s.NextRunAt == nil || !now.After(*s.NextRunAt) {
		return 0
	}
	return now.Sub(*s.NextRunAt).Hours()
}

// RecordRun sets the last and next run times after a triggered run.
func (s *BackupSchedule) RecordRun(ranAt, next time.Time) {
	s.LastRunAt = &ranAt
	s.NextRunAt = &next
	s.UpdatedAt = ranAt
}
