package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MacJediWizard/freightdesk/internal/models"
)

const backupColumns = `id, name, type, file_path, status, file_size, created_by, metadata,
	created_at, completed_at, updated_at`

// CreateBackup inserts a new backup record.
func (db *DB) CreateBackup(ctx context.Context, b *models.Backup) error {
	metadata, err := b.MetadataJSON()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO backups (id, name, type, file_path, status, file_size, created_by, metadata,
		                     created_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, b.ID, b.Name, string(b.Type), b.FilePath, string(b.Status), b.FileSize, b.CreatedBy,
		metadata, b.CreatedAt, b.CompletedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	return nil
}

// UpdateBackup updates the mutable fields of a backup record.
func (db *DB) UpdateBackup(ctx context.Context, b *models.Backup) error {
	metadata, err := b.MetadataJSON()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE backups
		SET status = $2, file_path = $3, file_size = $4, metadata = $5,
		    completed_at = $6, updated_at = $7
		WHERE id = $1
	`, b.ID, string(b.Status), b.FilePath, b.FileSize, metadata, b.CompletedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update backup: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update backup %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

// GetBackupByID returns a backup by ID.
func (db *DB) GetBackupByID(ctx context.Context, id uuid.UUID) (*models.Backup, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, id)
	b, err := scanBackup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get backup %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get backup: %w", err)
	}
	return b, nil
}

// ListBackups returns up to limit backups, newest first.
func (db *DB) ListBackups(ctx context.Context, limit int) ([]*models.Backup, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	return scanBackups(rows)
}

// ListBackupsSince returns backups created at or after since, newest first.
func (db *DB) ListBackupsSince(ctx context.Context, since time.Time) ([]*models.Backup, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list backups since: %w", err)
	}
	defer rows.Close()

	return scanBackups(rows)
}

// CountBackups returns the total number of backup records.
func (db *DB) CountBackups(ctx context.Context) (int, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM backups`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backups: %w", err)
	}
	return count, nil
}

// GetLatestBackup returns the newest backup with status, or with any status
// when status is empty. It returns nil when there is none.
func (db *DB) GetLatestBackup(ctx context.Context, status models.BackupStatus) (*models.Backup, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE $1::text = '' OR status = $1::text
		ORDER BY created_at DESC
		LIMIT 1
	`, string(status))
	b, err := scanBackup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest backup: %w", err)
	}
	return b, nil
}

func scanBackup(row pgx.Row) (*models.Backup, error) {
	var b models.Backup
	var backupType, status string
	var metadata []byte
	err := row.Scan(
		&b.ID, &b.Name, &backupType, &b.FilePath, &status, &b.FileSize, &b.CreatedBy,
		&metadata, &b.CreatedAt, &b.CompletedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Type = models.BackupType(backupType)
	b.Status = models.BackupStatus(status)
	if err := b.SetMetadata(metadata); err != nil {
		return nil, fmt.Errorf("parse metadata for backup %s: %w", b.ID, err)
	}
	return &b, nil
}

func scanBackups(rows pgx.Rows) ([]*models.Backup, error) {
	var backups []*models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return backups, nil
}

const scheduleColumns = `id, name, cron_expression, backup_type, is_active, last_run_at, next_run_at,
	created_at, updated_at`

// CreateSchedule inserts a new backup schedule.
func (db *DB) CreateSchedule(ctx context.Context, s *models.BackupSchedule) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO backup_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.Name, s.CronExpression, string(s.BackupType), s.IsActive, s.LastRunAt, s.NextRunAt,
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// ListActiveSchedules returns all active schedules ordered by name.
func (db *DB) ListActiveSchedules(ctx context.Context) ([]*models.BackupSchedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM backup_schedules
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.BackupSchedule
	for rows.Next() {
		var s models.BackupSchedule
		var backupType string
		if err := rows.Scan(
			&s.ID, &s.Name, &s.CronExpression, &backupType, &s.IsActive, &s.LastRunAt, &s.NextRunAt,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		s.BackupType = models.BackupType(backupType)
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

// UpdateScheduleRun stores the last and next run times of a schedule.
func (db *DB) UpdateScheduleRun(ctx context.Context, s *models.BackupSchedule) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE backup_schedules
		SET last_run_at = $2, next_run_at = $3, updated_at = $4
		WHERE id = $1
	`, s.ID, s.LastRunAt, s.NextRunAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update schedule %s: %w", s.ID, ErrNotFound)
	}
	return nil
}
