package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/MacJediWizard/freightdesk/internal/models"
)

// sqliteTimeFormat is fixed width so stored timestamps sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists backup records in a local SQLite file. It serves
// single-host deployments without a PostgreSQL server.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating when needed) the database at path and applies
// the embedded schema.
func NewSQLiteStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Info().Str("path", path).Msg("backup database initialized")
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	all, err := readMigrations(sqliteMigrationsFS, "sqlite")
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("list applied migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	for _, m := range pendingMigrations(all, applied) {
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		s.logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
	}
	return nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, formatTime(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBackup inserts a new backup record.
func (s *SQLiteStore) CreateBackup(ctx context.Context, b *models.Backup) error {
	metadata, err := b.MetadataJSON()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backups (id, name, type, file_path, status, file_size, created_by, metadata,
		                     created_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID.String(), b.Name, string(b.Type), b.FilePath, string(b.Status), b.FileSize, b.CreatedBy,
		string(metadata), formatTime(b.CreatedAt), formatNullTime(b.CompletedAt), formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	return nil
}

// UpdateBackup updates the mutable fields of a backup record.
func (s *SQLiteStore) UpdateBackup(ctx context.Context, b *models.Backup) error {
	metadata, err := b.MetadataJSON()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE backups
		SET status = ?, file_path = ?, file_size = ?, metadata = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, string(b.Status), b.FilePath, b.FileSize, string(metadata), formatNullTime(b.CompletedAt),
		formatTime(b.UpdatedAt), b.ID.String())
	if err != nil {
		return fmt.Errorf("update backup: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update backup %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

// GetBackupByID returns a backup by ID.
func (s *SQLiteStore) GetBackupByID(ctx context.Context, id uuid.UUID) (*models.Backup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ?`, id.String())
	b, err := scanSQLiteBackup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get backup %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get backup: %w", err)
	}
	return b, nil
}

// ListBackups returns up to limit backups, newest first.
func (s *SQLiteStore) ListBackups(ctx context.Context, limit int) ([]*models.Backup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	return scanSQLiteBackups(rows)
}

// ListBackupsSince returns backups created at or after since, newest first.
func (s *SQLiteStore) ListBackupsSince(ctx context.Context, since time.Time) ([]*models.Backup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE created_at >= ?
		ORDER BY created_at DESC
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list backups since: %w", err)
	}
	defer rows.Close()

	return scanSQLiteBackups(rows)
}

// CountBackups returns the total number of backup records.
func (s *SQLiteStore) CountBackups(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backups`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backups: %w", err)
	}
	return count, nil
}

// GetLatestBackup returns the newest backup with status, or with any status
// when status is empty. It returns nil when there is none.
func (s *SQLiteStore) GetLatestBackup(ctx context.Context, status models.BackupStatus) (*models.Backup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE ?1 = '' OR status = ?1
		ORDER BY created_at DESC
		LIMIT 1
	`, string(status))
	b, err := scanSQLiteBackup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest backup: %w", err)
	}
	return b, nil
}

// CreateSchedule inserts a new backup schedule.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched *models.BackupSchedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sched.ID.String(), sched.Name, sched.CronExpression, string(sched.BackupType), sched.IsActive,
		formatNullTime(sched.LastRunAt), formatNullTime(sched.NextRunAt),
		formatTime(sched.CreatedAt), formatTime(sched.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// ListActiveSchedules returns all active schedules ordered by name.
func (s *SQLiteStore) ListActiveSchedules(ctx context.Context) ([]*models.BackupSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM backup_schedules
		WHERE is_active = 1
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.BackupSchedule
	for rows.Next() {
		var sched models.BackupSchedule
		var id, backupType, createdAt, updatedAt string
		var lastRun, nextRun sql.NullString
		if err := rows.Scan(
			&id, &sched.Name, &sched.CronExpression, &backupType, &sched.IsActive,
			&lastRun, &nextRun, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		if sched.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse schedule id: %w", err)
		}
		sched.BackupType = models.BackupType(backupType)
		sched.LastRunAt = parseNullTime(lastRun)
		sched.NextRunAt = parseNullTime(nextRun)
		sched.CreatedAt = parseTime(createdAt)
		sched.UpdatedAt = parseTime(updatedAt)
		schedules = append(schedules, &sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

// UpdateScheduleRun stores the last and next run times of a schedule.
func (s *SQLiteStore) UpdateScheduleRun(ctx context.Context, sched *models.BackupSchedule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_schedules
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, formatNullTime(sched.LastRunAt), formatNullTime(sched.NextRunAt), formatTime(sched.UpdatedAt),
		sched.ID.String())
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update schedule %s: %w", sched.ID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBackup(row rowScanner) (*models.Backup, error) {
	var b models.Backup
	var id, backupType, status, metadata, createdAt, updatedAt string
	var completedAt sql.NullString
	if err := row.Scan(
		&id, &b.Name, &backupType, &b.FilePath, &status, &b.FileSize, &b.CreatedBy,
		&metadata, &createdAt, &completedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse backup id: %w", err)
	}
	b.ID = parsed
	b.Type = models.BackupType(backupType)
	b.Status = models.BackupStatus(status)
	b.CreatedAt = parseTime(createdAt)
	b.CompletedAt = parseNullTime(completedAt)
	b.UpdatedAt = parseTime(updatedAt)
	if err := b.SetMetadata([]byte(metadata)); err != nil {
		return nil, fmt.Errorf("parse metadata for backup %s: %w", b.ID, err)
	}
	return &b, nil
}

func scanSQLiteBackups(rows *sql.Rows) ([]*models.Backup, error) {
	var backups []*models.Backup
	for rows.Next() {
		b, err := scanSQLiteBackup(rows)
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

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(sqliteTimeFormat, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
