package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/config"
	"github.com/MacJediWizard/freightdesk/internal/lock"
	"github.com/MacJediWizard/freightdesk/internal/models"
)

// ManualLockKey is the run lock shared by manual and scheduled backups.
const ManualLockKey = "backup:manual"

const defaultHistoryLimit = 10

// RecordStore persists backup records.
type RecordStore interface {
	CreateBackup(ctx context.Context, b *models.Backup) error
	UpdateBackup(ctx context.Context, b *models.Backup) error
	GetBackupByID(ctx context.Context, id uuid.UUID) (*models.Backup, error)
	// ListBackups returns up to limit backups, newest first.
	ListBackups(ctx context.Context, limit int) ([]*models.Backup, error)
	// ListBackupsSince returns backups created at or after since, newest first.
	ListBackupsSince(ctx context.Context, since time.Time) ([]*models.Backup, error)
	CountBackups(ctx context.Context) (int, error)
	// GetLatestBackup returns the newest backup with status, any status when
	// status is empty, or nil when there is none.
	GetLatestBackup(ctx context.Context, status models.BackupStatus) (*models.Backup, error)
}

// Notifier delivers backup outcome notifications.
type Notifier interface {
	NotifySuccess(ctx context.Context, b *models.Backup) error
	NotifyFailure(ctx context.Context, b *models.Backup, errMsg string) error
}

// DumpCreator creates and validates database dumps.
type DumpCreator interface {
	CreateDump(ctx context.Context, filename string) (string, error)
	ValidateDump(path string) bool
	DumpSize(path string) int64
}

// ArchiveCreator creates and validates directory archives.
type ArchiveCreator interface {
	BackupDirectory(ctx context.Context, dir, archiveName string) (string, error)
	CreatePreRestoreBackup(ctx context.Context, dirs []string, archiveName string) (string, error)
	ValidateArchive(path string) bool
	ArchiveSize(path string) int64
}

// UsageMeter reports the bytes used by stored backups.
type UsageMeter interface {
	UsedBytes(ctx context.Context) (int64, error)
}

// Uploader copies completed artifacts off-site and returns their remote keys.
type Uploader interface {
	Upload(ctx context.Context, paths []string) ([]string, error)
}

// Recorder observes backup runs for metrics.
type Recorder interface {
	ObserveRun(backupType string, success bool, duration time.Duration, sizeBytes int64)
	ObserveAttempt(component string, success bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(string, bool, time.Duration, int64) {}
func (nopRecorder) ObserveAttempt(string, bool)                   {}

// Deps are the collaborators of a Service. Config, Store, Database and Files
// are required.
type Deps struct {
	Config   *config.BackupConfig
	Store    RecordStore
	Database DumpCreator
	Files    ArchiveCreator
	Notifier Notifier
	Locker   lock.Locker
	Usage    UsageMeter
	Uploader Uploader
	Metrics  Recorder
	Clock    clock.Clock
}

// Options describes a manual backup request.
type Options struct {
	Type            string `json:"type,omitempty"`
	IncludeDatabase *bool  `json:"include_database,omitempty"`
	IncludeFiles    *bool  `json:"include_files,omitempty"`
	Name            string `json:"name,omitempty"`
	CreatedBy       string `json:"created_by,omitempty"`
}

// Service orchestrates backup runs.
type Service struct {
	cfg      *config.BackupConfig
	store    RecordStore
	database DumpCreator
	files    ArchiveCreator
	notifier Notifier
	locker   lock.Locker
	usage    UsageMeter
	uploader Uploader
	metrics  Recorder
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewService creates a backup Service.
func NewService(deps Deps, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:      deps.Config,
		store:    deps.Store,
		database: deps.Database,
		files:    deps.Files,
		notifier: deps.Notifier,
		locker:   deps.Locker,
		usage:    deps.Usage,
		uploader: deps.Uploader,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		logger:   logger.With().Str("component", "backup_service").Logger(),
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	return s
}

// CreateManualBackup runs a database, files or full backup. It never returns
// an error; every outcome is described by the Result.
func (s *Service) CreateManualBackup(ctx context.Context, opts Options) *Result {
	backupType, err := models.ParseBackupType(opts.Type)
	if err != nil {
		s.logger.Warn().Str("type", opts.Type).Msg("rejected backup request with invalid type")
		return Failed(fmt.Sprintf("Invalid backup type %q: must be database, files or full", opts.Type), nil).
			WithMetadata("error_kind", KindInvalidRequest)
	}

	includeDB, includeFiles := resolveComponents(backupType, opts)
	if !includeDB && !includeFiles {
		return Failed("Nothing to back up: both database and files are excluded", nil).
			WithMetadata("error_kind", KindInvalidRequest)
	}

	lease, res := s.acquire(ctx)
	if res != nil {
		return res
	}
	defer s.release(lease)

	started := s.clock.Now()
	runID := uuid.NewString()[:8]

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Manual %s backup %s", backupType, started.Format(TimestampFormat))
	}
	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}

	b := models.NewBackup(name, backupType, createdBy, started)
	b.SetMeta(models.MetaIncludeDatabase, includeDB)
	b.SetMeta(models.MetaIncludeFiles, includeFiles)
	b.SetMeta(models.MetaOptions, optionsMap(opts))
	b.SetMeta(models.MetaRunID, runID)

	if err := s.store.CreateBackup(ctx, b); err != nil {
		s.logger.Error().Err(err).Msg("failed to create backup record")
		return Failed(fmt.Sprintf("Failed to create backup record: %v", err), nil).
			WithMetadata("error_kind", KindOperation)
	}

	log := s.logger.With().Str("backup_id", b.ID.String()).Str("type", string(backupType)).Logger()
	log.Info().Bool("include_database", includeDB).Bool("include_files", includeFiles).Msg("backup started")

	artifacts, err := s.runComponents(ctx, b, runID, includeDB, includeFiles)
	if err != nil {
		return s.fail(ctx, b, artifacts, err, started)
	}

	return s.complete(ctx, b, artifacts, started)
}

// CreatePreRestoreBackup snapshots every configured directory into a single
// archive and records it as a files backup.
func (s *Service) CreatePreRestoreBackup(ctx context.Context) *Result {
	lease, res := s.acquire(ctx)
	if res != nil {
		return res
	}
	defer s.release(lease)

	started := s.clock.Now()
	runID := uuid.NewString()[:8]
	dirs := s.cfg.BackupDirectories()
	archiveName := fmt.Sprintf("pre_restore_backup_%s_%s.zip", started.Format(TimestampFormat), runID)

	b := models.NewBackup("Pre-restore snapshot "+started.Format(TimestampFormat), models.BackupTypeFiles, "system", started)
	b.SetMeta(models.MetaPreRestore, true)
	b.SetMeta(models.MetaIncludeDatabase, false)
	b.SetMeta(models.MetaIncludeFiles, true)
	b.SetMeta(models.MetaRunID, runID)

	if err := s.store.CreateBackup(ctx, b); err != nil {
		s.logger.Error().Err(err).Msg("failed to create pre-restore backup record")
		return Failed(fmt.Sprintf("Failed to create backup record: %v", err), nil)
	}

	path, err := s.withRetry(ctx, b.ID, "pre_restore",
		func() (string, error) { return s.files.CreatePreRestoreBackup(ctx, dirs, archiveName) },
		s.files.ValidateArchive,
	)
	if err != nil {
		return s.fail(ctx, b, models.Artifacts{}, err, started)
	}

	artifacts := models.Artifacts{Files: []models.FileArtifact{{Directory: strings.Join(dirs, ","), Path: path}}}
	return s.complete(ctx, b, artifacts, started)
}

func (s *Service) acquire(ctx context.Context) (lock.Lease, *Result) {
	lease, err := s.locker.Acquire(ctx, ManualLockKey, s.cfg.LockTTL())
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.logger.Warn().Msg("backup request rejected: another backup is already running")
			return nil, Failed("Backup failed: "+ErrBackupLocked.Error(), nil).WithMetadata("error_kind", KindLocked)
		}
		s.logger.Error().Err(err).Msg("failed to acquire backup lock")
		return nil, Failed(fmt.Sprintf("Backup failed: acquire run lock: %v", err), nil).WithMetadata("error_kind", KindOperation)
	}
	return lease, nil
}

func (s *Service) release(lease lock.Lease) {
	if err := lease.Release(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to release backup lock")
	}
}

func resolveComponents(t models.BackupType, opts Options) (includeDB, includeFiles bool) {
	switch t {
	case models.BackupTypeDatabase:
		return true, false
	case models.BackupTypeFiles:
		return false, true
	}
	includeDB, includeFiles = true, true
	if opts.IncludeDatabase != nil {
		includeDB = *opts.IncludeDatabase
	}
	if opts.IncludeFiles != nil {
		includeFiles = *opts.IncludeFiles
	}
	return includeDB, includeFiles
}

func optionsMap(opts Options) map[string]any {
	m := map[string]any{"type": opts.Type}
	if opts.IncludeDatabase != nil {
		m["include_database"] = *opts.IncludeDatabase
	}
	if opts.IncludeFiles != nil {
		m["include_files"] = *opts.IncludeFiles
	}
	if opts.Name != "" {
		m["name"] = opts.Name
	}
	return m
}

// runComponents creates the database dump, then one archive per configured
// directory. It stops at the first component that exhausts its retries and
// returns the artifacts produced so far.
func (s *Service) runComponents(ctx context.Context, b *models.Backup, runID string, includeDB, includeFiles bool) (models.Artifacts, error) {
	var artifacts models.Artifacts
	stamp := s.clock.Now().Format(TimestampFormat)

	if includeDB {
		dbName := s.cfg.DatabaseConnection().Database
		filename := fmt.Sprintf("database_backup_%s_%s_%s.sql", dbName, stamp, runID)
		path, err := s.withRetry(ctx, b.ID, "database",
			func() (string, error) { return s.database.CreateDump(ctx, filename) },
			s.database.ValidateDump,
		)
		if err != nil {
			return artifacts, err
		}
		artifacts.Database = path
	}

	if includeFiles {
		for _, dir := range s.cfg.BackupDirectories() {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				s.logger.Warn().
					Str("backup_id", b.ID.String()).
					Str("directory", dir).
					Msg("skipping backup directory that does not exist")
				continue
			}

			archiveName := fmt.Sprintf("%s_backup_%s_%s.zip", filepath.Base(filepath.Clean(dir)), stamp, runID)
			path, err := s.withRetry(ctx, b.ID, "files:"+dir,
				func() (string, error) { return s.files.BackupDirectory(ctx, dir, archiveName) },
				s.files.ValidateArchive,
			)
			if err != nil {
				return artifacts, err
			}
			artifacts.Files = append(artifacts.Files, models.FileArtifact{Directory: dir, Path: path})
		}
	}

	if artifacts.IsEmpty() {
		return artifacts, &Error{Kind: KindConfig, Component: "files", Err: errors.New("no configured backup directory exists")}
	}
	return artifacts, nil
}

// withRetry runs create then validate up to retry attempts + 1 times with a
// fixed delay between attempts.
func (s *Service) withRetry(ctx context.Context, backupID uuid.UUID, component string, create func() (string, error), validate func(string) bool) (string, error) {
	attempts := s.cfg.RetryAttempts() + 1
	delay := s.cfg.RetryDelay()
	if delay <= 0 {
		// retry.Call rejects a zero Delay.
		delay = time.Nanosecond
	}

	var path string
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			p, err := create()
			if err != nil {
				s.metrics.ObserveAttempt(component, false)
				return err
			}
			if !validate(p) {
				os.Remove(p)
				s.metrics.ObserveAttempt(component, false)
				return fmt.Errorf("%w: %s", ErrValidationFailed, p)
			}
			s.metrics.ObserveAttempt(component, true)
			path = p
			return nil
		},
		IsFatalError: func(err error) bool {
			var be *Error
			return errors.As(err, &be) && be.Kind == KindConfig
		},
		NotifyFunc: func(err error, attempt int) {
			ev := s.logger.Warn()
			if attempt >= attempts {
				ev = s.logger.Error()
			}
			ev.Str("backup_id", backupID.String()).
				Str("backup_component", component).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Err(err).
				Msg("backup attempt failed")
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return path, nil
	}

	switch {
	case retry.IsAttemptsExceeded(err):
		err = retry.LastError(err)
	case retry.IsRetryStopped(err):
		err = fmt.Errorf("backup cancelled: %w", ctx.Err())
	}

	var be *Error
	if errors.As(err, &be) {
		return "", be
	}
	return "", &Error{Kind: KindOf(err), Component: component, Err: err}
}

func (s *Service) complete(ctx context.Context, b *models.Backup, artifacts models.Artifacts, started time.Time) *Result {
	var total int64
	if artifacts.Database != "" {
		total += s.database.DumpSize(artifacts.Database)
	}
	for _, f := range artifacts.Files {
		total += s.files.ArchiveSize(f.Path)
	}

	if err := b.Complete(artifacts, total, s.clock.Now()); err != nil {
		return s.fail(ctx, b, artifacts, err, started)
	}

	if s.uploader != nil && s.cfg.Offsite().Enabled {
		keys, err := s.uploader.Upload(ctx, artifacts.Paths())
		if err != nil {
			s.logger.Error().Err(err).Str("backup_id", b.ID.String()).Msg("off-site upload failed")
			b.SetMeta(models.MetaOffsite, map[string]any{"error": err.Error()})
		} else {
			b.SetMeta(models.MetaOffsite, map[string]any{"keys": keys})
		}
	}

	if err := s.store.UpdateBackup(ctx, b); err != nil {
		s.logger.Error().Err(err).Str("backup_id", b.ID.String()).Msg("failed to mark backup completed")
		s.metrics.ObserveRun(string(b.Type), false, s.clock.Now().Sub(started), total)
		return Failed(fmt.Sprintf("Backup artifacts were created but the record could not be updated: %v", err), b).
			WithMetadata("error_kind", KindOperation)
	}

	s.metrics.ObserveRun(string(b.Type), true, s.clock.Now().Sub(started), total)
	s.notifySuccess(ctx, b)

	s.logger.Info().
		Str("backup_id", b.ID.String()).
		Str("type", string(b.Type)).
		Int64("total_size", total).
		Str("size", humanize.IBytes(uint64(total))).
		Msg("backup completed")

	return Succeeded("Backup completed successfully", b).
		WithMetadata("total_size", total).
		WithMetadata("artifacts", artifacts)
}

func (s *Service) fail(ctx context.Context, b *models.Backup, partial models.Artifacts, cause error, started time.Time) *Result {
	msg := cause.Error()
	b.Fail(msg, s.clock.Now())
	if !partial.IsEmpty() {
		b.SetMeta("partial_artifacts", partial.Paths())
	}

	if err := s.store.UpdateBackup(ctx, b); err != nil {
		s.logger.Error().Err(err).Str("backup_id", b.ID.String()).Msg("failed to mark backup failed")
	}

	s.metrics.ObserveRun(string(b.Type), false, s.clock.Now().Sub(started), 0)
	s.notifyFailure(ctx, b, msg)

	s.logger.Error().
		Str("backup_id", b.ID.String()).
		Str("type", string(b.Type)).
		Str("error_kind", string(KindOf(cause))).
		Err(cause).
		Msg("backup failed")

	return Failed("Backup failed: "+msg, b).WithMetadata("error_kind", KindOf(cause))
}

func (s *Service) notifySuccess(ctx context.Context, b *models.Backup) {
	if s.notifier == nil {
		return
	}
	defer s.recoverNotify(b)
	if err := s.notifier.NotifySuccess(ctx, b); err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.ID.String()).Msg("success notification failed")
	}
}

func (s *Service) notifyFailure(ctx context.Context, b *models.Backup, errMsg string) {
	if s.notifier == nil {
		return
	}
	defer s.recoverNotify(b)
	if err := s.notifier.NotifyFailure(ctx, b, errMsg); err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.ID.String()).Msg("failure notification failed")
	}
}

func (s *Service) recoverNotify(b *models.Backup) {
	if r := recover(); r != nil {
		s.logger.Error().Interface("panic", r).Str("backup_id", b.ID.String()).Msg("notification panicked")
	}
}

// ValidateBackupIntegrity validates a file_path value. A JSON object maps
// categories to a path or a list of paths and every path must validate;
// anything else is treated as a single path. Paths are checked by extension.
func (s *Service) ValidateBackupIntegrity(pathOrJSON string) bool {
	trimmed := strings.TrimSpace(pathOrJSON)
	if trimmed == "" {
		return false
	}

	if strings.HasPrefix(trimmed, "{") {
		var categories map[string]any
		if err := json.Unmarshal([]byte(trimmed), &categories); err == nil {
			return s.validateCategories(categories)
		}
	}

	return s.validatePath(trimmed)
}

func (s *Service) validateCategories(categories map[string]any) bool {
	if len(categories) == 0 {
		return false
	}
	for category, v := range categories {
		switch val := v.(type) {
		case string:
			if !s.validatePath(val) {
				s.logger.Warn().Str("category", category).Str("path", val).Msg("backup artifact failed validation")
				return false
			}
		case []any:
			if len(val) == 0 {
				return false
			}
			for _, item := range val {
				p, ok := item.(string)
				if !ok || !s.validatePath(p) {
					s.logger.Warn().Str("category", category).Interface("path", item).Msg("backup artifact failed validation")
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func (s *Service) validatePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sql":
		return s.database.ValidateDump(path)
	case ".zip":
		return s.files.ValidateArchive(path)
	default:
		s.logger.Warn().Str("path", path).Msg("unrecognised backup artifact type")
		return false
	}
}

// VerifyBackup validates every artifact recorded for the backup with id.
func (s *Service) VerifyBackup(ctx context.Context, id uuid.UUID) (bool, error) {
	b, err := s.store.GetBackupByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("get backup: %w", err)
	}
	if b.Status != models.BackupStatusCompleted {
		return false, fmt.Errorf("backup %s is %s, not completed", id, b.Status)
	}

	artifacts, err := b.Artifacts()
	if errors.Is(err, models.ErrNoArtifacts) {
		return s.ValidateBackupIntegrity(b.FilePath), nil
	}
	if err != nil {
		return false, err
	}

	if artifacts.Database != "" && !s.database.ValidateDump(artifacts.Database) {
		return false, nil
	}
	for _, f := range artifacts.Files {
		if !s.files.ValidateArchive(f.Path) {
			return false, nil
		}
	}
	return true, nil
}

// GetBackupStatus aggregates backup statistics. Store or storage failures are
// logged and reported as zero values.
func (s *Service) GetBackupStatus(ctx context.Context) *Status {
	now := s.clock.Now()
	stats := StatusStats{
		StoragePath:     s.cfg.StoragePath(),
		RetentionPolicy: s.cfg.RetentionPolicy(),
	}

	if total, err := s.store.CountBackups(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to count backups")
	} else {
		stats.TotalBackups = total
	}

	since := now.AddDate(0, 0, -s.cfg.MonitorWindowDays())
	if recent, err := s.store.ListBackupsSince(ctx, since); err != nil {
		s.logger.Warn().Err(err).Msg("failed to list recent backups")
	} else {
		stats.RecentBackups = len(recent)
		for _, b := range recent {
			switch b.Status {
			case models.BackupStatusCompleted:
				stats.SuccessfulBackups++
			case models.BackupStatusFailed:
				stats.FailedBackups++
			case models.BackupStatusPending:
				stats.PendingBackups++
			}
		}
	}

	if last, err := s.store.GetLatestBackup(ctx, ""); err != nil {
		s.logger.Warn().Err(err).Msg("failed to get latest backup")
	} else {
		stats.LastBackup = last
	}

	if lastOK, err := s.store.GetLatestBackup(ctx, models.BackupStatusCompleted); err != nil {
		s.logger.Warn().Err(err).Msg("failed to get latest successful backup")
	} else if lastOK != nil {
		at := lastOK.CreatedAt
		if lastOK.CompletedAt != nil {
			at = *lastOK.CompletedAt
		}
		stats.LastSuccessfulAt = &at
	}

	if s.usage != nil {
		if used, err := s.usage.UsedBytes(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to measure backup storage")
		} else {
			stats.StorageUsage.Bytes = used
		}
	}
	stats.StorageUsage.Formatted = humanize.IBytes(uint64(stats.StorageUsage.Bytes))

	st := NewStatus(stats)
	st.now = s.clock.Now
	return st
}

// GetBackupHistory returns up to limit backups, newest first.
func (s *Service) GetBackupHistory(ctx context.Context, limit int) []*models.Backup {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	backups, err := s.store.ListBackups(ctx, limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list backup history")
		return []*models.Backup{}
	}
	return backups
}
