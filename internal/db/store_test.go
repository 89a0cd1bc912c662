package db

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MacJediWizard/freightdesk/internal/models"
)

// recordStore is the method set shared by the PostgreSQL and SQLite stores.
type recordStore interface {
	CreateBackup(ctx context.Context, b *models.Backup) error
	UpdateBackup(ctx context.Context, b *models.Backup) error
	GetBackupByID(ctx context.Context, id uuid.UUID) (*models.Backup, error)
	ListBackups(ctx context.Context, limit int) ([]*models.Backup, error)
	ListBackupsSince(ctx context.Context, since time.Time) ([]*models.Backup, error)
	CountBackups(ctx context.Context) (int, error)
	GetLatestBackup(ctx context.Context, status models.BackupStatus) (*models.Backup, error)
	CreateSchedule(ctx context.Context, s *models.BackupSchedule) error
	ListActiveSchedules(ctx context.Context) ([]*models.BackupSchedule, error)
	UpdateScheduleRun(ctx context.Context, s *models.BackupSchedule) error
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL testcontainer, runs migrations, and returns a connected DB.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	if !dockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("freightdesk_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := zerolog.New(zerolog.NewTestWriter(t))
	database, err := New(ctx, DefaultConfig(connStr), logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.Migrate(ctx))
	return database
}

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "data", "backups.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	exerciseRecordStore(t, setupSQLite(t))
}

func TestSQLiteStore_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backups.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	b := models.NewBackup("first", models.BackupTypeFull, "system", time.Now())
	require.NoError(t, store.CreateBackup(ctx, b))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.CountBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresStore(t *testing.T) {
	database := setupTestDB(t)

	version, err := database.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// Migrate is idempotent.
	require.NoError(t, database.Migrate(context.Background()))

	exerciseRecordStore(t, database)
}

func exerciseRecordStore(t *testing.T, store recordStore) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty store", func(t *testing.T) {
		latest, err := store.GetLatestBackup(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, latest)

		count, err := store.CountBackups(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		_, err = store.GetBackupByID(ctx, uuid.New())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	older := models.NewBackup("older", models.BackupTypeDatabase, "system", base.Add(-48*time.Hour))
	failed := models.NewBackup("failed", models.BackupTypeFiles, "cron", base.Add(-2*time.Hour))
	newest := models.NewBackup("newest", models.BackupTypeFull, "alice", base)

	t.Run("create and update", func(t *testing.T) {
		for _, b := range []*models.Backup{older, failed, newest} {
			require.NoError(t, store.CreateBackup(ctx, b))
		}

		require.NoError(t, older.Complete(models.Artifacts{Database: "/backups/database/db.sql"}, 2048, base.Add(-47*time.Hour)))
		require.NoError(t, store.UpdateBackup(ctx, older))

		failed.Fail("archive failed", base.Add(-time.Hour))
		require.NoError(t, store.UpdateBackup(ctx, failed))

		missing := models.NewBackup("missing", models.BackupTypeFull, "system", base)
		err := store.UpdateBackup(ctx, missing)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("get by id", func(t *testing.T) {
		got, err := store.GetBackupByID(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, "older", got.Name)
		assert.Equal(t, models.BackupStatusCompleted, got.Status)
		assert.Equal(t, "/backups/database/db.sql", got.FilePath)
		assert.Equal(t, int64(2048), got.FileSize)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(base.Add(-47*time.Hour)))

		artifacts, err := got.Artifacts()
		require.NoError(t, err)
		assert.Equal(t, "/backups/database/db.sql", artifacts.Database)
	})

	t.Run("list newest first", func(t *testing.T) {
		all, err := store.ListBackups(ctx, 10)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"newest", "failed", "older"}, []string{all[0].Name, all[1].Name, all[2].Name})

		limited, err := store.ListBackups(ctx, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, newest.ID, limited[0].ID)

		since, err := store.ListBackupsSince(ctx, base.Add(-24*time.Hour))
		require.NoError(t, err)
		require.Len(t, since, 2)
		assert.Equal(t, "failed", since[1].Name)
		assert.Equal(t, models.BackupStatusFailed, since[1].Status)

		count, err := store.CountBackups(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("latest by status", func(t *testing.T) {
		latest, err := store.GetLatestBackup(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, newest.ID, latest.ID)

		completed, err := store.GetLatestBackup(ctx, models.BackupStatusCompleted)
		require.NoError(t, err)
		require.NotNil(t, completed)
		assert.Equal(t, older.ID, completed.ID)

		latestFailed, err := store.GetLatestBackup(ctx, models.BackupStatusFailed)
		require.NoError(t, err)
		require.NotNil(t, latestFailed)
		assert.Equal(t, "archive failed", latestFailed.ErrorMessage())
	})

	t.Run("schedules", func(t *testing.T) {
		nightly := models.NewBackupSchedule("nightly", "0 2 * * *", models.BackupTypeFull)
		paused := models.NewBackupSchedule("paused", "0 3 * * *", models.BackupTypeDatabase)
		paused.IsActive = false
		require.NoError(t, store.CreateSchedule(ctx, nightly))
		require.NoError(t, store.CreateSchedule(ctx, paused))

		active, err := store.ListActiveSchedules(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "nightly", active[0].Name)
		assert.Nil(t, active[0].LastRunAt)

		nightly.RecordRun(base, base.Add(24*time.Hour))
		require.NoError(t, store.UpdateScheduleRun(ctx, nightly))

		active, err = store.ListActiveSchedules(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.NotNil(t, active[0].LastRunAt)
		require.NotNil(t, active[0].NextRunAt)
		assert.True(t, active[0].LastRunAt.Equal(base))
		assert.True(t, active[0].NextRunAt.Equal(base.Add(24*time.Hour)))
	})
}
