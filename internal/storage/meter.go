package storage

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/freightdesk/internal/config"
)

// Meter reports bytes used by stored backups.
type Meter interface {
	UsedBytes(ctx context.Context) (int64, error)
}

// NewMeter returns the meter for the configured storage driver: an S3 prefix
// listing for "s3", otherwise a walk of the resolved local backup path.
func NewMeter(ctx context.Context, cfg *config.BackupConfig) (Meter, error) {
	switch cfg.StorageDriver() {
	case "s3":
		settings := cfg.Offsite()
		client, err := NewS3Client(ctx, settings)
		if err != nil {
			return nil, fmt.Errorf("create s3 meter: %w", err)
		}
		return NewS3Meter(client, settings.Bucket, settings.Prefix), nil
	case "local", "":
		return NewLocalMeter(ResolveBackupPath(cfg.StoragePath(), cfg.DiskRoot())), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver())
	}
}
