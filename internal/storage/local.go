// Package storage measures and copies stored backup artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// ResolveBackupPath returns the filesystem directory for storagePath. Absolute
// paths are used as is; relative paths resolve against the working directory
// when they exist there, otherwise against diskRoot.
func ResolveBackupPath(storagePath, diskRoot string) string {
	if filepath.IsAbs(storagePath) {
		return storagePath
	}
	if info, err := os.Stat(storagePath); err == nil && info.IsDir() {
		return storagePath
	}
	if diskRoot == "" {
		return storagePath
	}
	return filepath.Join(diskRoot, storagePath)
}

// LocalMeter sums the size of files below a directory.
type LocalMeter struct {
	root string
}

// NewLocalMeter creates a meter rooted at dir.
func NewLocalMeter(dir string) *LocalMeter {
	return &LocalMeter{root: dir}
}

// Root returns the measured directory.
func (m *LocalMeter) Root() string {
	return m.root
}

// UsedBytes returns the total size of regular files under the root. A
// missing root uses zero bytes.
func (m *LocalMeter) UsedBytes(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && path == m.root {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", m.root, err)
	}
	return total, nil
}

// DiskSpace describes the filesystem hosting the backups.
type DiskSpace struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// FreeSpace reports usage of the filesystem containing path. It walks up to
// the nearest existing parent when path does not exist yet.
func FreeSpace(ctx context.Context, path string) (*DiskSpace, error) {
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	usage, err := disk.UsageWithContext(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("disk usage for %s: %w", probe, err)
	}
	return &DiskSpace{
		Total:       usage.Total,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}
