package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// unreadableGrace is how long a lock file that cannot be parsed is still
// treated as held; a holder may be between create and write.
const unreadableGrace = time.Minute

// FileLocker shares locks between processes on one host through lock files
// created with O_EXCL in dir.
type FileLocker struct {
	dir string
	now func() time.Time
}

type fileLockRecord struct {
	Token     string    `json:"token"`
	PID       int       `json:"pid"`
	Host      string    `json:"host,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// NewFileLocker creates a FileLocker that keeps its lock files in dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir, now: time.Now}
}

func (l *FileLocker) path(key string) string {
	name := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(key)
	return filepath.Join(l.dir, name+".lock")
}

// Acquire creates the lock file for key. An existing file whose expiry has
// passed is taken over; otherwise ErrLocked is returned.
func (l *FileLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := l.path(key)
	now := l.now()
	host, _ := os.Hostname()
	rec := fileLockRecord{
		Token:     uuid.NewString(),
		PID:       os.Getpid(),
		Host:      host,
		CreatedAt: now.UTC(),
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl).UTC()
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := writeExclusive(path, rec)
		if err == nil {
			return &fileLease{path: path, token: rec.Token}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}

		stale, token := l.isStale(path, now)
		if !stale {
			return nil, ErrLocked
		}
		// Best effort takeover: remove only the file judged stale.
		if err := removeIfToken(path, token); err != nil {
			return nil, fmt.Errorf("remove stale lock %s: %w", key, err)
		}
	}
	return nil, ErrLocked
}

func writeExclusive(path string, rec fileLockRecord) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// isStale reports whether the lock file at path has expired, along with the
// token it holds.
func (l *FileLocker) isStale(path string, now time.Time) (bool, string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, ""
	}

	var rec fileLockRecord
	if err != nil || json.Unmarshal(data, &rec) != nil || rec.Token == "" {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return errors.Is(statErr, fs.ErrNotExist), ""
		}
		return now.Sub(info.ModTime()) > unreadableGrace, ""
	}

	if rec.ExpiresAt.IsZero() {
		return false, rec.Token
	}
	return now.After(rec.ExpiresAt), rec.Token
}

// removeIfToken deletes path when it still carries token. An empty token
// matches a file that cannot be parsed.
func removeIfToken(path, token string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var rec fileLockRecord
	parsed := json.Unmarshal(data, &rec) == nil && rec.Token != ""
	if (parsed && rec.Token != token) || (!parsed && token != "") {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type fileLease struct {
	path  string
	token string
}

// Release removes the lock file if this lease still owns it.
func (lease *fileLease) Release(_ context.Context) error {
	data, err := os.ReadFile(lease.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lease.path, err)
	}

	var rec fileLockRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Token != lease.token {
		return nil
	}
	if err := os.Remove(lease.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", lease.path, err)
	}
	return nil
}
