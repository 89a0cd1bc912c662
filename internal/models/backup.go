package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BackupType represents which components a backup run covers.
type BackupType string

const (
	// BackupTypeDatabase is a database dump only.
	BackupTypeDatabase BackupType = "database"
	// BackupTypeFiles is an archive of the configured directories only.
	BackupTypeFiles BackupType = "files"
	// BackupTypeFull is a database dump plus directory archives.
	BackupTypeFull BackupType = "full"
)

// ParseBackupType returns the BackupType for s, defaulting to full when s is empty.
func ParseBackupType(s string) (BackupType, error) {
	switch BackupType(s) {
	case "":
		return BackupTypeFull, nil
	case BackupTypeDatabase, BackupTypeFiles, BackupTypeFull:
		return BackupType(s), nil
	default:
		return "", fmt.Errorf("invalid backup type %q", s)
	}
}

// BackupStatus represents the current status of a backup.
type BackupStatus string

const (
	// BackupStatusPending indicates the backup run has started.
	BackupStatusPending BackupStatus = "pending"
	// BackupStatusCompleted indicates every artifact was created and validated.
	BackupStatusCompleted BackupStatus = "completed"
	// BackupStatusFailed indicates the backup run failed.
	BackupStatusFailed BackupStatus = "failed"
)

// Metadata keys written by the backup service.
const (
	MetaIncludeDatabase = "include_database"
	MetaIncludeFiles    = "include_files"
	MetaOptions         = "options"
	MetaArtifacts       = "artifacts"
	MetaTotalSize       = "total_size"
	MetaCompletedAt     = "completed_at"
	MetaError           = "error"
	MetaFailedAt        = "failed_at"
	MetaPreRestore      = "pre_restore"
	MetaOffsite         = "offsite"
	MetaRunID           = "run_id"
)

// FileArtifact is one directory archive produced by a backup run.
type FileArtifact struct {
	Directory string `json:"directory"`
	Path      string `json:"path"`
}

// Artifacts records the files a backup run produced, by category.
type Artifacts struct {
	Database string         `json:"database,omitempty"`
	Files    []FileArtifact `json:"files,omitempty"`
}

// IsEmpty reports whether no artifacts were recorded.
func (a Artifacts) IsEmpty() bool {
	return a.Database == "" && len(a.Files) == 0
}

// Paths returns every artifact path, database first.
func (a Artifacts) Paths() []string {
	paths := make([]string, 0, len(a.Files)+1)
	if a.Database != "" {
		paths = append(paths, a.Database)
	}
	for _, f := range a.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// FilePathValue returns the file_path column value: the bare path when exactly
// one artifact exists, otherwise a JSON object mapping category to path(s).
func (a Artifacts) FilePathValue() (string, error) {
	paths := a.Paths()
	if len(paths) == 1 {
		return paths[0], nil
	}

	m := make(map[string]any, 2)
	if a.Database != "" {
		m["database"] = a.Database
	}
	if len(a.Files) > 0 {
		files := make([]string, 0, len(a.Files))
		for _, f := range a.Files {
			files = append(files, f.Path)
		}
		m["files"] = files
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal artifact paths: %w", err)
	}
	return string(data), nil
}

// Backup represents a single backup run and the artifacts it produced.
type Backup struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Type        BackupType     `json:"type" db:"type"`
	FilePath    string         `json:"file_path,omitempty" db:"file_path"`
	Status      BackupStatus   `json:"status" db:"status"`
	FileSize    int64          `json:"file_size" db:"file_size"`
	CreatedBy   string         `json:"created_by,omitempty" db:"created_by"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// NewBackup creates a pending backup record.
func NewBackup(name string, backupType BackupType, createdBy string, now time.Time) *Backup {
	return &Backup{
		ID:        uuid.New(),
		Name:      name,
		Type:      backupType,
		Status:    BackupStatusPending,
		CreatedBy: createdBy,
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetMeta sets a metadata value, allocating the map when needed.
func (b *Backup) SetMeta(key string, value any) {
	if b.Metadata == nil {
		b.Metadata = make(map[string]any)
	}
	b.Metadata[key] = value
}

// Complete marks the backup as completed with its artifacts.
func (b *Backup) Complete(artifacts Artifacts, totalSize int64, now time.Time) error {
	filePath, err := artifacts.FilePathValue()
	if err != nil {
		return err
	}
	b.Status = BackupStatusCompleted
	b.FilePath = filePath
	b.FileSize = totalSize
	b.CompletedAt = &now
	b.UpdatedAt = now
	b.SetMeta(MetaArtifacts, artifacts)
	b.SetMeta(MetaTotalSize, totalSize)
	b.SetMeta(MetaCompletedAt, now.UTC().Format(time.RFC3339))
	return nil
}

// Fail marks the backup as failed with the given error message.
func (b *Backup) Fail(errMsg string, now time.Time) {
	b.Status = BackupStatusFailed
	b.UpdatedAt = now
	b.SetMeta(MetaError, errMsg)
	b.SetMeta(MetaFailedAt, now.UTC().Format(time.RFC3339))
}

// IsFinished reports whether the backup left the pending state.
func (b *Backup) IsFinished() bool {
	return b.Status == BackupStatusCompleted || b.Status == BackupStatusFailed
}

// ErrNoArtifacts is returned when a backup carries no artifact record.
var ErrNoArtifacts = errors.New("backup has no recorded artifacts")

// Artifacts returns the artifacts recorded in metadata. Metadata read back from
// a store arrives as generic JSON, so the value is re-decoded when needed.
func (b *Backup) Artifacts() (Artifacts, error) {
	raw, ok := b.Metadata[MetaArtifacts]
	if !ok || raw == nil {
		return Artifacts{}, ErrNoArtifacts
	}
	switch v := raw.(type) {
	case Artifacts:
		return v, nil
	case *Artifacts:
		return *v, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Artifacts{}, fmt.Errorf("marshal artifacts: %w", err)
	}
	var a Artifacts
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifacts{}, fmt.Errorf("decode artifacts: %w", err)
	}
	if a.IsEmpty() {
		return Artifacts{}, ErrNoArtifacts
	}
	return a, nil
}

// ErrorMessage returns the recorded failure message, if any.
func (b *Backup) ErrorMessage() string {
	if s, ok := b.Metadata[MetaError].(string); ok {
		return s
	}
	return ""
}

// Age returns how long ago the backup was created.
func (b *Backup) Age(now time.Time) time.Duration {
	return now.Sub(b.CreatedAt)
}

// SetMetadata sets the metadata from JSON bytes.
func (b *Backup) SetMetadata(data []byte) error {
	if len(data) == 0 {
		b.Metadata = make(map[string]any)
		return nil
	}
	return json.Unmarshal(data, &b.Metadata)
}

// MetadataJSON returns the metadata as JSON bytes for database storage.
func (b *Backup) MetadataJSON() ([]byte, error) {
	if b.Metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.Metadata)
}
