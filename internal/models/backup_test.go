package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseBackupType(t *testing.T) {
	tests := []struct {
		in      string
		want    BackupType
		wantErr bool
	}{
		{"", BackupTypeFull, false},
		{"full", BackupTypeFull, false},
		{"database", BackupTypeDatabase, false},
		{"files", BackupTypeFiles, false},
		{"invalid", "", true},
		{"FULL", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackupType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackupType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBackupType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewBackup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBackup("manual", BackupTypeFull, "cli", now)

	if b.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if b.Status != BackupStatusPending {
		t.Errorf("expected Status %s, got %s", BackupStatusPending, b.Status)
	}
	if b.Metadata == nil {
		t.Error("expected metadata map to be allocated")
	}
	if !b.CreatedAt.Equal(now) {
		t.Errorf("expected CreatedAt %v, got %v", now, b.CreatedAt)
	}
	if b.IsFinished() {
		t.Error("pending backup should not be finished")
	}
}

func TestBackup_CompleteSinglePath(t *testing.T) {
	now := time.Now()
	b := NewBackup("db", BackupTypeDatabase, "cli", now)

	err := b.Complete(Artifacts{Database: "/b/database/dump.sql"}, 1024, now)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if b.Status != BackupStatusCompleted {
		t.Errorf("expected completed, got %s", b.Status)
	}
	if b.FilePath != "/b/database/dump.sql" {
		t.Errorf("expected bare path, got %q", b.FilePath)
	}
	if b.FileSize != 1024 {
		t.Errorf("expected size 1024, got %d", b.FileSize)
	}
	if b.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if _, ok := b.Metadata[MetaCompletedAt]; !ok {
		t.Error("expected completed_at metadata")
	}
}

func TestBackup_CompleteMultiplePaths(t *testing.T) {
	now := time.Now()
	b := NewBackup("full", BackupTypeFull, "cli", now)
	artifacts := Artifacts{
		Database: "/b/database/dump.sql",
		Files: []FileArtifact{
			{Directory: "storage/app/uploads", Path: "/b/files/uploads.zip"},
			{Directory: "storage/app/documents", Path: "/b/files/documents.zip"},
		},
	}

	if err := b.Complete(artifacts, 10, now); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	var decoded struct {
		Database string   `json:"database"`
		Files    []string `json:"files"`
	}
	if err := json.Unmarshal([]byte(b.FilePath), &decoded); err != nil {
		t.Fatalf("file path is not JSON: %v", err)
	}
	if decoded.Database != "/b/database/dump.sql" {
		t.Errorf("unexpected database path %q", decoded.Database)
	}
	if len(decoded.Files) != 2 || decoded.Files[1] != "/b/files/documents.zip" {
		t.Errorf("unexpected file paths %v", decoded.Files)
	}
}

func TestBackup_Fail(t *testing.T) {
	now := time.Now()
	b := NewBackup("full", BackupTypeFull, "cli", now)
	b.Fail("dump tool not found", now)

	if b.Status != BackupStatusFailed {
		t.Errorf("expected failed, got %s", b.Status)
	}
	if b.ErrorMessage() != "dump tool not found" {
		t.Errorf("unexpected error message %q", b.ErrorMessage())
	}
	if _, ok := b.Metadata[MetaFailedAt]; !ok {
		t.Error("expected failed_at metadata")
	}
	if b.CompletedAt != nil {
		t.Error("failed backup should not have CompletedAt")
	}
}

func TestBackup_ArtifactsAfterStoreRoundTrip(t *testing.T) {
	now := time.Now()
	b := NewBackup("full", BackupTypeFull, "cli", now)
	want := Artifacts{
		Database: "/b/a.sql",
		Files:    []FileArtifact{{Directory: "uploads", Path: "/b/b.zip"}},
	}
	if err := b.Complete(want, 3, now); err != nil {
		t.Fatal(err)
	}

	data, err := b.MetadataJSON()
	if err != nil {
		t.Fatal(err)
	}
	loaded := &Backup{}
	if err := loaded.SetMetadata(data); err != nil {
		t.Fatal(err)
	}

	got, err := loaded.Artifacts()
	if err != nil {
		t.Fatalf("Artifacts() error = %v", err)
	}
	if got.Database != want.Database || len(got.Files) != 1 || got.Files[0] != want.Files[0] {
		t.Errorf("Artifacts() = %+v, want %+v", got, want)
	}
}

func TestBackup_ArtifactsMissing(t *testing.T) {
	b := NewBackup("full", BackupTypeFull, "cli", time.Now())
	if _, err := b.Artifacts(); !errors.Is(err, ErrNoArtifacts) {
		t.Errorf("expected ErrNoArtifacts, got %v", err)
	}
}

func TestArtifacts_Paths(t *testing.T) {
	a := Artifacts{
		Database: "/b/a.sql",
		Files:    []FileArtifact{{Path: "/b/b.zip"}, {Path: "/b/c.zip"}},
	}
	paths := a.Paths()
	if len(paths) != 3 || paths[0] != "/b/a.sql" || paths[2] != "/b/c.zip" {
		t.Errorf("unexpected paths %v", paths)
	}
	if (Artifacts{}).IsEmpty() != true {
		t.Error("zero Artifacts should be empty")
	}
}

func TestBackupSchedule_OverdueHours(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewBackupSchedule("nightly", "0 2 * * *", BackupTypeFull)

	if got := s.OverdueHours(now); got != 0 {
		t.Errorf("expected 0 without next run, got %v", got)
	}

	future := now.Add(time.Hour)
	s.NextRunAt = &future
	if got := s.OverdueHours(now); got != 0 {
		t.Errorf("expected 0 when not yet due, got %v", got)
	}

	past := now.Add(-3 * time.Hour)
	s.NextRunAt = &past
	if got := s.OverdueHours(now); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}

	s.RecordRun(now, now.Add(24*time.Hour))
	if s.LastRunAt == nil || !s.LastRunAt.Equal(now) {
		t.Error("expected LastRunAt to be recorded")
	}
	if got := s.OverdueHours(now); got != 0 {
		t.Errorf("expected 0 after run, got %v", got)
	}
}
