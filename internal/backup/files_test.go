package backup

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacJediWizard/freightdesk/internal/config"
)

func newTestFileHandler(t *testing.T, values map[string]any) (*FileHandler, string) {
	t.Helper()
	storage := t.TempDir()
	merged := map[string]any{"backup.storage_path": storage}
	for k, v := range values {
		merged[k] = v
	}
	return NewFileHandler(config.NewBackupConfig(config.NewMapProvider(merged)), zerolog.Nop()), storage
}

// makeTree creates files (path -> content) and empty directories under root.
func makeTree(t *testing.T, root string, files map[string]string, emptyDirs ...string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	for _, rel := range emptyDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(rel)), 0o755))
	}
}

func TestBackupDirectory_RoundTrip(t *testing.T) {
	h, storage := newTestFileHandler(t, nil)

	src := filepath.Join(t.TempDir(), "uploads")
	files := map[string]string{
		"invoice.pdf":             "%PDF-1.7 invoice",
		"labels/2026/label-1.png": strings.Repeat("png", 1000),
		"labels/2026/label-2.png": "second label",
		"customs/declaration.txt": "contents: books",
	}
	makeTree(t, src, files, "empty", "labels/2025")

	path, err := h.BackupDirectory(context.Background(), src, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage, "files"), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "uploads_backup_"))
	assert.True(t, strings.HasSuffix(path, ".zip"))
	assert.True(t, h.ValidateArchive(path))

	dest := t.TempDir()
	require.True(t, h.ExtractArchive(path, dest))

	for rel, content := range files {
		got, err := os.ReadFile(filepath.Join(dest, "uploads", filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		assert.Equal(t, content, string(got), rel)
	}
	for _, dir := range []string{"empty", "labels/2025", "customs"} {
		info, err := os.Stat(filepath.Join(dest, "uploads", filepath.FromSlash(dir)))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestBackupDirectory_NameAndLevel(t *testing.T) {
	h, storage := newTestFileHandler(t, map[string]any{"backup.compression.level": 0})
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": strings.Repeat("a", 4096)})

	path, err := h.BackupDirectory(context.Background(), src, "custom")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage, "files", "custom.zip"), path)

	entries := h.ArchiveContents(path)
	var file ArchiveEntry
	for _, e := range entries {
		if strings.HasSuffix(e.Name, "a.txt") {
			file = e
		}
	}
	assert.Equal(t, int64(4096), file.Size)
	assert.GreaterOrEqual(t, file.CompressedSize, int64(4096), "level 0 stores without compression")
}

func TestBackupDirectory_InvalidCompressionLevel(t *testing.T) {
	h, storage := newTestFileHandler(t, map[string]any{"backup.compression.level": 12})
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "a"})

	_, err := h.BackupDirectory(context.Background(), src, "x.zip")
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.True(t, errors.Is(err, config.ErrInvalidCompressionLevel))

	_, statErr := os.Stat(filepath.Join(storage, "files", "x.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBackupDirectory_NotADirectory(t *testing.T) {
	h, _ := newTestFileHandler(t, nil)

	_, err := h.BackupDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), "")
	assert.True(t, errors.Is(err, ErrNotADirectory))

	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err = h.BackupDirectory(context.Background(), f, "")
	assert.True(t, errors.Is(err, ErrNotADirectory))
}

func TestBackupDirectory_CancelledRemovesPartialArchive(t *testing.T) {
	h, storage := newTestFileHandler(t, nil)
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.BackupDirectory(ctx, src, "cancelled.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	_, statErr := os.Stat(filepath.Join(storage, "files", "cancelled.zip"))
	assert.True(t, os.IsNotExist(statErr), "partial archive should be removed")
}

func TestValidateArchive(t *testing.T) {
	h, _ := newTestFileHandler(t, nil)
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.zip")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	text := filepath.Join(dir, "text.zip")
	require.NoError(t, os.WriteFile(text, []byte("this is not a zip archive"), 0o644))

	noEntries := filepath.Join(dir, "none.zip")
	f, err := os.Create(noEntries)
	require.NoError(t, err)
	require.NoError(t, zip.NewWriter(f).Close())
	require.NoError(t, f.Close())

	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "hello"})
	good, err := h.BackupDirectory(context.Background(), src, "good.zip")
	require.NoError(t, err)

	assert.False(t, h.ValidateArchive(filepath.Join(dir, "missing.zip")))
	assert.False(t, h.ValidateArchive(empty))
	assert.False(t, h.ValidateArchive(text))
	assert.False(t, h.ValidateArchive(noEntries))
	assert.True(t, h.ValidateArchive(good))
}

func TestValidateArchive_CorruptEntry(t *testing.T) {
	h, _ := newTestFileHandler(t, map[string]any{"backup.compression.level": 0})
	src := t.TempDir()
	makeTree(t, src, map[string]string{"payload.txt": "ABCDEFGHIJKLMNOPQRSTUVWXYZ"})

	path, err := h.BackupDirectory(context.Background(), src, "corrupt.zip")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx := strings.Index(string(data), "ABCDEFGHIJ")
	require.Greater(t, idx, 0)
	data[idx] = 'Z'
	require.NoError(t, os.WriteFile(path, data, 0o644))

	assert.False(t, h.ValidateArchive(path))
}

func TestExtractArchive_RejectsEscapingEntries(t *testing.T) {
	h, _ := newTestFileHandler(t, nil)
	path := filepath.Join(t.TempDir(), "evil.zip")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../escaped.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("gotcha"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	assert.False(t, h.ExtractArchive(path, dest))

	_, statErr := os.Stat(filepath.Join(parent, "escaped.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractArchive_InvalidArchive(t *testing.T) {
	h, _ := newTestFileHandler(t, nil)
	assert.False(t, h.ExtractArchive(filepath.Join(t.TempDir(), "missing.zip"), t.TempDir()))
}

func TestArchiveContents(t *testing.T) {
	h, _ := newTestFileHandler(t, nil)
	src := filepath.Join(t.TempDir(), "documents")
	makeTree(t, src, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"})

	path, err := h.BackupDirectory(context.Background(), src, "")
	require.NoError(t, err)

	names := make(map[string]ArchiveEntry)
	for _, e := range h.ArchiveContents(path) {
		names[e.Name] = e
	}
	assert.Contains(t, names, "documents/")
	assert.Contains(t, names, "documents/sub/")
	assert.Equal(t, int64(5), names["documents/a.txt"].Size)
	assert.Equal(t, int64(4), names["documents/sub/b.txt"].Size)
	assert.False(t, names["documents/a.txt"].Modified.IsZero())

	assert.Empty(t, h.ArchiveContents(filepath.Join(t.TempDir(), "missing.zip")))
}

func TestCreatePreRestoreBackup(t *testing.T) {
	h, storage := newTestFileHandler(t, nil)
	base := t.TempDir()
	uploads := filepath.Join(base, "uploads")
	documents := filepath.Join(base, "documents")
	makeTree(t, uploads, map[string]string{"u.txt": "upload"})
	makeTree(t, documents, map[string]string{"d.txt": "document"})

	path, err := h.CreatePreRestoreBackup(context.Background(), []string{uploads, filepath.Join(base, "missing"), documents}, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage, "files"), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "pre_restore_backup_"))
	assert.True(t, h.ValidateArchive(path))

	dest := t.TempDir()
	require.True(t, h.ExtractArchive(path, dest))

	got, err := os.ReadFile(filepath.Join(dest, "uploads", "u.txt"))
	require.NoError(t, err)
	assert.Equal(t, "upload", string(got))
	got, err = os.ReadFile(filepath.Join(dest, "documents", "d.txt"))
	require.NoError(t, err)
	assert.Equal(t, "document", string(got))

	_, err = os.Stat(filepath.Join(dest, "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreatePreRestoreBackup_NoExistingDirectories(t *testing.T) {
	h, storage := newTestFileHandler(t, nil)
	base := t.TempDir()

	path, err := h.CreatePreRestoreBackup(context.Background(), []string{filepath.Join(base, "gone"), filepath.Join(base, "also_gone")}, "")
	require.Error(t, err)
	assert.Empty(t, path)
	assert.Equal(t, KindConfig, KindOf(err))

	entries, err := os.ReadDir(filepath.Join(storage, "files"))
	if err == nil {
		assert.Empty(t, entries)
	} else {
		assert.True(t, os.IsNotExist(err))
	}
}

func TestCreatePreRestoreBackup_ArchiveName(t *testing.T) {
	h, storage := newTestFileHandler(t, nil)
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "a"})

	path, err := h.CreatePreRestoreBackup(context.Background(), []string{src}, "pre_restore_backup_2026-03-14_09-30-00_ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage, "files", "pre_restore_backup_2026-03-14_09-30-00_ab12cd34.zip"), path)
	assert.True(t, h.ValidateArchive(path))

	// Directory components in the name are dropped.
	path, err = h.CreatePreRestoreBackup(context.Background(), []string{src}, "../escape.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage, "files", "escape.zip"), path)
}

func TestArchiveSizeAndDelete(t *testing.T) {
	h, _ := newTestFileHandler(t, nil)
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "a"})

	path, err := h.BackupDirectory(context.Background(), src, "sized.zip")
	require.NoError(t, err)
	assert.Greater(t, h.ArchiveSize(path), int64(0))

	require.NoError(t, h.DeleteArchive(path))
	assert.Equal(t, int64(0), h.ArchiveSize(path))
	require.NoError(t, h.DeleteArchive(path), "deleting a missing archive succeeds")
}
