package backup

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/config"
)

const (
	filesSubdir      = "files"
	archiveExtension = ".zip"
)

// ArchiveEntry describes one entry of a zip archive.
type ArchiveEntry struct {
	Name           string    `json:"name"`
	Size           int64     `json:"size"`
	CompressedSize int64     `json:"compressed_size"`
	Modified       time.Time `json:"modified"`
}

// FileHandler archives directories into deflate-compressed zip files.
type FileHandler struct {
	cfg    *config.BackupConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(cfg *config.BackupConfig, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		cfg:    cfg,
		logger: logger.With().Str("component", "file_backup").Logger(),
		now:    time.Now,
	}
}

// Dir returns the directory archives are written to.
func (h *FileHandler) Dir() string {
	return filepath.Join(h.cfg.StoragePath(), filesSubdir)
}

// DefaultArchiveName returns <dirBase>_backup_<timestamp>.zip.
func DefaultArchiveName(dir string, t time.Time) string {
	return fmt.Sprintf("%s_backup_%s%s", filepath.Base(filepath.Clean(dir)), t.Format(TimestampFormat), archiveExtension)
}

// archiveSource is a directory added to an archive under Root.
type archiveSource struct {
	Dir  string
	Root string
}

// BackupDirectory archives dir under Dir. Entries are rooted at the base name
// of dir and empty subdirectories are kept. It returns the archive path.
func (h *FileHandler) BackupDirectory(ctx context.Context, dir, archiveName string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("backup directory %s: %w", dir, ErrNotADirectory)
	}

	if archiveName == "" {
		archiveName = DefaultArchiveName(dir, h.now())
	}
	if !strings.HasSuffix(strings.ToLower(archiveName), archiveExtension) {
		archiveName += archiveExtension
	}

	level, err := h.cfg.CompressionLevel()
	if err != nil {
		return "", &Error{Kind: KindConfig, Component: "files", Err: err}
	}

	outPath := filepath.Join(h.Dir(), filepath.Base(archiveName))
	sources := []archiveSource{{Dir: dir, Root: filepath.Base(filepath.Clean(dir))}}
	if err := h.writeArchive(ctx, outPath, level, sources); err != nil {
		return "", err
	}

	h.logger.Info().
		Str("directory", dir).
		Str("path", outPath).
		Int64("size_bytes", fileSize(outPath)).
		Msg("directory archived")

	return outPath, nil
}

// CreatePreRestoreBackup archives every existing directory in dirs into one
// archive, each under its base name. An empty archiveName becomes
// pre_restore_backup_<timestamp>.zip. It fails with KindConfig when none of
// dirs exists.
func (h *FileHandler) CreatePreRestoreBackup(ctx context.Context, dirs []string, archiveName string) (string, error) {
	level, err := h.cfg.CompressionLevel()
	if err != nil {
		return "", &Error{Kind: KindConfig, Component: "files", Err: err}
	}

	var sources []archiveSource
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			h.logger.Warn().Str("directory", dir).Msg("skipping missing directory in pre-restore backup")
			continue
		}
		sources = append(sources, archiveSource{Dir: dir, Root: filepath.Base(filepath.Clean(dir))})
	}
	if len(sources) == 0 {
		return "", &Error{Kind: KindConfig, Component: "files", Err: errors.New("no configured backup directory exists")}
	}

	name := archiveName
	if name == "" {
		name = fmt.Sprintf("pre_restore_backup_%s", h.now().Format(TimestampFormat))
	}
	if !strings.HasSuffix(strings.ToLower(name), archiveExtension) {
		name += archiveExtension
	}
	outPath := filepath.Join(h.Dir(), filepath.Base(name))
	if err := h.writeArchive(ctx, outPath, level, sources); err != nil {
		return "", err
	}

	h.logger.Info().
		Int("directories", len(sources)).
		Str("path", outPath).
		Msg("pre-restore backup created")

	return outPath, nil
}

// writeArchive writes sources into outPath. A partially written archive is
// removed on any failure.
func (h *FileHandler) writeArchive(ctx context.Context, outPath string, level int, sources []archiveSource) (err error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(outPath)
		}
	}()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	for _, src := range sources {
		if err := addDirectory(ctx, zw, src); err != nil {
			zw.Close()
			return fmt.Errorf("archive %s: %w", src.Dir, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if fileSize(outPath) == 0 {
		return fmt.Errorf("archive %s: %w", outPath, ErrEmptyOutput)
	}
	return nil
}

func addDirectory(ctx context.Context, zw *zip.Writer, src archiveSource) error {
	return filepath.WalkDir(src.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src.Dir, path)
		if err != nil {
			return err
		}
		name := src.Root
		if rel != "." {
			name = src.Root + "/" + filepath.ToSlash(rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			header, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			header.Name = name + "/"
			header.Method = zip.Store
			_, err = zw.CreateHeader(header)
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		return closeErr
	})
}

// ValidateArchive reports whether path is a readable, non-empty zip archive
// whose entries all pass their CRC-32 check.
func (h *FileHandler) ValidateArchive(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		h.logger.Warn().Str("path", path).Msg("archive is missing or empty")
		return false
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("archive cannot be opened")
		return false
	}
	defer r.Close()

	if len(r.File) == 0 {
		h.logger.Warn().Str("path", path).Msg("archive has no entries")
		return false
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := checkEntry(f); err != nil {
			h.logger.Warn().Err(err).Str("path", path).Str("entry", f.Name).Msg("archive entry is corrupt")
			return false
		}
	}
	return true
}

func checkEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, rc)
	closeErr := rc.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// ExtractArchive validates path and extracts it into dest.
func (h *FileHandler) ExtractArchive(path, dest string) bool {
	if !h.ValidateArchive(path) {
		return false
	}
	if err := extractZip(path, dest); err != nil {
		h.logger.Error().Err(err).Str("path", path).Str("destination", dest).Msg("archive extraction failed")
		return false
	}
	h.logger.Info().Str("path", path).Str("destination", dest).Msg("archive extracted")
	return true
}

// ErrUnsafeEntry is returned for archive entries that would escape the destination.
var ErrUnsafeEntry = errors.New("archive entry escapes destination")

func extractZip(path, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", ErrUnsafeEntry, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", f.Name, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", f.Name, err)
	}
	return nil
}

// ArchiveContents lists the entries of path. It returns an empty list when
// the archive is invalid.
func (h *FileHandler) ArchiveContents(path string) []ArchiveEntry {
	if !h.ValidateArchive(path) {
		return []ArchiveEntry{}
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("archive cannot be opened")
		return []ArchiveEntry{}
	}
	defer r.Close()

	entries := make([]ArchiveEntry, 0, len(r.File))
	for _, f := range r.File {
		entries = append(entries, ArchiveEntry{
			Name:           f.Name,
			Size:           int64(f.UncompressedSize64),
			CompressedSize: int64(f.CompressedSize64),
			Modified:       f.Modified,
		})
	}
	return entries
}

// ArchiveSize returns the size of the archive at path, or 0 when absent.
func (h *FileHandler) ArchiveSize(path string) int64 {
	return fileSize(path)
}

// DeleteArchive removes the archive at path. Deleting a missing file succeeds.
func (h *FileHandler) DeleteArchive(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete archive: %w", err)
	}
	return nil
}
