package backup

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/config"
)

// TimestampFormat is used in generated artifact names.
const TimestampFormat = "2006-01-02_15-04-05"

// dumpWaitDelay bounds how long a cancelled dump may keep its output pipes
// open before Wait gives up on them.
const dumpWaitDelay = 5 * time.Second

const (
	dumpHeaderLines   = 20
	dumpSniffBytes    = 2048
	connectTimeout    = 10 * time.Second
	maxLoggedOutput   = 4096
	databaseSubdir    = "database"
	exitCodeNotFound  = 127
	redactedPassword  = "***"
	passwordArgPrefix = "--password="
)

var dumpHeaderMarkers = []string{"-- MySQL dump", "-- MariaDB dump", "CREATE TABLE", "INSERT INTO"}

var sqlMarkers = []string{"CREATE ", "INSERT ", "DROP ", "SET ", "USE ", "LOCK TABLES"}

// DatabaseHandler produces MySQL/MariaDB dump files.
type DatabaseHandler struct {
	cfg     *config.BackupConfig
	locator ToolLocator
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDatabaseHandler creates a DatabaseHandler. A nil locator probes for the
// dump tool using the configured override.
func NewDatabaseHandler(cfg *config.BackupConfig, locator ToolLocator, logger zerolog.Logger) *DatabaseHandler {
	if locator == nil {
		locator = NewPathLocator(cfg.DumpBinary())
	}
	return &DatabaseHandler{
		cfg:     cfg,
		locator: locator,
		logger:  logger.With().Str("component", "database_backup").Logger(),
		now:     time.Now,
	}
}

// Dir returns the directory dumps are written to.
func (h *DatabaseHandler) Dir() string {
	return filepath.Join(h.cfg.StoragePath(), databaseSubdir)
}

// DefaultDumpName returns database_backup_<dbname>_<timestamp>.sql.
func DefaultDumpName(database string, t time.Time) string {
	return fmt.Sprintf("database_backup_%s_%s.sql", database, t.Format(TimestampFormat))
}

// CreateDump runs the dump tool and writes its output under Dir. An empty
// filename generates a timestamped name. It returns the path of the dump.
func (h *DatabaseHandler) CreateDump(ctx context.Context, filename string) (string, error) {
	conn := h.cfg.DatabaseConnection()
	if filename == "" {
		filename = DefaultDumpName(conn.Database, h.now())
	}

	tool, err := h.locator.Locate()
	if err != nil {
		return "", err
	}

	dir := h.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump directory: %w", err)
	}
	outPath := filepath.Join(dir, filepath.Base(filename))

	args := buildDumpArgs(conn, h.cfg.SingleTransaction(), h.cfg.IncludeRoutines(), h.cfg.IncludeTriggers())

	h.logger.Debug().
		Str("tool", tool).
		Strs("args", sanitizeArgs(args)).
		Str("output", outPath).
		Msg("executing database dump")

	timeout := h.cfg.DatabaseTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outFile, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create dump file: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, tool, args...)
	cmd.Stdout = outFile
	cmd.Stderr = &stderr
	killProcessGroup(cmd)
	cmd.WaitDelay = dumpWaitDelay

	runErr := cmd.Run()
	closeErr := outFile.Close()

	if runErr != nil {
		os.Remove(outPath)
		output := redact(strings.TrimSpace(stderr.String()), conn.Password)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("database dump timed out after %s", timeout)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		h.logger.Error().
			Int("exit_code", exitCode).
			Str("output", truncate(output, maxLoggedOutput)).
			Msg("database dump failed")
		return "", interpretDumpFailure(exitCode, output, runErr)
	}
	if closeErr != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("close dump file: %w", closeErr)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return "", fmt.Errorf("database dump %s: %w", outPath, ErrEmptyOutput)
	}

	h.logger.Info().
		Str("path", outPath).
		Int64("size_bytes", info.Size()).
		Msg("database dump created")

	return outPath, nil
}

// ValidateDump reports whether path looks like a usable SQL dump. The first
// lines must carry a dump banner or DDL/DML statement and the leading bytes
// must contain generic SQL.
func (h *DatabaseHandler) ValidateDump(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("dump file cannot be opened")
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		h.logger.Warn().Str("path", path).Msg("dump file is empty")
		return false
	}

	if !hasDumpHeader(f) {
		h.logger.Warn().Str("path", path).Msg("dump file has no SQL dump header")
		return false
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("dump file cannot be re-read")
		return false
	}
	head := make([]byte, dumpSniffBytes)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.logger.Warn().Err(err).Str("path", path).Msg("dump file cannot be read")
		return false
	}
	upper := strings.ToUpper(string(head[:n]))
	for _, m := range sqlMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}

	h.logger.Warn().Str("path", path).Msg("dump file contains no SQL statements")
	return false
}

// DumpSize returns the size of the dump at path, or 0 when it does not exist.
func (h *DatabaseHandler) DumpSize(path string) int64 {
	return fileSize(path)
}

// TestConnection connects to the configured server and pings it.
func (h *DatabaseHandler) TestConnection(ctx context.Context) error {
	conn := h.cfg.DatabaseConnection()

	mc := mysql.NewConfig()
	mc.User = conn.Username
	mc.Passwd = conn.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))
	mc.DBName = conn.Database
	mc.Timeout = connectTimeout

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database %s: %w", mc.Addr, err)
	}

	h.logger.Info().Str("addr", mc.Addr).Str("database", conn.Database).Msg("database connection ok")
	return nil
}

func buildDumpArgs(conn config.DatabaseConnection, singleTransaction, routines, triggers bool) []string {
	args := []string{
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
		"--user=" + conn.Username,
	}
	if conn.Password != "" {
		args = append(args, passwordArgPrefix+conn.Password)
	}
	if singleTransaction {
		args = append(args, "--single-transaction")
	}
	if routines {
		args = append(args, "--routines")
	}
	if triggers {
		args = append(args, "--triggers")
	}
	args = append(args,
		"--opt",
		"--hex-blob",
		"--default-character-set=utf8mb4",
		conn.Database,
	)
	return args
}

// sanitizeArgs returns args with the password masked for logging.
func sanitizeArgs(args []string) []string {
	sanitized := make([]string, len(args))
	for i, arg := range args {
		if strings.HasPrefix(arg, passwordArgPrefix) {
			sanitized[i] = passwordArgPrefix + redactedPassword
		} else {
			sanitized[i] = arg
		}
	}
	return sanitized
}

func interpretDumpFailure(exitCode int, output string, runErr error) error {
	lower := strings.ToLower(output)
	switch {
	case exitCode == exitCodeNotFound:
		return fmt.Errorf("%w: exit status 127", ErrDumpToolNotFound)
	case strings.Contains(output, "Access denied"):
		return fmt.Errorf("%w: check database.username and database.password", ErrAccessDenied)
	case strings.Contains(output, "Unknown database"):
		return fmt.Errorf("%w: %s", ErrUnknownDatabase, output)
	case strings.Contains(lower, "command not found"), strings.Contains(lower, "not recognized"):
		return fmt.Errorf("%w: %s", ErrDumpToolNotFound, output)
	case output != "":
		return fmt.Errorf("database dump failed: %s", output)
	default:
		return fmt.Errorf("database dump failed: %w", runErr)
	}
}

func hasDumpHeader(r io.Reader) bool {
	br := bufio.NewReader(r)
	for i := 0; i < dumpHeaderLines; i++ {
		line, isPrefix, err := br.ReadLine()
		if len(line) > 0 {
			s := string(line)
			for _, m := range dumpHeaderMarkers {
				if strings.Contains(s, m) {
					return true
				}
			}
		}
		for isPrefix && err == nil {
			_, isPrefix, err = br.ReadLine()
		}
		if err != nil {
			return false
		}
	}
	return false
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, redactedPassword)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
