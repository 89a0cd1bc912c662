package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidCompressionLevel is returned when backup.compression.level is outside 0-9.
var ErrInvalidCompressionLevel = errors.New("compression level must be between 0 and 9")

// Defaults for backup configuration keys.
const (
	DefaultStoragePath             = "storage/app/backups"
	DefaultDiskRoot                = "storage/app"
	DefaultStorageDriver           = "local"
	DefaultCompressionLevel        = 6
	DefaultRetentionDays           = 30
	DefaultDatabaseRetentionDays   = 30
	DefaultFileRetentionDays       = 14
	DefaultMinBackupsToKeep        = 3
	DefaultDatabaseTimeoutSeconds  = 300
	DefaultRetryAttempts           = 1
	DefaultRetryDelaySeconds       = 300
	DefaultStorageWarningThreshold = 80
	DefaultMaxStorageMB            = 10240
	DefaultMonitorWindowDays       = 7
	DefaultMaxConcurrentBackups    = 1
	DefaultDownloadLinkTTLSeconds  = 3600
	DefaultLockDriver              = "local"
	DefaultLockTTLSeconds          = 7200
)

// DefaultBackupDirectories are archived when backup.files.directories is unset.
var DefaultBackupDirectories = []string{"storage/app/uploads", "storage/app/documents"}

// DatabaseConnection holds the connection parameters passed to the dump tool.
type DatabaseConnection struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// OffsiteSettings configures the optional S3 copy of completed backups.
type OffsiteSettings struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// MailSettings configures the SMTP relay used for notifications.
type MailSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      bool   `yaml:"tls"`
}

// RedisSettings configures the Redis connection used for run locks.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BackupConfig is a typed, defaulted view over a Provider. It holds no state of
// its own; every accessor resolves its key on each call.
type BackupConfig struct {
	p Provider
}

// NewBackupConfig creates a BackupConfig over p.
func NewBackupConfig(p Provider) *BackupConfig {
	if p == nil {
		p = NewMapProvider(nil)
	}
	return &BackupConfig{p: p}
}

func (c *BackupConfig) str(key, def string) string {
	if v, ok := c.p.Get(key); ok {
		if s, ok := toString(v); ok {
			return s
		}
	}
	return def
}

func (c *BackupConfig) integer(key string, def int) int {
	if v, ok := c.p.Get(key); ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return def
}

func (c *BackupConfig) boolean(key string, def bool) bool {
	if v, ok := c.p.Get(key); ok {
		if b, ok := toBool(v); ok {
			return b
		}
	}
	return def
}

func (c *BackupConfig) list(key string, def []string) []string {
	if v, ok := c.p.Get(key); ok {
		if l, ok := toStrings(v); ok {
			return l
		}
	}
	out := make([]string, len(def))
	copy(out, def)
	return out
}

// StoragePath is the root directory for backup artifacts.
func (c *BackupConfig) StoragePath() string {
	return c.str("backup.storage_path", DefaultStoragePath)
}

// DiskRoot is the directory that storage-relative paths resolve against.
func (c *BackupConfig) DiskRoot() string {
	return c.str("backup.disk_root", DefaultDiskRoot)
}

// StorageDriver is "local" or "s3" and selects how storage usage is measured.
func (c *BackupConfig) StorageDriver() string {
	return strings.ToLower(c.str("backup.storage_driver", DefaultStorageDriver))
}

// CompressionLevel returns the archive compression level. A value outside
// 0-9 is a configuration error rather than being clamped.
func (c *BackupConfig) CompressionLevel() (int, error) {
	level := c.integer("backup.compression.level", DefaultCompressionLevel)
	if level < 0 || level > 9 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidCompressionLevel, level)
	}
	return level, nil
}

// RetentionDays is the default number of days backups are kept.
func (c *BackupConfig) RetentionDays() int {
	return c.integer("backup.retention.days", DefaultRetentionDays)
}

// DatabaseRetentionDays is the number of days database dumps are kept.
func (c *BackupConfig) DatabaseRetentionDays() int {
	return c.integer("backup.retention.database_days", DefaultDatabaseRetentionDays)
}

// FileRetentionDays is the number of days file archives are kept.
func (c *BackupConfig) FileRetentionDays() int {
	return c.integer("backup.retention.files_days", DefaultFileRetentionDays)
}

// MinBackupsToKeep is the floor retention cleanup never goes below.
func (c *BackupConfig) MinBackupsToKeep() int {
	return c.integer("backup.retention.min_backups", DefaultMinBackupsToKeep)
}

// RetentionPolicy returns the retention values keyed for status reports.
func (c *BackupConfig) RetentionPolicy() map[string]int {
	return map[string]int{
		"days":          c.RetentionDays(),
		"database_days": c.DatabaseRetentionDays(),
		"files_days":    c.FileRetentionDays(),
		"min_backups":   c.MinBackupsToKeep(),
	}
}

// DatabaseTimeout bounds a single dump tool invocation.
func (c *BackupConfig) DatabaseTimeout() time.Duration {
	return time.Duration(c.integer("backup.database.timeout", DefaultDatabaseTimeoutSeconds)) * time.Second
}

// SingleTransaction enables --single-transaction.
func (c *BackupConfig) SingleTransaction() bool {
	return c.boolean("backup.database.single_transaction", true)
}

// IncludeRoutines enables --routines.
func (c *BackupConfig) IncludeRoutines() bool {
	return c.boolean("backup.database.routines", true)
}

// IncludeTriggers enables --triggers.
func (c *BackupConfig) IncludeTriggers() bool {
	return c.boolean("backup.database.triggers", true)
}

// DumpBinary is an explicit path to the dump tool; empty means probe.
func (c *BackupConfig) DumpBinary() string {
	return c.str("backup.database.dump_binary", "")
}

// DatabaseConnection returns the connection parameters for the dump tool.
func (c *BackupConfig) DatabaseConnection() DatabaseConnection {
	return DatabaseConnection{
		Host:     c.str("database.host", "127.0.0.1"),
		Port:     c.integer("database.port", 3306),
		Username: c.str("database.username", "root"),
		Password: c.str("database.password", ""),
		Database: c.str("database.name", "freightdesk"),
	}
}

// RetryAttempts is the number of retries after the first attempt.
func (c *BackupConfig) RetryAttempts() int {
	n := c.integer("backup.retry.attempts", DefaultRetryAttempts)
	if n < 0 {
		return 0
	}
	return n
}

// RetryDelay is the fixed wait between attempts.
func (c *BackupConfig) RetryDelay() time.Duration {
	n := c.integer("backup.retry.delay", DefaultRetryDelaySeconds)
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

// BackupDirectories are archived, in order, by file backups.
func (c *BackupConfig) BackupDirectories() []string {
	return c.list("backup.files.directories", DefaultBackupDirectories)
}

// NotificationEmail is the recipient for backup notifications.
func (c *BackupConfig) NotificationEmail() string {
	return strings.TrimSpace(c.str("backup.notifications.email", ""))
}

// NotifyOnSuccess sends a notification for completed backups.
func (c *BackupConfig) NotifyOnSuccess() bool {
	return c.boolean("backup.notifications.on_success", false)
}

// NotifyOnFailure sends a notification for failed backups.
func (c *BackupConfig) NotifyOnFailure() bool {
	return c.boolean("backup.notifications.on_failure", true)
}

// NotifyOnHealthWarning sends health alerts from the monitor.
func (c *BackupConfig) NotifyOnHealthWarning() bool {
	return c.boolean("backup.notifications.on_health_warning", true)
}

// SlackWebhookURL is an optional Slack incoming webhook for notifications.
func (c *BackupConfig) SlackWebhookURL() string {
	return c.str("backup.notifications.slack_webhook", "")
}

// StorageWarningThreshold is the storage usage percentage reported as a health concern.
func (c *BackupConfig) StorageWarningThreshold() int {
	return c.integer("backup.monitoring.storage_warning_threshold", DefaultStorageWarningThreshold)
}

// MaxStorageMB is the storage budget for backups in megabytes.
func (c *BackupConfig) MaxStorageMB() int {
	return c.integer("backup.monitoring.max_storage_mb", DefaultMaxStorageMB)
}

// MaxStorageBytes is MaxStorageMB in bytes.
func (c *BackupConfig) MaxStorageBytes() int64 {
	return int64(c.MaxStorageMB()) * 1024 * 1024
}

// MonitorWindowDays is the trailing window for recent backup statistics.
func (c *BackupConfig) MonitorWindowDays() int {
	n := c.integer("backup.monitoring.recent_days", DefaultMonitorWindowDays)
	if n < 1 {
		return DefaultMonitorWindowDays
	}
	return n
}

// MaxConcurrentBackups is a scheduling policy value for external schedulers.
func (c *BackupConfig) MaxConcurrentBackups() int {
	return c.integer("backup.max_concurrent", DefaultMaxConcurrentBackups)
}

// DownloadLinkTTL is how long generated download links stay valid.
func (c *BackupConfig) DownloadLinkTTL() time.Duration {
	return time.Duration(c.integer("backup.download_link_ttl", DefaultDownloadLinkTTLSeconds)) * time.Second
}

// LockDriver is "local" (lock files under the storage path, shared by every
// process on the host), "redis" (shared across hosts) or "memory" (one process).
func (c *BackupConfig) LockDriver() string {
	return strings.ToLower(c.str("backup.lock.driver", DefaultLockDriver))
}

// LockTTL bounds how long a crashed run can hold the run lock.
func (c *BackupConfig) LockTTL() time.Duration {
	return time.Duration(c.integer("backup.lock.ttl", DefaultLockTTLSeconds)) * time.Second
}

// Offsite returns the S3 off-site copy settings.
func (c *BackupConfig) Offsite() OffsiteSettings {
	return OffsiteSettings{
		Enabled:         c.boolean("backup.offsite.enabled", false),
		Bucket:          c.str("backup.offsite.bucket", ""),
		Prefix:          c.str("backup.offsite.prefix", ""),
		Region:          c.str("backup.offsite.region", "us-east-1"),
		Endpoint:        c.str("backup.offsite.endpoint", ""),
		AccessKeyID:     c.str("backup.offsite.access_key_id", ""),
		SecretAccessKey: c.str("backup.offsite.secret_access_key", ""),
	}
}

// SMTP returns the mail relay settings.
func (c *BackupConfig) SMTP() MailSettings {
	return MailSettings{
		Host:     c.str("mail.host", "localhost"),
		Port:     c.integer("mail.port", 25),
		Username: c.str("mail.username", ""),
		Password: c.str("mail.password", ""),
		From:     c.str("mail.from", "backups@localhost"),
		TLS:      c.boolean("mail.tls", false),
	}
}

// Redis returns the Redis connection settings.
func (c *BackupConfig) Redis() RedisSettings {
	return RedisSettings{
		Addr:     c.str("redis.addr", "127.0.0.1:6379"),
		Password: c.str("redis.password", ""),
		DB:       c.integer("redis.db", 0),
	}
}

var validate = validator.New()

// ValidateConfig returns human-readable configuration problems. An empty
// result means the configuration is usable.
func (c *BackupConfig) ValidateConfig() []string {
	var problems []string

	if strings.TrimSpace(c.StoragePath()) == "" {
		problems = append(problems, "Backup storage path is not configured")
	}

	if _, err := c.CompressionLevel(); err != nil {
		problems = append(problems, "Compression level must be between 0 and 9")
	}

	if c.RetentionDays() < 1 {
		problems = append(problems, "Retention days must be at least 1")
	}

	if c.MinBackupsToKeep() < 1 {
		problems = append(problems, "Minimum backups to keep must be at least 1")
	}

	email := c.NotificationEmail()
	anyNotification := c.NotifyOnSuccess() || c.NotifyOnFailure() || c.NotifyOnHealthWarning()
	if anyNotification && email == "" {
		problems = append(problems, "Notification email is required when notifications are enabled")
	}
	if email != "" {
		if err := validate.Var(email, "email"); err != nil {
			problems = append(problems, fmt.Sprintf("Notification email %q is not a valid address", email))
		}
	}

	threshold := c.StorageWarningThreshold()
	if threshold < 1 || threshold > 100 {
		problems = append(problems, "Storage warning threshold must be between 1 and 100")
	}

	return problems
}

// Snapshot is the effective backup configuration with secrets masked.
type Snapshot struct {
	StoragePath             string             `yaml:"storage_path"`
	DiskRoot                string             `yaml:"disk_root"`
	StorageDriver           string             `yaml:"storage_driver"`
	CompressionLevel        int                `yaml:"compression_level"`
	RetentionPolicy         map[string]int     `yaml:"retention"`
	Database                DatabaseConnection `yaml:"database"`
	DatabaseTimeoutSeconds  int                `yaml:"database_timeout_seconds"`
	RetryAttempts           int                `yaml:"retry_attempts"`
	RetryDelaySeconds       int                `yaml:"retry_delay_seconds"`
	Directories             []string           `yaml:"directories"`
	NotificationEmail       string             `yaml:"notification_email"`
	NotifyOnSuccess         bool               `yaml:"notify_on_success"`
	NotifyOnFailure         bool               `yaml:"notify_on_failure"`
	NotifyOnHealthWarning   bool               `yaml:"notify_on_health_warning"`
	StorageWarningThreshold int                `yaml:"storage_warning_threshold"`
	MaxStorageMB            int                `yaml:"max_storage_mb"`
	MaxConcurrentBackups    int                `yaml:"max_concurrent_backups"`
	LockDriver              string             `yaml:"lock_driver"`
	OffsiteEnabled          bool               `yaml:"offsite_enabled"`
}

// Snapshot returns the effective configuration for display.
func (c *BackupConfig) Snapshot() Snapshot {
	level, err := c.CompressionLevel()
	if err != nil {
		level = c.integer("backup.compression.level", DefaultCompressionLevel)
	}
	conn := c.DatabaseConnection()
	if conn.Password != "" {
		conn.Password = "***"
	}
	return Snapshot{
		StoragePath:             c.StoragePath(),
		DiskRoot:                c.DiskRoot(),
		StorageDriver:           c.StorageDriver(),
		CompressionLevel:        level,
		RetentionPolicy:         c.RetentionPolicy(),
		Database:                conn,
		DatabaseTimeoutSeconds:  int(c.DatabaseTimeout() / time.Second),
		RetryAttempts:           c.RetryAttempts(),
		RetryDelaySeconds:       int(c.RetryDelay() / time.Second),
		Directories:             c.BackupDirectories(),
		NotificationEmail:       c.NotificationEmail(),
		NotifyOnSuccess:         c.NotifyOnSuccess(),
		NotifyOnFailure:         c.NotifyOnFailure(),
		NotifyOnHealthWarning:   c.NotifyOnHealthWarning(),
		StorageWarningThreshold: c.StorageWarningThreshold(),
		MaxStorageMB:            c.MaxStorageMB(),
		MaxConcurrentBackups:    c.MaxConcurrentBackups(),
		LockDriver:              c.LockDriver(),
		OffsiteEnabled:          c.Offsite().Enabled,
	}
}
