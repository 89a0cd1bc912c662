// Package notifications delivers backup outcomes and health alerts by email
// and Slack.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/config"
	"github.com/MacJediWizard/freightdesk/internal/models"
)

type mailer interface {
	SendBackupSuccess(to []string, data BackupSuccessData) error
	SendBackupFailed(to []string, data BackupFailedData) error
	SendHealthAlert(to []string, data HealthAlertData) error
}

type chatPoster interface {
	SendBackupSuccess(ctx context.Context, data BackupSuccessData) error
	SendBackupFailed(ctx context.Context, data BackupFailedData) error
	SendHealthAlert(ctx context.Context, data HealthAlertData) error
}

// Dispatcher routes backup events to the configured channels, honoring the
// per-event notification toggles.
type Dispatcher struct {
	cfg    *config.BackupConfig
	email  mailer
	slack  chatPoster
	now    func() time.Time
	logger zerolog.Logger
}

// NewDispatcher builds the channels present in cfg: email when a notification
// address is set, Slack when a webhook URL is set.
func NewDispatcher(cfg *config.BackupConfig, logger zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "notification_dispatcher").Logger(),
	}

	if cfg.NotificationEmail() != "" {
		email, err := NewEmailService(SMTPConfigFrom(cfg.SMTP()), logger)
		if err != nil {
			return nil, fmt.Errorf("create email channel: %w", err)
		}
		d.email = email
	}

	if url := cfg.SlackWebhookURL(); url != "" {
		slack, err := NewSlackService(url, logger)
		if err != nil {
			return nil, fmt.Errorf("create slack channel: %w", err)
		}
		d.slack = slack
	}

	return d, nil
}

// Channels lists the enabled delivery channels.
func (d *Dispatcher) Channels() []string {
	var out []string
	if d.email != nil {
		out = append(out, "email")
	}
	if d.slack != nil {
		out = append(out, "slack")
	}
	return out
}

// NotifySuccess reports a completed backup when success notifications are on.
func (d *Dispatcher) NotifySuccess(ctx context.Context, b *models.Backup) error {
	if !d.cfg.NotifyOnSuccess() {
		return nil
	}

	data := BackupSuccessData{
		BackupID:   b.ID.String(),
		BackupName: b.Name,
		BackupType: string(b.Type),
		CreatedBy:  b.CreatedBy,
		Size:       humanize.IBytes(uint64(max(b.FileSize, 0))),
	}
	if b.CompletedAt != nil {
		data.CompletedAt = *b.CompletedAt
		data.Duration = formatDuration(b.CompletedAt.Sub(b.CreatedAt))
	}
	if artifacts, err := b.Artifacts(); err == nil {
		data.Artifacts = artifacts.Paths()
	}

	var errs []error
	if d.email != nil {
		errs = append(errs, d.email.SendBackupSuccess(d.recipients(), data))
	}
	if d.slack != nil {
		errs = append(errs, d.slack.SendBackupSuccess(ctx, data))
	}
	return d.finish("backup_success", b, errs)
}

// NotifyFailure reports a failed backup when failure notifications are on.
func (d *Dispatcher) NotifyFailure(ctx context.Context, b *models.Backup, errMsg string) error {
	if !d.cfg.NotifyOnFailure() {
		return nil
	}

	data := BackupFailedData{
		BackupID:     b.ID.String(),
		BackupName:   b.Name,
		BackupType:   string(b.Type),
		CreatedBy:    b.CreatedBy,
		FailedAt:     d.now(),
		ErrorMessage: errMsg,
	}

	var errs []error
	if d.email != nil {
		errs = append(errs, d.email.SendBackupFailed(d.recipients(), data))
	}
	if d.slack != nil {
		errs = append(errs, d.slack.SendBackupFailed(ctx, data))
	}
	return d.finish("backup_failed", b, errs)
}

// NotifyHealthWarning sends a health alert when health warnings are on.
func (d *Dispatcher) NotifyHealthWarning(ctx context.Context, data HealthAlertData) error {
	if !d.cfg.NotifyOnHealthWarning() {
		return nil
	}

	var errs []error
	if d.email != nil {
		errs = append(errs, d.email.SendHealthAlert(d.recipients(), data))
	}
	if d.slack != nil {
		errs = append(errs, d.slack.SendHealthAlert(ctx, data))
	}
	return d.finish("health_warning", nil, errs)
}

func (d *Dispatcher) recipients() []string {
	return []string{d.cfg.NotificationEmail()}
}

func (d *Dispatcher) finish(event string, b *models.Backup, errs []error) error {
	logEvent := d.logger.Debug().Str("event", event).Int("channels", len(errs))
	if b != nil {
		logEvent = logEvent.Str("backup_id", b.ID.String())
	}
	if len(errs) == 0 {
		logEvent.Msg("no notification channels configured")
		return nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify %s: %w", event, err)
	}
	logEvent.Msg("notification delivered")
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		if seconds > 0 {
			return fmt.Sprintf("%d min %d sec", minutes, seconds)
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes > 0 {
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	return fmt.Sprintf("%d hours", hours)
}
