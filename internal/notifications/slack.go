package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SlackService sends notifications to a Slack incoming webhook.
type SlackService struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
	logger     zerolog.Logger
}

// NewSlackService creates a Slack notification service for webhookURL.
func NewSlackService(webhookURL string, logger zerolog.Logger) (*SlackService, error) {
	if err := ValidateWebhookURL(webhookURL); err != nil {
		return nil, err
	}

	return &SlackService{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{DialContext: ValidatingDialer()},
		},
		now:    time.Now,
		logger: logger.With().Str("component", "slack_service").Logger(),
	}, nil
}

// SlackMessage represents a Slack message payload.
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment.
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short,omitempty"`
}

const slackFooter = "Freightdesk Backups"

// Send posts a message to the webhook.
func (s *SlackService) Send(ctx context.Context, msg *SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SendBackupSuccess sends a backup success notification to Slack.
func (s *SlackService) SendBackupSuccess(ctx context.Context, data BackupSuccessData) error {
	fields := []SlackField{
		{Title: "Backup", Value: data.BackupName, Short: true},
		{Title: "Type", Value: data.BackupType, Short: true},
		{Title: "Size", Value: data.Size, Short: true},
		{Title: "Started By", Value: data.CreatedBy, Short: true},
	}
	if data.Duration != "" {
		fields = append(fields, SlackField{Title: "Duration", Value: data.Duration, Short: true})
	}
	if len(data.Artifacts) > 0 {
		fields = append(fields, SlackField{Title: "Artifacts", Value: strings.Join(data.Artifacts, "\n")})
	}

	msg := &SlackMessage{
		Attachments: []SlackAttachment{
			{
				Color:     severityColor("info"),
				Title:     fmt.Sprintf("Backup Successful: %s", data.BackupName),
				Fallback:  fmt.Sprintf("Backup %s completed (%s)", data.BackupName, data.Size),
				Fields:    fields,
				Footer:    slackFooter,
				Timestamp: s.now().Unix(),
			},
		},
	}

	s.logger.Debug().
		Str("backup_id", data.BackupID).
		Msg("sending backup success notification to Slack")

	return s.Send(ctx, msg)
}

// SendBackupFailed sends a backup failed notification to Slack.
func (s *SlackService) SendBackupFailed(ctx context.Context, data BackupFailedData) error {
	msg := &SlackMessage{
		Attachments: []SlackAttachment{
			{
				Color:    severityColor("error"),
				Title:    fmt.Sprintf("Backup Failed: %s", data.BackupName),
				Fallback: fmt.Sprintf("Backup %s failed: %s", data.BackupName, data.ErrorMessage),
				Fields: []SlackField{
					{Title: "Backup", Value: data.BackupName, Short: true},
					{Title: "Type", Value: data.BackupType, Short: true},
					{Title: "Failed At", Value: data.FailedAt.Format(time.RFC822), Short: true},
					{Title: "Started By", Value: data.CreatedBy, Short: true},
					{Title: "Error", Value: data.ErrorMessage},
				},
				Footer:    slackFooter,
				Timestamp: s.now().Unix(),
			},
		},
	}

	s.logger.Debug().
		Str("backup_id", data.BackupID).
		Str("error", data.ErrorMessage).
		Msg("sending backup failed notification to Slack")

	return s.Send(ctx, msg)
}

// SendHealthAlert sends a backup health warning to Slack.
func (s *SlackService) SendHealthAlert(ctx context.Context, data HealthAlertData) error {
	lines := make([]string, 0, len(data.Warnings))
	for _, w := range data.Warnings {
		lines = append(lines, fmt.Sprintf("*%s*: %s", w.Severity, w.Message))
	}

	msg := &SlackMessage{
		Attachments: []SlackAttachment{
			{
				Color:     severityColor(data.OverallStatus),
				Title:     fmt.Sprintf("Backup Health: %s", data.OverallStatus),
				Fallback:  fmt.Sprintf("Backup health is %s with %d warning(s)", data.OverallStatus, len(data.Warnings)),
				Text:      strings.Join(lines, "\n"),
				Footer:    slackFooter,
				Timestamp: data.CheckedAt.Unix(),
			},
		},
	}

	s.logger.Debug().
		Str("status", data.OverallStatus).
		Int("warnings", len(data.Warnings)).
		Msg("sending health alert to Slack")

	return s.Send(ctx, msg)
}

func severityColor(severity string) string {
	switch severity {
	case "critical", "error":
		return "#dc2626"
	case "warning":
		return "#f59e0b"
	default:
		return "#22c55e"
	}
}
