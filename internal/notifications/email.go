package notifications

import (
	"bytes"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	From     string `yaml:"from" json:"from"`
	TLS      bool   `yaml:"tls" json:"tls"`
}

// SMTPConfigFrom converts configured mail settings.
func SMTPConfigFrom(s config.MailSettings) SMTPConfig {
	return SMTPConfig{
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		From:     s.From,
		TLS:      s.TLS,
	}
}

// Validate reports every missing required field.
func (c *SMTPConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("smtp host is required"))
	}
	if c.Port <= 0 {
		errs = append(errs, errors.New("smtp port is required"))
	}
	if c.From == "" {
		errs = append(errs, errors.New("smtp from address is required"))
	}
	return errors.Join(errs...)
}

func (c *SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// auth is nil for relays that accept unauthenticated mail.
func (c *SMTPConfig) auth() smtp.Auth {
	if c.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", c.Username, c.Password, c.Host)
}

// transport has the signature of smtp.SendMail.
type transport func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService renders the notification templates and delivers them over SMTP.
type EmailService struct {
	config    SMTPConfig
	templates *template.Template
	sendMail  transport
	logger    zerolog.Logger
}

// NewEmailService parses the embedded templates. Port 465 style implicit TLS
// is used when config.TLS is set; otherwise smtp.SendMail upgrades with
// STARTTLS when the server offers it.
func NewEmailService(config SMTPConfig, logger zerolog.Logger) (*EmailService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid smtp config: %w", err)
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"datetime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 MST") },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	svc := &EmailService{
		config:    config,
		templates: tmpl,
		sendMail:  smtp.SendMail,
		logger:    logger.With().Str("component", "email").Logger(),
	}
	if config.TLS {
		svc.sendMail = svc.sendImplicitTLS
	}
	return svc, nil
}

// BackupSuccessData holds data for the backup success email template
type BackupSuccessData struct {
	BackupID    string
	BackupName  string
	BackupType  string
	CreatedBy   string
	CompletedAt time.Time
	Duration    string
	Size        string
	Artifacts   []string
}

// BackupFailedData holds data for the backup failed email template
type BackupFailedData struct {
	BackupID     string
	BackupName   string
	BackupType   string
	CreatedBy    string
	FailedAt     time.Time
	ErrorMessage string
}

// HealthWarning is one line of a health alert.
type HealthWarning struct {
	Severity string
	Message  string
}

// HealthAlertData holds data for the health warning email template
type HealthAlertData struct {
	OverallStatus string
	CheckedAt     time.Time
	Warnings      []HealthWarning
}

// SendBackupSuccess sends a backup success notification email
func (s *EmailService) SendBackupSuccess(to []string, data BackupSuccessData) error {
	subject := fmt.Sprintf("Backup Successful: %s", data.BackupName)
	return s.sendTemplate(to, subject, "backup_success.html", data)
}

// SendBackupFailed sends a backup failed notification email
func (s *EmailService) SendBackupFailed(to []string, data BackupFailedData) error {
	subject := fmt.Sprintf("Backup Failed: %s", data.BackupName)
	return s.sendTemplate(to, subject, "backup_failed.html", data)
}

// SendHealthAlert sends a backup health warning email
func (s *EmailService) SendHealthAlert(to []string, data HealthAlertData) error {
	subject := fmt.Sprintf("Backup Health %s: %d warning(s)", strings.ToUpper(data.OverallStatus), len(data.Warnings))
	return s.sendTemplate(to, subject, "health_alert.html", data)
}

func (s *EmailService) sendTemplate(to []string, subject, name string, data any) error {
	if len(to) == 0 {
		return errors.New("send email: no recipients")
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	log := s.logger.With().Strs("to", to).Str("subject", subject).Logger()
	if err := s.sendMail(s.config.addr(), s.config.auth(), s.config.From, to, s.compose(to, subject, body.Bytes())); err != nil {
		log.Error().Err(err).Msg("email delivery failed")
		return fmt.Errorf("send email: %w", err)
	}

	log.Info().Msg("email delivered")
	return nil
}

// compose builds an RFC 5322 message with an HTML body.
func (s *EmailService) compose(to []string, subject string, htmlBody []byte) []byte {
	headers := [][2]string{
		{"From", s.config.From},
		{"To", strings.Join(to, ", ")},
		{"Subject", subject},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="UTF-8"`},
	}

	var msg bytes.Buffer
	for _, h := range headers {
		msg.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	msg.WriteString("\r\n")
	msg.Write(htmlBody)
	return msg.Bytes()
}

// sendImplicitTLS speaks SMTP over a TLS connection from the first byte.
func (s *EmailService) sendImplicitTLS(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if a != nil {
		if err := c.Auth(a); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	return c.Quit()
}
