package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSlack(url string) *SlackService {
	return &SlackService{
		webhookURL: url,
		client:     &http.Client{},
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		logger:     zerolog.Nop(),
	}
}

func TestSlackService_SendBackupFailed(t *testing.T) {
	var received SlackMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("failed to unmarshal body: %v", err)
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestSlack(server.URL).SendBackupFailed(context.Background(), BackupFailedData{
		BackupName:   "Nightly",
		BackupType:   "database",
		ErrorMessage: "disk full",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(received.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(received.Attachments))
	}
	att := received.Attachments[0]
	if att.Color != "#dc2626" {
		t.Errorf("expected red color, got %s", att.Color)
	}
	if att.Title != "Backup Failed: Nightly" {
		t.Errorf("unexpected title %q", att.Title)
	}
	if att.Timestamp != 1700000000 {
		t.Errorf("unexpected timestamp %d", att.Timestamp)
	}
	last := att.Fields[len(att.Fields)-1]
	if last.Title != "Error" || last.Value != "disk full" {
		t.Errorf("expected error field, got %+v", last)
	}
}

func TestSlackService_SendBackupSuccessFields(t *testing.T) {
	var received SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestSlack(server.URL).SendBackupSuccess(context.Background(), BackupSuccessData{
		BackupName: "Nightly",
		Size:       "10 MiB",
		Duration:   "5 seconds",
		Artifacts:  []string{"a.sql", "b.zip"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	att := received.Attachments[0]
	if att.Color != "#22c55e" {
		t.Errorf("expected green color, got %s", att.Color)
	}
	if len(att.Fields) != 6 {
		t.Fatalf("expected 6 fields, got %d", len(att.Fields))
	}
	if att.Fields[5].Value != "a.sql\nb.zip" {
		t.Errorf("unexpected artifacts field %q", att.Fields[5].Value)
	}
}

func TestSlackService_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestSlack(server.URL).Send(context.Background(), &SlackMessage{Text: "test"})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestSlackService_BlocksPrivateTargets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if _, err := NewSlackService(server.URL, zerolog.Nop()); err == nil {
		t.Fatal("expected loopback webhook to be rejected")
	}

	svc, err := NewSlackService("https://hooks.example.invalid/services/x", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.webhookURL = server.URL
	if err := svc.Send(context.Background(), &SlackMessage{Text: "test"}); err == nil {
		t.Error("expected dialer to refuse loopback address")
	}
}

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"critical", "#dc2626"},
		{"error", "#dc2626"},
		{"warning", "#f59e0b"},
		{"healthy", "#22c55e"},
		{"", "#22c55e"},
	}
	for _, tt := range tests {
		got := severityColor(tt.severity)
		if got != tt.want {
			t.Errorf("severityColor(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}
