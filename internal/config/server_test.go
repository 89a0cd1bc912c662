package config

import (
	"os"
	"testing"
)

func TestLoadServerConfig_DefaultEnvironment(t *testing.T) {
	os.Unsetenv("ENV")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q, got %q", EnvDevelopment, cfg.Environment)
	}
	if cfg.IsProduction() {
		t.Error("development config should not report production")
	}
}

func TestLoadServerConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("ENV", "qa")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q for invalid ENV, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_RecordStore(t *testing.T) {
	tests := []struct {
		name        string
		store       string
		databaseURL string
		want        RecordStore
	}{
		{"explicit sqlite", "sqlite", "postgres://localhost/db", StoreSQLite},
		{"explicit postgres", "POSTGRES", "", StorePostgres},
		{"inferred postgres", "", "postgres://localhost/db", StorePostgres},
		{"fallback sqlite", "", "", StoreSQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RECORD_STORE", tt.store)
			t.Setenv("DATABASE_URL", tt.databaseURL)
			cfg := LoadServerConfig()
			if cfg.RecordStore != tt.want {
				t.Errorf("expected %q, got %q", tt.want, cfg.RecordStore)
			}
		})
	}
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	t.Setenv("OPS_ADDR", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ALERT_INTERVAL_MINUTES", "-5")
	cfg := LoadServerConfig()
	if cfg.OpsAddr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.OpsAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info, got %q", cfg.LogLevel)
	}
	if cfg.AlertMinutes != 60 {
		t.Errorf("expected 60 for negative interval, got %d", cfg.AlertMinutes)
	}
}

func TestLoadServerConfig_ProductionOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("OPS_ADDR", "127.0.0.1:9100")
	t.Setenv("ALERT_INTERVAL_MINUTES", "15")
	cfg := LoadServerConfig()
	if !cfg.IsProduction() {
		t.Error("expected production")
	}
	if cfg.OpsAddr != "127.0.0.1:9100" {
		t.Errorf("unexpected ops addr %q", cfg.OpsAddr)
	}
	if cfg.AlertMinutes != 15 {
		t.Errorf("expected 15, got %d", cfg.AlertMinutes)
	}
}
