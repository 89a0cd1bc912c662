package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	m, err := NewPrometheusMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	m.now = func() time.Time { return time.Unix(1700000000, 0) }
	return m
}

func TestPrometheus_ObserveRun(t *testing.T) {
	m := newTestMetrics(t)

	t.Run("counts completed runs", func(t *testing.T) {
		m.ObserveRun("full", true, 90*time.Second, 2048)
		m.ObserveRun("full", true, 30*time.Second, 4096)

		if val := getCounterValue(t, m.BackupCounter, "full", "completed"); val != 2 {
			t.Errorf("expected 2, got %f", val)
		}
		if val := getGaugeValue(t, m.BackupSize, "full"); val != 4096 {
			t.Errorf("expected last size 4096, got %f", val)
		}
		if val := gaugeValue(t, m.LastSuccess); val != 1700000000 {
			t.Errorf("expected last success timestamp, got %f", val)
		}
	})

	t.Run("failed runs keep last size", func(t *testing.T) {
		m.ObserveRun("full", false, time.Second, 0)

		if val := getCounterValue(t, m.BackupCounter, "full", "failed"); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
		if val := getGaugeValue(t, m.BackupSize, "full"); val != 4096 {
			t.Errorf("expected size unchanged, got %f", val)
		}
	})

	t.Run("observes duration", func(t *testing.T) {
		count, sum := getHistogramValues(t, m.BackupDuration, "full")
		if count != 3 {
			t.Errorf("expected count 3, got %d", count)
		}
		if sum != 121 {
			t.Errorf("expected sum 121, got %f", sum)
		}
	})
}

func TestPrometheus_ObserveAttempt(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveAttempt("database", false)
	m.ObserveAttempt("database", false)
	m.ObserveAttempt("database", true)

	if val := getCounterValue(t, m.AttemptCounter, "database", "false"); val != 2 {
		t.Errorf("expected 2 failed attempts, got %f", val)
	}
	if val := getCounterValue(t, m.AttemptCounter, "database", "true"); val != 1 {
		t.Errorf("expected 1 successful attempt, got %f", val)
	}
}

func TestPrometheus_SetHealth(t *testing.T) {
	m := newTestMetrics(t)

	m.SetHealth("warning", map[string]int{"warning": 2}, 50)
	if val := getGaugeValue(t, m.HealthGauge, "warning"); val != 1 {
		t.Errorf("expected warning=1, got %f", val)
	}
	if val := getGaugeValue(t, m.HealthGauge, "healthy"); val != 0 {
		t.Errorf("expected healthy=0, got %f", val)
	}
	if val := getGaugeValue(t, m.WarningGauge, "warning"); val != 2 {
		t.Errorf("expected 2 warnings, got %f", val)
	}
	if val := gaugeValue(t, m.ScheduleHealthPerc); val != 50 {
		t.Errorf("expected 50, got %f", val)
	}

	m.SetHealth("healthy", nil, 100)
	if val := getGaugeValue(t, m.HealthGauge, "warning"); val != 0 {
		t.Errorf("expected warning cleared, got %f", val)
	}
	if val := getGaugeValue(t, m.HealthGauge, "healthy"); val != 1 {
		t.Errorf("expected healthy=1, got %f", val)
	}
}

func TestPrometheus_StorageGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.SetStorageBytes("used", 1024*1024*100)
	m.SetStorageBytes("limit", 1024*1024*1024)

	if val := getGaugeValue(t, m.StorageGauge, "used"); val != 1024*1024*100 {
		t.Errorf("expected %f, got %f", float64(1024*1024*100), val)
	}
	if val := getGaugeValue(t, m.StorageGauge, "limit"); val != 1024*1024*1024 {
		t.Errorf("expected %f, got %f", float64(1024*1024*1024), val)
	}
}

func TestPrometheus_Registration(t *testing.T) {
	t.Run("fails on duplicate registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if _, err := NewPrometheusMetrics(reg); err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		if _, err := NewPrometheusMetrics(reg); err == nil {
			t.Fatal("expected error on duplicate registration")
		}
	})
}

// Helper functions for extracting Prometheus metric values.

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := gauge.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := gauge.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func getHistogramValues(t *testing.T, hist *prometheus.HistogramVec, label string) (uint64, float64) {
	t.Helper()
	observer := hist.WithLabelValues(label)
	var m dto.Metric
	if err := observer.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}
