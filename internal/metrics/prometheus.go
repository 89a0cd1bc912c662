// Package metrics exposes Prometheus metrics for backup runs and health.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "freightdesk"

// Health status values exported by the health gauge.
var healthStatuses = []string{"healthy", "warning", "critical"}

// PrometheusMetrics holds the backup collectors.
type PrometheusMetrics struct {
	BackupCounter      *prometheus.CounterVec
	BackupDuration     *prometheus.HistogramVec
	BackupSize         *prometheus.GaugeVec
	AttemptCounter     *prometheus.CounterVec
	LastSuccess        prometheus.Gauge
	StorageGauge       *prometheus.GaugeVec
	HealthGauge        *prometheus.GaugeVec
	WarningGauge       *prometheus.GaugeVec
	ScheduleHealthPerc prometheus.Gauge

	now func() time.Time
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		BackupCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_runs_total",
			Help:      "Backup runs by type and outcome.",
		}, []string{"type", "status"}),
		BackupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Duration of backup runs in seconds.",
			Buckets:   []float64{1, 5, 15, 60, 300, 600, 1800, 3600},
		}, []string{"type"}),
		BackupSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_last_size_bytes",
			Help:      "Total artifact size of the last successful run by type.",
		}, []string{"type"}),
		AttemptCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_attempts_total",
			Help:      "Component backup attempts by outcome.",
		}, []string{"component", "success"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup run.",
		}),
		StorageGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_storage_bytes",
			Help:      "Backup storage by kind (used, limit, free).",
		}, []string{"kind"}),
		HealthGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_health_status",
			Help:      "1 for the current overall backup health status, 0 otherwise.",
		}, []string{"status"}),
		WarningGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_health_warnings",
			Help:      "Current health warnings by severity.",
		}, []string{"severity"}),
		ScheduleHealthPerc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_schedule_health_percent",
			Help:      "Share of active schedules that are healthy.",
		}),
		now: time.Now,
	}

	collectors := []prometheus.Collector{
		m.BackupCounter,
		m.BackupDuration,
		m.BackupSize,
		m.AttemptCounter,
		m.LastSuccess,
		m.StorageGauge,
		m.HealthGauge,
		m.WarningGauge,
		m.ScheduleHealthPerc,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return m, nil
}

// ObserveRun records a finished backup run.
func (m *PrometheusMetrics) ObserveRun(backupType string, success bool, duration time.Duration, sizeBytes int64) {
	status := "failed"
	if success {
		status = "completed"
	}
	m.BackupCounter.WithLabelValues(backupType, status).Inc()
	m.BackupDuration.WithLabelValues(backupType).Observe(duration.Seconds())
	if success {
		m.BackupSize.WithLabelValues(backupType).Set(float64(sizeBytes))
		m.LastSuccess.Set(float64(m.now().Unix()))
	}
}

// ObserveAttempt records one component attempt.
func (m *PrometheusMetrics) ObserveAttempt(component string, success bool) {
	m.AttemptCounter.WithLabelValues(component, strconv.FormatBool(success)).Inc()
}

// SetStorageBytes sets a storage gauge ("used", "limit" or "free").
func (m *PrometheusMetrics) SetStorageBytes(kind string, bytes int64) {
	m.StorageGauge.WithLabelValues(kind).Set(float64(bytes))
}

// SetHealth marks status as the current overall health and records warning
// counts by severity.
func (m *PrometheusMetrics) SetHealth(status string, warningsBySeverity map[string]int, scheduleHealthPercent float64) {
	for _, s := range healthStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.HealthGauge.WithLabelValues(s).Set(v)
	}
	m.WarningGauge.Reset()
	for severity, n := range warningsBySeverity {
		m.WarningGauge.WithLabelValues(severity).Set(float64(n))
	}
	m.ScheduleHealthPerc.Set(scheduleHealthPercent)
}
