// Package metrics provides Prometheus metrics collection for the Fluxion
// core. A nil *Metrics is a valid, fully functional zero value — every
// recording method is a no-op on a nil receiver, so callers never need to
// guard on whether metrics are enabled.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the appointment, audit, and
// license subsystems.
type Metrics struct {
	MigrationsApplied   *prometheus.CounterVec
	BackupsTotal        *prometheus.CounterVec
	BackupDuration      prometheus.Histogram
	ValidationOutcomes  *prometheus.CounterVec
	AuditEntriesWritten *prometheus.CounterVec
	AnonymizationSweep  prometheus.Histogram
	LicenseActivations  *prometheus.CounterVec
}

// New creates a new Metrics instance registered against the default
// registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against the given
// registerer. Passing a nil registerer skips registration, which is useful
// in tests that construct collectors repeatedly.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		MigrationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxion_migrations_applied_total",
				Help: "Total number of migration statements applied, by outcome.",
			},
			[]string{"outcome"},
		),
		BackupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxion_backups_total",
				Help: "Total number of backup attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		BackupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fluxion_backup_duration_seconds",
				Help:    "Duration of backup operations in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ValidationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxion_validation_outcomes_total",
				Help: "Validation results, by layer and code.",
			},
			[]string{"layer", "code"},
		),
		AuditEntriesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxion_audit_entries_written_total",
				Help: "Audit log entries written, by action.",
			},
			[]string{"action"},
		),
		AnonymizationSweep: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fluxion_anonymization_sweep_entries",
				Help:    "Number of entries anonymized per GDPR sweep run.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
		),
		LicenseActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxion_license_activations_total",
				Help: "License activation attempts, by outcome.",
			},
			[]string{"outcome"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.MigrationsApplied,
			m.BackupsTotal,
			m.BackupDuration,
			m.ValidationOutcomes,
			m.AuditEntriesWritten,
			m.AnonymizationSweep,
			m.LicenseActivations,
		)
	}

	return m
}

func (m *Metrics) RecordMigration(outcome string) {
	if m == nil {
		return
	}
	m.MigrationsApplied.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordBackup(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackupsTotal.WithLabelValues(outcome).Inc()
	m.BackupDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordValidationOutcome(layer, code string) {
	if m == nil {
		return
	}
	m.ValidationOutcomes.WithLabelValues(layer, code).Inc()
}

func (m *Metrics) RecordAuditEntry(action string) {
	if m == nil {
		return
	}
	m.AuditEntriesWritten.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordAnonymizationSweep(count int) {
	if m == nil {
		return
	}
	m.AnonymizationSweep.Observe(float64(count))
}

func (m *Metrics) RecordLicenseActivation(outcome string) {
	if m == nil {
		return
	}
	m.LicenseActivations.WithLabelValues(outcome).Inc()
}

// Global metrics instance, lazily initialized.
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New()
	}
	return globalMetrics
}

// Global returns the global metrics instance, creating it if necessary.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New()
	}
	return globalMetrics
}
