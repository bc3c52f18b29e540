// Package scheduler implements the background Scheduler (Expansion,
// §4.11): a single robfig/cron/v3 instance that drives the GDPR
// Anonymization Sweep and expired-log cleanup on a configurable cron
// schedule. Grounded on the teacher's services/automation Start/Stop
// lifecycle (a stop channel plus context cancellation), reworked around
// a real cron parser since this core has no HTTP-triggered job API to
// poll against.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lukeeterna/fluxion-core/infrastructure/logging"
	"github.com/lukeeterna/fluxion-core/infrastructure/metrics"
)

// AnonymizationRunner is the subset of the Audit Service the Scheduler
// drives (§4.6 GDPR lifecycle operations).
type AnonymizationRunner interface {
	RunGDPRAnonymization(ctx context.Context) (int, error)
	CleanupExpiredLogs(ctx context.Context, retentionBufferDays int) (int, error)
}

// CleanupBufferDays is the grace period after an entry's retention_until
// before it is eligible for physical deletion (§4.6).
const CleanupBufferDays = 7

// Scheduler owns the cron instance and the background anonymization job.
type Scheduler struct {
	cron    *cron.Cron
	audit   AnonymizationRunner
	log     *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics attaches a Prometheus collector set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New constructs a Scheduler over audit and registers the anonymization
// job at the given cron expression (standard 5-field, no seconds
// field — matching config.Default().AnonymizationCron's "0 3 * * *").
func New(audit AnonymizationRunner, cronExpr string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(),
		audit: audit,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := s.cron.AddFunc(cronExpr, s.runAnonymizationSweep); err != nil {
		return nil, fmt.Errorf("schedule anonymization sweep %q: %w", cronExpr, err)
	}
	return s, nil
}

// Start begins running scheduled jobs in the background. It returns
// immediately; jobs fire on cron's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runAnonymizationSweep runs the GDPR anonymization sweep followed by
// expired-log cleanup. A failure here is logged, never fatal — a missed
// sweep is picked up on the next scheduled run (§4.11, §7 scheduler
// failures are logged-not-fatal).
func (s *Scheduler) runAnonymizationSweep() {
	ctx := context.Background()
	started := time.Now()

	anonymized, err := s.audit.RunGDPRAnonymization(ctx)
	if err != nil {
		s.logErr(ctx, "gdpr anonymization sweep failed", err)
	} else {
		s.logInfo(ctx, "gdpr anonymization sweep completed", map[string]interface{}{"anonymized": anonymized})
	}
	if s.metrics != nil {
		s.metrics.RecordAnonymizationSweep(anonymized)
	}

	deleted, err := s.audit.CleanupExpiredLogs(ctx, CleanupBufferDays)
	if err != nil {
		s.logErr(ctx, "expired audit log cleanup failed", err)
		return
	}
	s.logInfo(ctx, "expired audit log cleanup completed", map[string]interface{}{"deleted": deleted})

	if s.log != nil {
		s.log.LogPerformance(ctx, "anonymization_sweep", map[string]interface{}{
			"duration_ms": time.Since(started).Milliseconds(),
			"anonymized":  anonymized,
			"deleted":     deleted,
		})
	}
}

func (s *Scheduler) logErr(ctx context.Context, message string, err error) {
	if s.log == nil {
		return
	}
	s.log.Error(ctx, message, err, nil)
}

func (s *Scheduler) logInfo(ctx context.Context, message string, fields map[string]interface{}) {
	if s.log == nil {
		return
	}
	s.log.Info(ctx, message, fields)
}
