// Package audit implements the Audit Service (§4.6): entry composition
// from before/after domain values, retention arithmetic, GDPR
// anonymization/cleanup sweeps, entity history reconstruction, and
// statistics. Grounded on original_source/services/audit_service.rs,
// rendered in the teacher's option-pattern constructor and
// structured-logging style.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukeeterna/fluxion-core/domain/audit"
	fluxerrors "github.com/lukeeterna/fluxion-core/infrastructure/errors"
	"github.com/lukeeterna/fluxion-core/infrastructure/auditstore"
	"github.com/lukeeterna/fluxion-core/infrastructure/logging"
	"github.com/lukeeterna/fluxion-core/infrastructure/metrics"
)

// DefaultRetentionYears matches §6.4's audit_retention_years default.
const DefaultRetentionYears = 7

// userActivityFetchCeiling bounds get_user_activity's fetch, mirroring
// get_statistics's bounded-fetch discipline in the original service.
const userActivityFetchCeiling = 10000

// ClockFunc returns the current instant; overridable in tests.
type ClockFunc func() time.Time

// Service is the Audit Service.
type Service struct {
	store           auditstore.Store
	retentionYears  int
	clock           ClockFunc
	log             *logging.Logger
	metrics         *metrics.Metrics
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithRetentionYears overrides the default retention window (§6.4,
// default 7 years).
func WithRetentionYears(years int) Option {
	return func(s *Service) { s.retentionYears = years }
}

// WithClock overrides the service's notion of "now".
func WithClock(c ClockFunc) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics attaches a Prometheus collector set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs an Audit Service over store.
func New(store auditstore.Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		retentionYears: DefaultRetentionYears,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logf(ctx context.Context, action, entityType, entityID string) {
	if s.log == nil {
		return
	}
	s.log.LogAudit(ctx, action, entityType, entityID, "written")
}

func (s *Service) recordWrite(action audit.Action) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAuditEntry(string(action))
}

// BuilderInput composes a fully-formed Entry from the caller's supplied
// fields and the service's retention policy (§4.6, §3.4). Required
// fields missing are caught here rather than surfacing as a storage
// error (§4.6 "missing required builder fields ... are caught at entry
// construction").
type BuilderInput struct {
	UserID     *string
	UserRole   audit.UserRole
	Action     audit.Action
	EntityType string
	EntityID   string
	Source     audit.Source
	Category   audit.Category
	LegalBasis *string
	Request    *audit.RequestContext
}

func (s *Service) validateBuilderInput(in BuilderInput) error {
	if in.UserRole == "" {
		return fluxerrors.AuditBuilderError("user_role")
	}
	if in.Action == "" {
		return fluxerrors.AuditBuilderError("action")
	}
	if in.EntityType == "" {
		return fluxerrors.AuditBuilderError("entity_type")
	}
	if in.EntityID == "" {
		return fluxerrors.AuditBuilderError("entity_id")
	}
	if in.Source == "" {
		return fluxerrors.AuditBuilderError("source")
	}
	if in.Category == "" {
		return fluxerrors.AuditBuilderError("gdpr_category")
	}
	return nil
}

func marshalCanonical(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// changedFields computes the symmetric set of top-level keys whose
// values differ between before and after, including keys present on
// only one side (§4.6 (b)).
func changedFields(beforeJSON, afterJSON string) ([]string, error) {
	before := map[string]json.RawMessage{}
	after := map[string]json.RawMessage{}
	if beforeJSON != "" {
		if err := json.Unmarshal([]byte(beforeJSON), &before); err != nil {
			return nil, fmt.Errorf("unmarshal data_before: %w", err)
		}
	}
	if afterJSON != "" {
		if err := json.Unmarshal([]byte(afterJSON), &after); err != nil {
			return nil, fmt.Errorf("unmarshal data_after: %w", err)
		}
	}

	seen := map[string]bool{}
	var changed []string
	for k, bv := range before {
		seen[k] = true
		av, ok := after[k]
		if !ok || string(av) != string(bv) {
			changed = append(changed, k)
		}
	}
	for k := range after {
		if seen[k] {
			continue
		}
		changed = append(changed, k)
	}
	return changed, nil
}

func (s *Service) compose(in BuilderInput, dataBefore, dataAfter *string, fields []string) audit.Entry {
	now := s.clock()
	return audit.Entry{
		ID:             uuid.New().String(),
		CapturedAt:     now,
		UserID:         in.UserID,
		UserRole:       in.UserRole,
		Action:         in.Action,
		EntityType:     in.EntityType,
		EntityID:       in.EntityID,
		DataBefore:     dataBefore,
		DataAfter:      dataAfter,
		ChangedFields:  fields,
		Category:       in.Category,
		Source:         in.Source,
		LegalBasis:     in.LegalBasis,
		RetentionUntil: now.AddDate(s.retentionYears, 0, 0),
		Request:        in.Request,
	}
}

func (s *Service) save(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if err := s.store.Save(ctx, e); err != nil {
		return audit.Entry{}, err
	}
	s.recordWrite(e.Action)
	s.logf(ctx, string(e.Action), e.EntityType, e.EntityID)
	return e, nil
}

// LogCreate records an Action=Create entry carrying the created value as
// data_after.
func (s *Service) LogCreate(ctx context.Context, in BuilderInput, dataAfter interface{}) (audit.Entry, error) {
	in.Action = audit.ActionCreate
	if err := s.validateBuilderInput(in); err != nil {
		return audit.Entry{}, err
	}
	after, err := marshalCanonical(dataAfter)
	if err != nil {
		return audit.Entry{}, fluxerrors.AuditSerializationError(err)
	}
	entry := s.compose(in, nil, &after, nil)
	return s.save(ctx, entry)
}

// LogUpdate records an Action=Update entry with the diff-derived
// changed-field set between dataBefore and dataAfter (§4.6 (a)-(b)).
func (s *Service) LogUpdate(ctx context.Context, in BuilderInput, dataBefore, dataAfter interface{}) (audit.Entry, error) {
	in.Action = audit.ActionUpdate
	if err := s.validateBuilderInput(in); err != nil {
		return audit.Entry{}, err
	}
	before, err := marshalCanonical(dataBefore)
	if err != nil {
		return audit.Entry{}, fluxerrors.AuditSerializationError(err)
	}
	after, err := marshalCanonical(dataAfter)
	if err != nil {
		return audit.Entry{}, fluxerrors.AuditSerializationError(err)
	}
	fields, err := changedFields(before, after)
	if err != nil {
		return audit.Entry{}, fluxerrors.AuditSerializationError(err)
	}
	entry := s.compose(in, &before, &after, fields)
	return s.save(ctx, entry)
}

// LogDelete records an Action=Delete entry carrying the deleted value as
// data_before.
func (s *Service) LogDelete(ctx context.Context, in BuilderInput, dataBefore interface{}) (audit.Entry, error) {
	in.Action = audit.ActionDelete
	if err := s.validateBuilderInput(in); err != nil {
		return audit.Entry{}, err
	}
	before, err := marshalCanonical(dataBefore)
	if err != nil {
		return audit.Entry{}, fluxerrors.AuditSerializationError(err)
	}
	entry := s.compose(in, &before, nil, nil)
	return s.save(ctx, entry)
}

// LogView records an Action=View entry with no before/after payload.
func (s *Service) LogView(ctx context.Context, in BuilderInput) (audit.Entry, error) {
	in.Action = audit.ActionView
	if err := s.validateBuilderInput(in); err != nil {
		return audit.Entry{}, err
	}
	entry := s.compose(in, nil, nil, nil)
	return s.save(ctx, entry)
}

// LogCustom records an entry built entirely from the caller's input,
// for actions (Export, Anonymize, Login, Logout) outside the
// create/update/delete/view convenience wrappers.
func (s *Service) LogCustom(ctx context.Context, in BuilderInput, dataBefore, dataAfter interface{}) (audit.Entry, error) {
	if err := s.validateBuilderInput(in); err != nil {
		return audit.Entry{}, err
	}
	var before, after *string
	if dataBefore != nil {
		b, err := marshalCanonical(dataBefore)
		if err != nil {
			return audit.Entry{}, fluxerrors.AuditSerializationError(err)
		}
		before = &b
	}
	if dataAfter != nil {
		a, err := marshalCanonical(dataAfter)
		if err != nil {
			return audit.Entry{}, fluxerrors.AuditSerializationError(err)
		}
		after = &a
	}
	entry := s.compose(in, before, after, nil)
	return s.save(ctx, entry)
}

// Query forwards to the store.
func (s *Service) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	return s.store.Query(ctx, filter)
}

// Count forwards to the store.
func (s *Service) Count(ctx context.Context, filter audit.Filter) (int, error) {
	return s.store.Count(ctx, filter)
}

// GetEntityHistory returns an entity's full audit trail, newest first.
func (s *Service) GetEntityHistory(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	return s.store.FindByEntity(ctx, entityType, entityID)
}

// GetUserActivity returns a user's entries, newest first, capped at the
// fetch ceiling (Expansion, grounded on get_user_activity).
func (s *Service) GetUserActivity(ctx context.Context, userID string) ([]audit.Entry, error) {
	return s.store.FindByUser(ctx, userID, userActivityFetchCeiling, 0)
}

// GetActivityReport returns entries captured within [from, to).
func (s *Service) GetActivityReport(ctx context.Context, from, to time.Time) ([]audit.Entry, error) {
	return s.store.FindByDateRange(ctx, from, to)
}

// ReconstructEntityHistory returns every entry for (entityType, entityID)
// captured at or before upTo (§4.6).
func (s *Service) ReconstructEntityHistory(ctx context.Context, entityType, entityID string, upTo time.Time) ([]audit.Entry, error) {
	all, err := s.store.FindByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	var filtered []audit.Entry
	for _, e := range all {
		if !e.CapturedAt.After(upTo) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// GetStatistics tallies entries captured within [from, to) by action,
// user role, source, and GDPR category (§4.6).
func (s *Service) GetStatistics(ctx context.Context, from, to time.Time) (audit.Statistics, error) {
	entries, err := s.store.FindByDateRange(ctx, from, to)
	if err != nil {
		return audit.Statistics{}, err
	}
	stats := audit.NewStatistics()
	for _, e := range entries {
		stats.Tally(e)
	}
	return stats, nil
}

// RunGDPRAnonymization fetches every entry whose retention window has
// elapsed and is not yet anonymized, anonymizes each, and returns the
// count (§4.6, §4.2).
func (s *Service) RunGDPRAnonymization(ctx context.Context) (int, error) {
	now := s.clock()
	due, err := s.store.FindNeedingAnonymization(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, e := range due {
		if err := s.store.MarkAnonymized(ctx, e.ID, now); err != nil {
			return 0, err
		}
	}
	count := len(due)
	if s.metrics != nil {
		s.metrics.RecordAnonymizationSweep(count)
	}
	if s.log != nil {
		s.log.LogAudit(ctx, "gdpr_anonymization_sweep", "audit_log", "sweep", fmt.Sprintf("%d entries", count))
	}
	return count, nil
}

// CleanupExpiredLogs deletes anonymized rows whose retention-until has
// elapsed by at least retentionBufferDays (§4.6).
func (s *Service) CleanupExpiredLogs(ctx context.Context, retentionBufferDays int) (int, error) {
	cutoff := s.clock().AddDate(0, 0, -retentionBufferDays)
	deleted, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if s.log != nil {
		s.log.LogAudit(ctx, "expired_log_cleanup", "audit_log", "cleanup", fmt.Sprintf("%d entries", deleted))
	}
	return deleted, nil
}
