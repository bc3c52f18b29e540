// Package appointment implements the Appointment Service (§4.7):
// orchestrates the booking use-cases by composing the Appointment
// Repository, the Validation Engine, and the Appointment Aggregate, with
// the Audit Service wired in as an optional best-effort collaborator.
// Grounded on the teacher's service-layer composition style (a struct
// holding its collaborators as interfaces, constructed via options).
package appointment

import (
	"context"
	"time"

	"github.com/lukeeterna/fluxion-core/domain/appointment"
	"github.com/lukeeterna/fluxion-core/domain/validation"
	auditsvc "github.com/lukeeterna/fluxion-core/services/audit"
	"github.com/lukeeterna/fluxion-core/infrastructure/logging"
	"github.com/lukeeterna/fluxion-core/infrastructure/metrics"
	"github.com/lukeeterna/fluxion-core/infrastructure/repository"
)

// ClockFunc returns the current instant; overridable in tests.
type ClockFunc func() time.Time

// HolidayLookup resolves the holiday calendar for the given civil year
// the Validation Engine consults (§3.7); kept as a function so the
// service doesn't need a direct storage dependency for a small,
// largely-static dataset.
type HolidayLookup func(ctx context.Context, year int) ([]validation.Holiday, error)

// WorkingHoursLookup resolves the working-hours/break rule directory the
// Validation Engine consults (§3.7); loaded once per Propose call and
// handed to the engine as a plain slice, same as HolidayLookup.
type WorkingHoursLookup func(ctx context.Context) ([]validation.WorkingHoursRule, error)

// Service is the Appointment Service.
type Service struct {
	repo         repository.Repository
	audit        *auditsvc.Service
	cfg          validation.Config
	holidays     HolidayLookup
	workingHours WorkingHoursLookup
	clock        ClockFunc
	log          *logging.Logger
	metrics      *metrics.Metrics
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithAudit attaches the optional Audit Service collaborator (§4.7
// Expansion).
func WithAudit(a *auditsvc.Service) Option {
	return func(s *Service) { s.audit = a }
}

// WithValidationConfig overrides the Validation Engine's tunables.
func WithValidationConfig(cfg validation.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithHolidayLookup overrides the holiday calendar source.
func WithHolidayLookup(h HolidayLookup) Option {
	return func(s *Service) { s.holidays = h }
}

// WithWorkingHoursLookup overrides the working-hours/break rule source.
func WithWorkingHoursLookup(w WorkingHoursLookup) Option {
	return func(s *Service) { s.workingHours = w }
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

// New constructs an Appointment Service over repo.
func New(repo repository.Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		cfg:   validation.DefaultConfig(),
		clock: time.Now,
		holidays: func(context.Context, int) ([]validation.Holiday, error) {
			return nil, nil
		},
		workingHours: func(context.Context) ([]validation.WorkingHoursRule, error) {
			return nil, nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const actorSystem = "system"

// emitAudit is a best-effort wrapper: audit failures are logged but never
// roll back the business operation (§7 "failed audit writes never roll
// back the business operation", §4.7 Expansion).
func (s *Service) emitAudit(ctx context.Context, fn func() error) {
	if s.audit == nil || fn == nil {
		return
	}
	if err := fn(); err != nil && s.log != nil {
		s.log.Warn(ctx, "audit write failed; business operation already committed", map[string]interface{}{"error": err.Error()})
	}
}

func auditInput(a *appointment.Appointment, action string) auditsvc.BuilderInput {
	user := actorSystem
	return auditsvc.BuilderInput{
		UserID:     &user,
		UserRole:   "System",
		EntityType: "appointment",
		EntityID:   a.ID,
		Source:     "System",
		Category:   "Booking",
	}
}

// CreateDraft constructs a Draft aggregate and persists it (§4.7).
func (s *Service) CreateDraft(ctx context.Context, clientID, operatorID, serviceID string, startAt time.Time, durationMinutes int) (*appointment.Appointment, error) {
	a, err := appointment.NewDraft(clientID, operatorID, serviceID, startAt, durationMinutes)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, func() error {
		_, err := s.audit.LogCreate(ctx, auditInput(a, "create"), a)
		return err
	})
	return a, nil
}

// Propose loads neighboring appointments for the candidate's operator and
// day, runs the Validation Engine, and — if not blocked — transitions the
// aggregate to Proposed and persists it. If blocked, the aggregate is
// returned untransitioned alongside the ValidationResult (§4.7).
func (s *Service) Propose(ctx context.Context, id string) (*appointment.Appointment, appointment.ValidationResult, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appointment.ValidationResult{}, err
	}

	neighbors, err := s.repo.ListByOperatorAndDate(ctx, a.OperatorID, a.StartAt)
	if err != nil {
		return nil, appointment.ValidationResult{}, err
	}
	holidays, err := s.holidays(ctx, a.StartAt.Year())
	if err != nil {
		return nil, appointment.ValidationResult{}, err
	}
	rules, err := s.workingHours(ctx)
	if err != nil {
		return nil, appointment.ValidationResult{}, err
	}

	validateStarted := time.Now()
	result := validation.Validate(a, neighbors, holidays, rules, s.cfg, s.clock())
	if s.log != nil {
		s.log.LogServiceCall(ctx, "validation-engine", "validate", time.Since(validateStarted), nil)
	}
	s.recordValidation(result)

	if result.IsBlocked() {
		return a, result, nil
	}

	if err := a.Propose(result); err != nil {
		return nil, appointment.ValidationResult{}, err
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, appointment.ValidationResult{}, err
	}
	s.emitAudit(ctx, func() error {
		_, err := s.audit.LogUpdate(ctx, auditInput(a, "propose"), nil, a)
		return err
	})
	return a, result, nil
}

func (s *Service) recordValidation(result appointment.ValidationResult) {
	if s.metrics == nil {
		return
	}
	for _, issue := range result.HardErrors {
		s.metrics.RecordValidationOutcome("hard", issue.Code)
	}
	for _, issue := range result.Warnings {
		s.metrics.RecordValidationOutcome("warning", issue.Code)
	}
	for _, issue := range result.Suggestions {
		s.metrics.RecordValidationOutcome("suggestion", issue.Code)
	}
	if len(result.HardErrors) == 0 && len(result.Warnings) == 0 && len(result.Suggestions) == 0 {
		s.metrics.RecordValidationOutcome("clean", "none")
	}
}

// loadTransitionPersist is the load-through/invoke/persist pattern shared
// by confirm_client/confirm_operator/reject/cancel/complete (§4.7).
func (s *Service) loadTransitionPersist(ctx context.Context, id string, mutate func(*appointment.Appointment) error, auditAction string) (*appointment.Appointment, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(a); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, func() error {
		if auditAction == "cancel" {
			_, err := s.audit.LogDelete(ctx, auditInput(a, auditAction), a)
			return err
		}
		_, err := s.audit.LogUpdate(ctx, auditInput(a, auditAction), nil, a)
		return err
	})
	return a, nil
}

// ConfirmClient transitions Proposed → AwaitingOperator.
func (s *Service) ConfirmClient(ctx context.Context, id string) (*appointment.Appointment, error) {
	return s.loadTransitionPersist(ctx, id, func(a *appointment.Appointment) error {
		return a.ConfirmClient()
	}, "confirm_client")
}

// ConfirmOperator transitions AwaitingOperator → Confirmed.
func (s *Service) ConfirmOperator(ctx context.Context, id string) (*appointment.Appointment, error) {
	return s.loadTransitionPersist(ctx, id, func(a *appointment.Appointment) error {
		return a.ConfirmOperator()
	}, "confirm_operator")
}

// ConfirmWithOverride transitions AwaitingOperator → ConfirmedWithOverride,
// recording the operator's override rationale.
func (s *Service) ConfirmWithOverride(ctx context.Context, id, operatorID string, rationale *string, ignoredWarnings []string) (*appointment.Appointment, error) {
	return s.loadTransitionPersist(ctx, id, func(a *appointment.Appointment) error {
		return a.ConfirmWithOverride(operatorID, rationale, ignoredWarnings)
	}, "confirm_with_override")
}

// Reject transitions AwaitingOperator → Rejected.
func (s *Service) Reject(ctx context.Context, id string, rationale *string) (*appointment.Appointment, error) {
	return s.loadTransitionPersist(ctx, id, func(a *appointment.Appointment) error {
		return a.Reject(rationale)
	}, "reject")
}

// Cancel transitions the aggregate to Cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*appointment.Appointment, error) {
	return s.loadTransitionPersist(ctx, id, func(a *appointment.Appointment) error {
		return a.Cancel()
	}, "cancel")
}

// Complete transitions {Confirmed, ConfirmedWithOverride} → Completed.
func (s *Service) Complete(ctx context.Context, id string) (*appointment.Appointment, error) {
	now := s.clock()
	return s.loadTransitionPersist(ctx, id, func(a *appointment.Appointment) error {
		return a.Complete(now)
	}, "complete")
}

// Edit mutates start/duration/notes on an editable aggregate (§4.5 edit
// contract).
func (s *Service) Edit(ctx context.Context, id string, newStart *time.Time, newDuration *int, newNotes *string) (*appointment.Appointment, error) {
	return s.loadTransitionPersist(ctx, id, func(a *appointment.Appointment) error {
		return a.Edit(newStart, newDuration, newNotes)
	}, "edit")
}
