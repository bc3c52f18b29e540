package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/lukeeterna/fluxion-core/infrastructure/database"
	fluxerrors "github.com/lukeeterna/fluxion-core/infrastructure/errors"
)

// Appointment is the aggregate root: identity, scheduling data, lifecycle
// state, and the override captured when an operator accepts a warned
// slot. Mutated only through its methods, which enforce the state
// machine in state.go.
type Appointment struct {
	ID              string
	State           State
	ClientID        string
	OperatorID      string
	ServiceID       string
	StartAt         time.Time
	DurationMinutes int
	Notes           string
	Override        *OverrideInfo
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// NewDraft constructs a Draft aggregate, enforcing I1 (duration > 0) and
// I2 (client/operator/service references non-empty).
func NewDraft(clientID, operatorID, serviceID string, startAt time.Time, durationMinutes int) (*Appointment, error) {
	if clientID == "" {
		return nil, fluxerrors.MissingField("client_id")
	}
	if operatorID == "" {
		return nil, fluxerrors.MissingField("operator_id")
	}
	if serviceID == "" {
		return nil, fluxerrors.MissingField("service_id")
	}
	if durationMinutes <= 0 {
		return nil, fluxerrors.InvalidDuration(durationMinutes)
	}

	now := time.Now()
	return &Appointment{
		ID:              uuid.New().String(),
		State:           StateDraft,
		ClientID:        clientID,
		OperatorID:      operatorID,
		ServiceID:       serviceID,
		StartAt:         startAt,
		DurationMinutes: durationMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// EndAt returns the derived end instant: start + duration.
func (a *Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// IsPast reports whether the appointment's start instant is before now.
func (a *Appointment) IsPast(now time.Time) bool {
	return a.StartAt.Before(now)
}

func (a *Appointment) transitionTo(target State) error {
	if !canTransition(a.State, target) {
		return fluxerrors.InvalidTransition(string(a.State), string(target))
	}
	return nil
}

// hardErrorCodes maps a validation issue's code to its FluxionError code.
var hardErrorCodes = map[string]fluxerrors.ErrorCode{
	CodeAppointmentInPast: fluxerrors.ErrCodeAppointmentInPast,
	CodeOperatorConflict:  fluxerrors.ErrCodeOperatorConflict,
	CodeMidnightWrap:      fluxerrors.ErrCodeMidnightWrap,
}

// Propose transitions Draft → Proposed, rejecting if validation recorded
// any hard block (§4.5 propose contract).
func (a *Appointment) Propose(validation ValidationResult) error {
	if validation.IsBlocked() {
		first := validation.HardErrors[0]
		code, ok := hardErrorCodes[first.Code]
		if !ok {
			code = fluxerrors.ErrCodeInvalidValue
		}
		return fluxerrors.New(code, first.Message)
	}
	if err := a.transitionTo(StateProposed); err != nil {
		return err
	}
	a.State = StateProposed
	a.UpdatedAt = time.Now()
	return nil
}

// ConfirmClient transitions Proposed → AwaitingOperator.
func (a *Appointment) ConfirmClient() error {
	if err := a.transitionTo(StateAwaitingOperator); err != nil {
		return err
	}
	a.State = StateAwaitingOperator
	a.UpdatedAt = time.Now()
	return nil
}

// ConfirmOperator transitions AwaitingOperator → Confirmed.
func (a *Appointment) ConfirmOperator() error {
	if err := a.transitionTo(StateConfirmed); err != nil {
		return err
	}
	a.State = StateConfirmed
	a.UpdatedAt = time.Now()
	return nil
}

// ConfirmWithOverride transitions AwaitingOperator → ConfirmedWithOverride,
// recording the OverrideInfo the operator supplied.
func (a *Appointment) ConfirmWithOverride(operatorID string, rationale *string, ignoredWarnings []string) error {
	if err := a.transitionTo(StateConfirmedWithOverride); err != nil {
		return err
	}
	now := time.Now()
	a.Override = &OverrideInfo{
		Timestamp:       now,
		OperatorID:      operatorID,
		Rationale:       rationale,
		IgnoredWarnings: ignoredWarnings,
	}
	a.State = StateConfirmedWithOverride
	a.UpdatedAt = now
	return nil
}

// Reject transitions AwaitingOperator → Rejected, storing the rationale
// (if any) in Notes.
func (a *Appointment) Reject(rationale *string) error {
	if err := a.transitionTo(StateRejected); err != nil {
		return err
	}
	if rationale != nil {
		a.Notes = database.SanitizeString(*rationale)
	}
	a.State = StateRejected
	a.UpdatedAt = time.Now()
	return nil
}

// Complete transitions {Confirmed, ConfirmedWithOverride} → Completed,
// only when the appointment's end instant is strictly before now.
func (a *Appointment) Complete(now time.Time) error {
	if err := a.transitionTo(StateCompleted); err != nil {
		return err
	}
	if !a.EndAt().Before(now) {
		return fluxerrors.InvalidValue("start_at", "appointment has not yet ended")
	}
	a.State = StateCompleted
	a.UpdatedAt = now
	return nil
}

// Cancel transitions per the table's allowed Cancelled targets.
func (a *Appointment) Cancel() error {
	if err := a.transitionTo(StateCancelled); err != nil {
		return err
	}
	a.State = StateCancelled
	a.UpdatedAt = time.Now()
	return nil
}

// Edit mutates start/duration/notes, permitted only in {Draft, Proposed}.
// A Proposed aggregate drops back to Draft, since its ValidationResult no
// longer applies to the changed slot.
func (a *Appointment) Edit(newStart *time.Time, newDuration *int, newNotes *string) error {
	if a.State != StateDraft && a.State != StateProposed {
		return fluxerrors.InvalidTransition(string(a.State), string(StateDraft))
	}

	if newStart != nil {
		a.StartAt = *newStart
	}
	if newDuration != nil {
		if *newDuration <= 0 {
			return fluxerrors.InvalidDuration(*newDuration)
		}
		a.DurationMinutes = *newDuration
	}
	if newNotes != nil {
		a.Notes = database.SanitizeString(*newNotes)
	}

	if a.State == StateProposed {
		a.State = StateDraft
	}
	a.UpdatedAt = time.Now()
	return nil
}
