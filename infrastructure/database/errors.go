// Package database provides the repository error taxonomy and shared
// validation/pagination helpers used by the Fluxion storage layer
// (Appointment Repository, Audit Log Store, License cache).
package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Standard Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when trying to create a duplicate record.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when there's a conflict (e.g., an overlapping
	// appointment, or a concurrent modification the store detects).
	ErrConflict = errors.New("conflict")

	// ErrDatabaseError is returned for general database errors.
	ErrDatabaseError = errors.New("database error")
)

// NotFoundError wraps ErrNotFound with the entity kind and id, so callers
// can report "appointment with id '...' not found" without losing the
// ability to test errors.Is(err, ErrNotFound).
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with id '%s' not found", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Entity)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidInput checks if an error is an invalid input error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// =============================================================================
// Input Validation
// =============================================================================

var (
	// uuidRegex matches UUID format (with or without hyphens). The
	// Appointment, audit, and directory identifiers are opaque UUIDs.
	uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-?[a-fA-F0-9]{4}-?[a-fA-F0-9]{4}-?[a-fA-F0-9]{4}-?[a-fA-F0-9]{12}$`)

	// alphanumericRegex matches alphanumeric strings with hyphens and
	// underscores, for identifiers supplied by fixtures or the CLI.
	alphanumericRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// emailRegex is a simple email validation pattern, used for the
	// licensee email field on a Signed License payload.
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateID validates an ID string (UUID or alphanumeric).
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidInput)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: id too long", ErrInvalidInput)
	}
	if !uuidRegex.MatchString(id) && !alphanumericRegex.MatchString(id) {
		return fmt.Errorf("%w: invalid id format", ErrInvalidInput)
	}
	return nil
}

// ValidateUserID validates a user (operator/client) reference.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id cannot be empty", ErrInvalidInput)
	}
	return ValidateID(userID)
}

// ValidateEmail validates an email address. Empty is accepted since
// licensee_email is an optional field on the Signed License payload.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

// ValidateLimit validates and normalizes a limit parameter.
func ValidateLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// ValidateOffset validates an offset parameter.
func ValidateOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// SanitizeString removes potentially dangerous characters from a string,
// used when persisting free-text notes and audit rationale.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// ValidateStatus validates a state/status string against a set of values
// allowed in that position (e.g. an Appointment state machine state).
func ValidateStatus(status string, validStatuses []string) error {
	if status == "" {
		return fmt.Errorf("%w: status cannot be empty", ErrInvalidInput)
	}
	for _, valid := range validStatuses {
		if status == valid {
			return nil
		}
	}
	return fmt.Errorf("%w: invalid status '%s'", ErrInvalidInput, status)
}

// =============================================================================
// Pagination
// =============================================================================

// PaginationParams holds pagination parameters for the Appointment
// Repository's List query (§4.3 list).
type PaginationParams struct {
	Limit  int
	Offset int
}

// DefaultPagination returns default pagination parameters.
func DefaultPagination() PaginationParams {
	return PaginationParams{
		Limit:  50,
		Offset: 0,
	}
}

// NewPagination creates validated pagination parameters.
func NewPagination(limit, offset int) PaginationParams {
	return PaginationParams{
		Limit:  ValidateLimit(limit, 50, 1000),
		Offset: ValidateOffset(offset),
	}
}
