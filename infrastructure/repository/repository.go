// Package repository implements the Appointment Repository (§4.3):
// aggregate persistence, soft delete, and range queries against the
// Storage Engine's appointments table. Grounded on the teacher's
// repository_interface.go (narrow, method-per-query-shape interfaces)
// and supabase_repository.go's context-threaded, error-wrapped CRUD
// style, reworked against database/sql since the core talks to a local
// embedded store rather than a REST gateway.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lukeeterna/fluxion-core/domain/appointment"
	"github.com/lukeeterna/fluxion-core/infrastructure/database"
	fluxerrors "github.com/lukeeterna/fluxion-core/infrastructure/errors"
	"github.com/lukeeterna/fluxion-core/infrastructure/logging"
)

// Repository is the Appointment Repository interface the Appointment
// Service (§4.7) depends on. Its shape is narrow and method-per-query,
// matching the teacher's per-entity repository interfaces rather than a
// single generic CRUD surface.
type Repository interface {
	FindByID(ctx context.Context, id string) (*appointment.Appointment, error)
	Save(ctx context.Context, a *appointment.Appointment) error
	List(ctx context.Context, limit, offset int) ([]*appointment.Appointment, error)
	ListByClient(ctx context.Context, clientID string) ([]*appointment.Appointment, error)
	ListByOperator(ctx context.Context, operatorID string) ([]*appointment.Appointment, error)
	ListByDateRange(ctx context.Context, from, to time.Time) ([]*appointment.Appointment, error)
	ListByOperatorAndDate(ctx context.Context, operatorID string, day time.Time) ([]*appointment.Appointment, error)
	Delete(ctx context.Context, id string, now time.Time) error
}

// SQLiteRepository is the Storage-Engine-backed Repository implementation.
type SQLiteRepository struct {
	db  *sql.DB
	log *logging.Logger
}

// Option configures a SQLiteRepository at construction time.
type Option func(*SQLiteRepository)

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *SQLiteRepository) { r.log = l }
}

// New constructs a SQLiteRepository over an already-migrated *sql.DB
// (storage.Engine.DB()).
func New(db *sql.DB, opts ...Option) *SQLiteRepository {
	r := &SQLiteRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SQLiteRepository) logQuery(ctx context.Context, query string, started time.Time, err error) {
	if r.log == nil {
		return
	}
	r.log.LogDatabaseQuery(ctx, query, time.Since(started), err)
}

const timeLayout = time.RFC3339Nano

// row mirrors the appointments table's columns for scanning.
type row struct {
	id              string
	clientID        string
	operatorID      string
	serviceID       string
	startAt         string
	durationMinutes int
	state           string
	overrideInfo    sql.NullString
	notes           string
	createdAt       string
	updatedAt       string
	deletedAt       sql.NullString
}

func scanRow(scanner interface{ Scan(...any) error }) (row, error) {
	var r row
	err := scanner.Scan(
		&r.id, &r.clientID, &r.operatorID, &r.serviceID,
		&r.startAt, &r.durationMinutes, &r.state, &r.overrideInfo,
		&r.notes, &r.createdAt, &r.updatedAt, &r.deletedAt,
	)
	return r, err
}

func (r row) toAggregate() (*appointment.Appointment, error) {
	startAt, err := time.Parse(timeLayout, r.startAt)
	if err != nil {
		return nil, fluxerrors.RepositorySerializationError("start_at", err)
	}
	createdAt, err := time.Parse(timeLayout, r.createdAt)
	if err != nil {
		return nil, fluxerrors.RepositorySerializationError("created_at", err)
	}
	updatedAt, err := time.Parse(timeLayout, r.updatedAt)
	if err != nil {
		return nil, fluxerrors.RepositorySerializationError("updated_at", err)
	}

	a := &appointment.Appointment{
		ID:              r.id,
		State:           appointment.State(r.state),
		ClientID:        r.clientID,
		OperatorID:      r.operatorID,
		ServiceID:       r.serviceID,
		StartAt:         startAt,
		DurationMinutes: r.durationMinutes,
		Notes:           r.notes,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}

	if r.overrideInfo.Valid && r.overrideInfo.String != "" {
		var ov appointment.OverrideInfo
		if err := json.Unmarshal([]byte(r.overrideInfo.String), &ov); err != nil {
			return nil, fluxerrors.RepositorySerializationError("override_info", err)
		}
		a.Override = &ov
	}

	if r.deletedAt.Valid {
		deletedAt, err := time.Parse(timeLayout, r.deletedAt.String)
		if err != nil {
			return nil, fluxerrors.RepositorySerializationError("deleted_at", err)
		}
		a.DeletedAt = &deletedAt
	}

	return a, nil
}

const selectColumns = `id, client_id, operator_id, service_id, start_at, duration_minutes, state, override_info, notes, created_at, updated_at, deleted_at`

// FindByID returns the aggregate with id, excluding soft-deleted rows (I5).
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*appointment.Appointment, error) {
	if err := database.ValidateID(id); err != nil {
		return nil, fluxerrors.NewRepositoryError("find_by_id", err)
	}
	started := time.Now()
	query := fmt.Sprintf("SELECT %s FROM appointments WHERE id = ? AND deleted_at IS NULL", selectColumns)
	raw, err := scanRow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		r.logQuery(ctx, "find_by_id", started, nil)
		return nil, fluxerrors.RepositoryNotFound("appointment", id)
	}
	if err != nil {
		r.logQuery(ctx, "find_by_id", started, err)
		return nil, fluxerrors.NewRepositoryError("find_by_id", err)
	}
	r.logQuery(ctx, "find_by_id", started, nil)
	return raw.toAggregate()
}

// Save upserts the full aggregate, including the serialized OverrideInfo
// and the derived end instant (§4.3: "save persists the full aggregate").
func (r *SQLiteRepository) Save(ctx context.Context, a *appointment.Appointment) error {
	var overrideJSON sql.NullString
	if a.Override != nil {
		data, err := json.Marshal(a.Override)
		if err != nil {
			return fluxerrors.RepositorySerializationError("override_info", err)
		}
		overrideJSON = sql.NullString{String: string(data), Valid: true}
	}

	var deletedAt sql.NullString
	if a.DeletedAt != nil {
		deletedAt = sql.NullString{String: a.DeletedAt.UTC().Format(timeLayout), Valid: true}
	}

	query := `
INSERT INTO appointments
    (id, client_id, operator_id, service_id, start_at, end_at, duration_minutes, state, override_info, notes, created_at, updated_at, deleted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    client_id = excluded.client_id,
    operator_id = excluded.operator_id,
    service_id = excluded.service_id,
    start_at = excluded.start_at,
    end_at = excluded.end_at,
    duration_minutes = excluded.duration_minutes,
    state = excluded.state,
    override_info = excluded.override_info,
    notes = excluded.notes,
    updated_at = excluded.updated_at,
    deleted_at = excluded.deleted_at
`
	started := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.ClientID, a.OperatorID, a.ServiceID,
		a.StartAt.UTC().Format(timeLayout), a.EndAt().UTC().Format(timeLayout), a.DurationMinutes,
		string(a.State), overrideJSON, a.Notes,
		a.CreatedAt.UTC().Format(timeLayout), a.UpdatedAt.UTC().Format(timeLayout), deletedAt,
	)
	r.logQuery(ctx, "save", started, err)
	if err != nil {
		return fluxerrors.NewRepositoryError("save", err)
	}
	return nil
}

func (r *SQLiteRepository) queryList(ctx context.Context, whereClause string, args ...interface{}) ([]*appointment.Appointment, error) {
	query := fmt.Sprintf("SELECT %s FROM appointments WHERE deleted_at IS NULL %s ORDER BY start_at ASC", selectColumns, whereClause)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fluxerrors.NewRepositoryError("list", err)
	}
	defer rows.Close()

	var results []*appointment.Appointment
	for rows.Next() {
		raw, err := scanRow(rows)
		if err != nil {
			return nil, fluxerrors.NewRepositoryError("list_scan", err)
		}
		agg, err := raw.toAggregate()
		if err != nil {
			return nil, err
		}
		results = append(results, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fluxerrors.NewRepositoryError("list_iterate", err)
	}
	return results, nil
}

// List returns a page of aggregates ordered by start instant.
func (r *SQLiteRepository) List(ctx context.Context, limit, offset int) ([]*appointment.Appointment, error) {
	page := database.NewPagination(limit, offset)
	query := fmt.Sprintf("SELECT %s FROM appointments WHERE deleted_at IS NULL ORDER BY start_at ASC LIMIT ? OFFSET ?", selectColumns)
	rows, err := r.db.QueryContext(ctx, query, page.Limit, page.Offset)
	if err != nil {
		return nil, fluxerrors.NewRepositoryError("list", err)
	}
	defer rows.Close()

	var results []*appointment.Appointment
	for rows.Next() {
		raw, err := scanRow(rows)
		if err != nil {
			return nil, fluxerrors.NewRepositoryError("list_scan", err)
		}
		agg, err := raw.toAggregate()
		if err != nil {
			return nil, err
		}
		results = append(results, agg)
	}
	return results, rows.Err()
}

// ListByClient returns every non-deleted aggregate for a client.
func (r *SQLiteRepository) ListByClient(ctx context.Context, clientID string) ([]*appointment.Appointment, error) {
	return r.queryList(ctx, "AND client_id = ?", clientID)
}

// ListByOperator returns every non-deleted aggregate for an operator.
func (r *SQLiteRepository) ListByOperator(ctx context.Context, operatorID string) ([]*appointment.Appointment, error) {
	return r.queryList(ctx, "AND operator_id = ?", operatorID)
}

// ListByDateRange returns every non-deleted aggregate whose start instant
// falls within [from, to).
func (r *SQLiteRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]*appointment.Appointment, error) {
	return r.queryList(ctx, "AND start_at >= ? AND start_at < ?", from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
}

// ListByOperatorAndDate returns an operator's non-deleted aggregates
// whose start instant falls on day's civil date. Used by the Appointment
// Service to gather the Validation Engine's neighbor list.
func (r *SQLiteRepository) ListByOperatorAndDate(ctx context.Context, operatorID string, day time.Time) ([]*appointment.Appointment, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	return r.queryList(ctx, "AND operator_id = ? AND start_at >= ? AND start_at < ?",
		operatorID, dayStart.UTC().Format(timeLayout), dayEnd.UTC().Format(timeLayout))
}

// Delete soft-deletes the aggregate by stamping deleted_at; the row
// remains in the store but becomes invisible to find/list (I5, P4).
func (r *SQLiteRepository) Delete(ctx context.Context, id string, now time.Time) error {
	query := "UPDATE appointments SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL"
	stamp := now.UTC().Format(timeLayout)
	res, err := r.db.ExecContext(ctx, query, stamp, stamp, id)
	if err != nil {
		return fluxerrors.NewRepositoryError("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fluxerrors.NewRepositoryError("delete_rows_affected", err)
	}
	if affected == 0 {
		return fluxerrors.RepositoryNotFound("appointment", id)
	}
	return nil
}
