// Package auditstore implements the Audit Log Store (§4.2): append-only
// persistence, filtered queries, anonymization, and expired-row purge
// against the Storage Engine's audit_log table. Grounded on the same
// repository style as infrastructure/repository.
package auditstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lukeeterna/fluxion-core/domain/audit"
	fluxerrors "github.com/lukeeterna/fluxion-core/infrastructure/errors"
)

// Store is the Audit Log Store interface the Audit Service (§4.6)
// depends on.
type Store interface {
	Save(ctx context.Context, e audit.Entry) error
	FindByID(ctx context.Context, id string) (audit.Entry, error)
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
	Count(ctx context.Context, filter audit.Filter) (int, error)
	FindByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]audit.Entry, error)
	FindByDateRange(ctx context.Context, from, to time.Time) ([]audit.Entry, error)
	MarkAnonymized(ctx context.Context, id string, now time.Time) error
	FindNeedingAnonymization(ctx context.Context, now time.Time) ([]audit.Entry, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// SQLiteStore is the Storage-Engine-backed Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// New constructs a SQLiteStore over an already-migrated *sql.DB.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const timeLayout = time.RFC3339Nano

const selectColumns = `id, captured_at, user_id, user_role, action, entity_type, entity_id, data_before, data_after, changed_fields, gdpr_category, source, legal_basis, retention_until, anonymized_at, ip_address, user_agent, request_id`

type scanner interface {
	Scan(...any) error
}

func scanEntry(s scanner) (audit.Entry, error) {
	var (
		e                                            audit.Entry
		userID, dataBefore, dataAfter, changedFields sql.NullString
		legalBasis, anonymizedAt                     sql.NullString
		ipAddress, userAgent, requestID              sql.NullString
		capturedAtStr, retentionUntilStr             string
		userRole, action, entityType, entityID       string
		category, source                             string
	)
	err := s.Scan(
		&e.ID, &capturedAtStr, &userID, &userRole, &action, &entityType, &entityID,
		&dataBefore, &dataAfter, &changedFields, &category, &source, &legalBasis,
		&retentionUntilStr, &anonymizedAt, &ipAddress, &userAgent, &requestID,
	)
	if err != nil {
		return audit.Entry{}, err
	}

	e.UserRole = audit.UserRole(userRole)
	e.Action = audit.Action(action)
	e.EntityType = entityType
	e.EntityID = entityID
	e.Category = audit.Category(category)
	e.Source = audit.Source(source)

	e.CapturedAt, err = time.Parse(timeLayout, capturedAtStr)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("parse captured_at: %w", err)
	}
	e.RetentionUntil, err = time.Parse(timeLayout, retentionUntilStr)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("parse retention_until: %w", err)
	}

	if userID.Valid {
		v := userID.String
		e.UserID = &v
	}
	if dataBefore.Valid {
		v := dataBefore.String
		e.DataBefore = &v
	}
	if dataAfter.Valid {
		v := dataAfter.String
		e.DataAfter = &v
	}
	if changedFields.Valid && changedFields.String != "" {
		if err := json.Unmarshal([]byte(changedFields.String), &e.ChangedFields); err != nil {
			return audit.Entry{}, fmt.Errorf("unmarshal changed_fields: %w", err)
		}
	}
	if legalBasis.Valid {
		v := legalBasis.String
		e.LegalBasis = &v
	}
	if anonymizedAt.Valid {
		t, err := time.Parse(timeLayout, anonymizedAt.String)
		if err != nil {
			return audit.Entry{}, fmt.Errorf("parse anonymized_at: %w", err)
		}
		e.AnonymizedAt = &t
	}
	if ipAddress.Valid || userAgent.Valid || requestID.Valid {
		e.Request = &audit.RequestContext{
			IPAddress: ipAddress.String,
			UserAgent: userAgent.String,
			RequestID: requestID.String,
		}
	}

	return e, nil
}

// Save appends a new entry. Duplicate ids are a programming error and
// surface as a repository error from the UNIQUE constraint on the
// primary key (§4.2 "duplicates by id are a programming error").
func (s *SQLiteStore) Save(ctx context.Context, e audit.Entry) error {
	changedFieldsJSON, err := marshalChangedFields(e.ChangedFields)
	if err != nil {
		return fluxerrors.AuditSerializationError(err)
	}

	var ip, ua, reqID sql.NullString
	if e.Request != nil {
		ip = sql.NullString{String: e.Request.IPAddress, Valid: true}
		ua = sql.NullString{String: e.Request.UserAgent, Valid: true}
		reqID = sql.NullString{String: e.Request.RequestID, Valid: true}
	}

	var anonymizedAt sql.NullString
	if e.AnonymizedAt != nil {
		anonymizedAt = sql.NullString{String: e.AnonymizedAt.UTC().Format(timeLayout), Valid: true}
	}

	query := fmt.Sprintf(`INSERT INTO audit_log (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, selectColumns)
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.CapturedAt.UTC().Format(timeLayout), nullableString(e.UserID), string(e.UserRole),
		string(e.Action), e.EntityType, e.EntityID, nullableString(e.DataBefore), nullableString(e.DataAfter),
		changedFieldsJSON, string(e.Category), string(e.Source), nullableString(e.LegalBasis),
		e.RetentionUntil.UTC().Format(timeLayout), anonymizedAt, ip, ua, reqID,
	)
	if err != nil {
		return fluxerrors.AuditRepositoryError(err)
	}
	return nil
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func marshalChangedFields(fields []string) (sql.NullString, error) {
	if fields == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// FindByID returns the entry with id.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (audit.Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_log WHERE id = ?", selectColumns)
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, fluxerrors.RepositoryNotFound("audit_entry", id)
	}
	if err != nil {
		return audit.Entry{}, fluxerrors.AuditRepositoryError(err)
	}
	return e, nil
}

// buildFilter composes the conjunction over the filter's populated
// fields (§4.2 query).
func buildFilter(filter audit.Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.UserID != nil {
		clauses = append(clauses, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.UserRole != nil {
		clauses = append(clauses, "user_role = ?")
		args = append(args, string(*filter.UserRole))
	}
	if filter.Action != nil {
		clauses = append(clauses, "action = ?")
		args = append(args, string(*filter.Action))
	}
	if filter.EntityType != nil {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, *filter.EntityType)
	}
	if filter.EntityID != nil {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, *filter.EntityID)
	}
	if filter.Source != nil {
		clauses = append(clauses, "source = ?")
		args = append(args, string(*filter.Source))
	}
	if filter.Category != nil {
		clauses = append(clauses, "gdpr_category = ?")
		args = append(args, string(*filter.Category))
	}
	if filter.From != nil {
		clauses = append(clauses, "captured_at >= ?")
		args = append(args, filter.From.UTC().Format(timeLayout))
	}
	if filter.To != nil {
		clauses = append(clauses, "captured_at < ?")
		args = append(args, filter.To.UTC().Format(timeLayout))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Query composes the filter's populated fields into a conjunction,
// ordered by capture instant descending, paginated via limit/offset
// (§4.2).
func (s *SQLiteStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	where, args := buildFilter(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM audit_log %s ORDER BY captured_at DESC LIMIT ? OFFSET ?", selectColumns, where)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fluxerrors.AuditRepositoryError(err)
	}
	defer rows.Close()

	var results []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fluxerrors.AuditRepositoryError(err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// Count returns the number of rows matching filter, ignoring its
// pagination fields.
func (s *SQLiteStore) Count(ctx context.Context, filter audit.Filter) (int, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf("SELECT COUNT(*) FROM audit_log %s", where)
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fluxerrors.AuditRepositoryError(err)
	}
	return count, nil
}

// FindByEntity returns every entry for an (entity type, entity id) pair,
// newest first.
func (s *SQLiteStore) FindByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	return s.Query(ctx, audit.Filter{EntityType: &entityType, EntityID: &entityID, Limit: 10000})
}

// FindByUser returns a user's entries, newest first, paginated.
func (s *SQLiteStore) FindByUser(ctx context.Context, userID string, limit, offset int) ([]audit.Entry, error) {
	return s.Query(ctx, audit.Filter{UserID: &userID, Limit: limit, Offset: offset})
}

// FindByDateRange returns every entry captured within [from, to).
func (s *SQLiteStore) FindByDateRange(ctx context.Context, from, to time.Time) ([]audit.Entry, error) {
	return s.Query(ctx, audit.Filter{From: &from, To: &to, Limit: 100000})
}

// MarkAnonymized replaces the user reference with the anonymization
// sentinel, clears ip/user-agent/data-before/data-after, and stamps
// anonymized_at with now. Idempotent: anonymizing an already-anonymized
// row is a no-op (§4.2, P2).
func (s *SQLiteStore) MarkAnonymized(ctx context.Context, id string, now time.Time) error {
	query := `
UPDATE audit_log SET
    user_id = ?,
    ip_address = NULL,
    user_agent = NULL,
    data_before = NULL,
    data_after = NULL,
    anonymized_at = ?
WHERE id = ? AND anonymized_at IS NULL
`
	_, err := s.db.ExecContext(ctx, query, audit.AnonymizedSentinel, now.UTC().Format(timeLayout), id)
	if err != nil {
		return fluxerrors.AuditRepositoryError(err)
	}
	return nil
}

// FindNeedingAnonymization returns every entry whose retention-until has
// elapsed as of now and which has not yet been anonymized.
func (s *SQLiteStore) FindNeedingAnonymization(ctx context.Context, now time.Time) ([]audit.Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_log WHERE anonymized_at IS NULL AND retention_until <= ? ORDER BY captured_at DESC", selectColumns)
	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fluxerrors.AuditRepositoryError(err)
	}
	defer rows.Close()

	var results []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fluxerrors.AuditRepositoryError(err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// DeleteExpired removes rows whose anonymized_at is set and whose
// retention_until is ≤ before, returning the count removed (§4.2).
func (s *SQLiteStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_log WHERE anonymized_at IS NOT NULL AND retention_until <= ?",
		before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fluxerrors.AuditRepositoryError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fluxerrors.AuditRepositoryError(err)
	}
	return int(affected), nil
}
