// Package licensestore persists the License Verifier's single-row
// license cache table (§5 "the license cache table holds a single row
// (identifier = 1) enforced by primary key").
package licensestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lukeeterna/fluxion-core/domain/license"
	fluxerrors "github.com/lukeeterna/fluxion-core/infrastructure/errors"
)

// cacheRowID is the license cache table's single enforced primary key.
const cacheRowID = 1

const timeLayout = time.RFC3339Nano

// Cached is the persisted shape of the license cache row (§6.3).
type Cached struct {
	Fingerprint      string
	Tier             license.Tier
	Status           license.Status
	LicenseID        string
	RawEnvelope      string
	Signature        string
	LicenseeName     *string
	LicenseeEmail    *string
	EnabledVerticals []string
	Features         license.Features
	MaxOperators     int
	IssuedAt         *time.Time
	ExpiryDate       *time.Time
	TrialStartedAt   *time.Time
	TrialEndsAt      *time.Time
	UpdatedAt        time.Time
}

// Store is the license cache persistence interface.
type Store interface {
	Load(ctx context.Context) (*Cached, error)
	Save(ctx context.Context, c Cached) error
	Clear(ctx context.Context) error
}

// SQLiteStore is the Storage-Engine-backed Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// New constructs a SQLiteStore over an already-migrated *sql.DB.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const selectColumns = `fingerprint, tier, status, license_id, raw_envelope, signature, licensee_name, licensee_email, enabled_verticals, features, max_operators, issued_at, expiry_date, trial_started_at, trial_ends_at, updated_at`

// Load returns the single cached license row, or nil if none exists yet
// (§4.8 "if no license cache row exists").
func (s *SQLiteStore) Load(ctx context.Context) (*Cached, error) {
	query := "SELECT " + selectColumns + " FROM license_cache WHERE id = ?"
	row := s.db.QueryRowContext(ctx, query, cacheRowID)

	var (
		c                                          Cached
		licenseeName, licenseeEmail                sql.NullString
		enabledVerticalsJSON, featuresJSON          string
		issuedAt, expiryDate, trialStart, trialEnd  sql.NullString
		updatedAt                                   string
		tier, status                                string
	)
	err := row.Scan(
		&c.Fingerprint, &tier, &status, &c.LicenseID, &c.RawEnvelope, &c.Signature,
		&licenseeName, &licenseeEmail, &enabledVerticalsJSON, &featuresJSON, &c.MaxOperators,
		&issuedAt, &expiryDate, &trialStart, &trialEnd, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fluxerrors.NewRepositoryError("license_load", err)
	}

	c.Tier = license.Tier(tier)
	c.Status = license.Status(status)

	if licenseeName.Valid {
		c.LicenseeName = &licenseeName.String
	}
	if licenseeEmail.Valid {
		c.LicenseeEmail = &licenseeEmail.String
	}
	if err := json.Unmarshal([]byte(enabledVerticalsJSON), &c.EnabledVerticals); err != nil {
		return nil, fluxerrors.RepositorySerializationError("enabled_verticals", err)
	}
	if err := json.Unmarshal([]byte(featuresJSON), &c.Features); err != nil {
		return nil, fluxerrors.RepositorySerializationError("features", err)
	}

	c.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fluxerrors.RepositorySerializationError("updated_at", err)
	}
	c.IssuedAt = parseNullableTime(issuedAt)
	c.ExpiryDate = parseNullableTime(expiryDate)
	c.TrialStartedAt = parseNullableTime(trialStart)
	c.TrialEndsAt = parseNullableTime(trialEnd)

	return &c, nil
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func formatNullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Save upserts the single cache row, all-or-nothing (§4.8 "the cached
// license row is never partially updated on failure").
func (s *SQLiteStore) Save(ctx context.Context, c Cached) error {
	verticalsJSON, err := json.Marshal(c.EnabledVerticals)
	if err != nil {
		return fluxerrors.RepositorySerializationError("enabled_verticals", err)
	}
	featuresJSON, err := json.Marshal(c.Features)
	if err != nil {
		return fluxerrors.RepositorySerializationError("features", err)
	}

	query := `
INSERT INTO license_cache
    (id, fingerprint, tier, status, license_id, raw_envelope, signature, licensee_name, licensee_email,
     enabled_verticals, features, max_operators, issued_at, expiry_date, trial_started_at, trial_ends_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    fingerprint = excluded.fingerprint,
    tier = excluded.tier,
    status = excluded.status,
    license_id = excluded.license_id,
    raw_envelope = excluded.raw_envelope,
    signature = excluded.signature,
    licensee_name = excluded.licensee_name,
    licensee_email = excluded.licensee_email,
    enabled_verticals = excluded.enabled_verticals,
    features = excluded.features,
    max_operators = excluded.max_operators,
    issued_at = excluded.issued_at,
    expiry_date = excluded.expiry_date,
    trial_started_at = excluded.trial_started_at,
    trial_ends_at = excluded.trial_ends_at,
    updated_at = excluded.updated_at
`
	_, err = s.db.ExecContext(ctx, query,
		cacheRowID, c.Fingerprint, string(c.Tier), string(c.Status), c.LicenseID, c.RawEnvelope, c.Signature,
		formatNullableString(c.LicenseeName), formatNullableString(c.LicenseeEmail),
		string(verticalsJSON), string(featuresJSON), c.MaxOperators,
		formatNullableTime(c.IssuedAt), formatNullableTime(c.ExpiryDate),
		formatNullableTime(c.TrialStartedAt), formatNullableTime(c.TrialEndsAt),
		c.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fluxerrors.NewRepositoryError("license_save", err)
	}
	return nil
}

// Clear removes the single cache row (§4.8 deactivate()).
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM license_cache WHERE id = ?", cacheRowID)
	if err != nil {
		return fluxerrors.NewRepositoryError("license_clear", err)
	}
	return nil
}
