// Package scheduling implements the holiday directory the Validation
// Engine's Layer 2 check (§3.7 "holiday detection") reads against.
// Grounded on the teacher's repository_interface.go / supabase_repository.go
// context-threaded CRUD style, scoped down to the single read query this
// directory needs; recurring holidays (the yearly ones: Capodanno,
// Natale, Ferragosto, ...) are matched by month/day regardless of the
// stored year.
package scheduling

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lukeeterna/fluxion-core/domain/validation"
)

const civilDateLayout = "2006-01-02"

// HolidayRepository reads the holidays table the Storage Engine
// migrates into place (0004_scheduling_directory.sql).
type HolidayRepository struct {
	db *sql.DB
}

// New constructs a HolidayRepository over an already-migrated *sql.DB.
func New(db *sql.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

// ForYear returns every holiday falling in year, expanding recurring
// entries (stored with any placeholder year) to that year's civil date.
func (r *HolidayRepository) ForYear(ctx context.Context, year int) ([]validation.Holiday, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT date, description, recurring FROM holidays ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []validation.Holiday
	for rows.Next() {
		var dateStr, description string
		var recurringInt int
		if err := rows.Scan(&dateStr, &description, &recurringInt); err != nil {
			return nil, fmt.Errorf("scan holiday row: %w", err)
		}
		stored, err := time.Parse(civilDateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse holiday date %q: %w", dateStr, err)
		}
		recurring := recurringInt != 0

		date := stored
		if recurring {
			date = time.Date(year, stored.Month(), stored.Day(), 0, 0, 0, 0, time.UTC)
		} else if stored.Year() != year {
			continue
		}

		holidays = append(holidays, validation.Holiday{
			Date:        date,
			Description: description,
			Recurring:   recurring,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holiday rows: %w", err)
	}
	return holidays, nil
}

// Lookup adapts ForYear to the services/appointment.HolidayLookup shape.
func (r *HolidayRepository) Lookup(ctx context.Context, year int) ([]validation.Holiday, error) {
	return r.ForYear(ctx, year)
}
