package scheduling

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lukeeterna/fluxion-core/domain/validation"
)

// WorkingHoursRepository reads the working_hours table the Storage
// Engine migrates into place (0004_scheduling_directory.sql): the
// day-of-week/operator-scoped Work and Break windows the Validation
// Engine's Layer 2 check consults (§3.7).
type WorkingHoursRepository struct {
	db *sql.DB
}

// NewWorkingHours constructs a WorkingHoursRepository over an
// already-migrated *sql.DB.
func NewWorkingHours(db *sql.DB) *WorkingHoursRepository {
	return &WorkingHoursRepository{db: db}
}

// Rules returns the full working-hours/break rule directory, unfiltered;
// the Validation Engine itself narrows by day-of-week and operator.
func (r *WorkingHoursRepository) Rules(ctx context.Context) ([]validation.WorkingHoursRule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT day_of_week, start_time, end_time, kind, operator_id FROM working_hours ORDER BY day_of_week`)
	if err != nil {
		return nil, fmt.Errorf("query working_hours: %w", err)
	}
	defer rows.Close()

	var rules []validation.WorkingHoursRule
	for rows.Next() {
		var dayOfWeek int
		var startTime, endTime, kind string
		var operatorID sql.NullString
		if err := rows.Scan(&dayOfWeek, &startTime, &endTime, &kind, &operatorID); err != nil {
			return nil, fmt.Errorf("scan working_hours row: %w", err)
		}

		startMinutes, err := parseClock(startTime)
		if err != nil {
			return nil, fmt.Errorf("working_hours.start_time: %w", err)
		}
		endMinutes, err := parseClock(endTime)
		if err != nil {
			return nil, fmt.Errorf("working_hours.end_time: %w", err)
		}

		ruleKind := validation.WorkingHoursKindWork
		if strings.EqualFold(kind, string(validation.WorkingHoursKindBreak)) {
			ruleKind = validation.WorkingHoursKindBreak
		}

		rules = append(rules, validation.WorkingHoursRule{
			DayOfWeek:    dayOfWeek,
			StartMinutes: startMinutes,
			EndMinutes:   endMinutes,
			Kind:         ruleKind,
			OperatorID:   operatorID.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate working_hours rows: %w", err)
	}
	return rules, nil
}

// Lookup adapts Rules to the services/appointment.WorkingHoursLookup shape.
func (r *WorkingHoursRepository) Lookup(ctx context.Context) ([]validation.WorkingHoursRule, error) {
	return r.Rules(ctx)
}

// parseClock parses a "HH:MM" civil clock string into minutes since
// midnight, matching infrastructure/config's clock parsing.
func parseClock(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h*60 + m, nil
}
