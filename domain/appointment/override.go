package appointment

import "time"

// OverrideInfo is captured when an operator accepts an appointment that
// carries validation warnings. Immutable once recorded.
type OverrideInfo struct {
	Timestamp        time.Time
	OperatorID       string
	Rationale        *string
	IgnoredWarnings  []string
}
