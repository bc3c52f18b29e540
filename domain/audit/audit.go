// Package audit defines the Audit Log Entry shape (§3.4): the GDPR-aware
// record the Audit Service composes and the Audit Log Store persists.
// The package holds no storage or diffing logic — only the wire/domain
// shape and its enumerated variants, mirroring how domain/appointment
// separates the aggregate shape from the Validation Engine that acts on it.
package audit

import "time"

// UserRole is the actor variant recorded on an entry.
type UserRole string

const (
	RoleVoiceSession UserRole = "VoiceSession"
	RoleOperator     UserRole = "Operator"
	RoleSystem       UserRole = "System"
)

// Action is the mutation/read kind the entry records.
type Action string

const (
	ActionCreate    Action = "Create"
	ActionUpdate    Action = "Update"
	ActionDelete    Action = "Delete"
	ActionView      Action = "View"
	ActionExport    Action = "Export"
	ActionAnonymize Action = "Anonymize"
	ActionLogin     Action = "Login"
	ActionLogout    Action = "Logout"
)

// Category is the GDPR data category an entry falls under.
type Category string

const (
	CategoryPersonalData Category = "PersonalData"
	CategoryConsent      Category = "Consent"
	CategoryBooking      Category = "Booking"
	CategoryVoiceSession Category = "VoiceSession"
)

// Source is the channel through which the audited action was taken.
type Source string

const (
	SourceVoice Source = "Voice"
	SourceWeb   Source = "Web"
	SourceAPI   Source = "Api"
	SourceSystem Source = "System"
)

// AnonymizedSentinel replaces UserID when an entry is anonymized (§4.2
// mark_anonymized).
const AnonymizedSentinel = "[ANONYMIZED]"

// RequestContext is the optional web/voice request metadata attached to
// an entry.
type RequestContext struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// Entry is a single Audit Log Entry (§3.4). Once written, only the
// anonymization mutation is permitted.
type Entry struct {
	ID              string
	CapturedAt      time.Time
	UserID          *string
	UserRole        UserRole
	Action          Action
	EntityType      string
	EntityID        string
	DataBefore      *string
	DataAfter       *string
	ChangedFields   []string
	Category        Category
	Source          Source
	LegalBasis      *string
	RetentionUntil  time.Time
	AnonymizedAt    *time.Time
	Request         *RequestContext
}

// IsAnonymized reports whether the entry has already been anonymized.
func (e Entry) IsAnonymized() bool {
	return e.AnonymizedAt != nil
}

// NeedsAnonymization reports whether the entry's retention window has
// elapsed as of asOf and it has not yet been anonymized.
func (e Entry) NeedsAnonymization(asOf time.Time) bool {
	return !e.IsAnonymized() && !e.RetentionUntil.After(asOf)
}

// Filter composes the conjunction the Audit Log Store's query() evaluates
// over populated fields (§4.2).
type Filter struct {
	UserID     *string
	UserRole   *UserRole
	Action     *Action
	EntityType *string
	EntityID   *string
	Source     *Source
	Category   *Category
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Statistics is the Audit Service's windowed tally (§4.6 Statistics).
type Statistics struct {
	Total         int
	ByAction      map[Action]int
	ByUserRole    map[UserRole]int
	BySource      map[Source]int
	ByCategory    map[Category]int
}

// NewStatistics returns a zeroed Statistics with initialized maps.
func NewStatistics() Statistics {
	return Statistics{
		ByAction:   make(map[Action]int),
		ByUserRole: make(map[UserRole]int),
		BySource:   make(map[Source]int),
		ByCategory: make(map[Category]int),
	}
}

// Tally folds one entry into the running statistics.
func (s *Statistics) Tally(e Entry) {
	s.Total++
	s.ByAction[e.Action]++
	s.ByUserRole[e.UserRole]++
	s.BySource[e.Source]++
	s.ByCategory[e.Category]++
}
