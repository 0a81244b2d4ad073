package event

import (
	"strings"
	"time"
)

// Status is the resolved lifecycle status of a canonical event. The values
// match the destination API's status strings.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// ProvenancePrefix starts the line appended to every synced description.
const ProvenancePrefix = "Synced from external calendar on "

const (
	dateLayout       = "2006-01-02"
	occurrenceLayout = "20060102T150405Z"
)

// TimeSpec is either an all-day date or a date-time with an explicit zone.
// A TimeSpec with DateTime set always has TimeZone set.
type TimeSpec struct {
	Date     string // YYYY-MM-DD, all-day
	DateTime string // RFC3339
	TimeZone string // IANA name

	// Floating is true when the source value carried no zone and UTC was assumed.
	Floating bool
}

// IsAllDay reports whether t is a date-only value.
func (t TimeSpec) IsAllDay() bool {
	return t.Date != ""
}

// IsZero reports whether neither a date nor a date-time is set.
func (t TimeSpec) IsZero() bool {
	return t.Date == "" && t.DateTime == ""
}

// Instant parses the date-time value. All-day values resolve to midnight UTC.
func (t TimeSpec) Instant() (time.Time, error) {
	if t.Date != "" {
		return time.Parse(dateLayout, t.Date)
	}
	return time.Parse(time.RFC3339, t.DateTime)
}

// Key identifies an occurrence independently of how its zone was spelled:
// the date for all-day values, the UTC instant otherwise.
func (t TimeSpec) Key() string {
	if t.Date != "" {
		return t.Date
	}
	ts, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return t.DateTime
	}
	return ts.UTC().Format(occurrenceLayout)
}

// Day returns the calendar date of t in loc as YYYY-MM-DD. All-day values
// return their date unchanged.
func (t TimeSpec) Day(loc *time.Location) string {
	if t.Date != "" {
		return t.Date
	}
	ts, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return t.DateTime
	}
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).Format(dateLayout)
}

// Equal compares two specs by meaning rather than by spelling.
func (t TimeSpec) Equal(other TimeSpec) bool {
	if t.IsAllDay() || other.IsAllDay() {
		return t.Date == other.Date
	}
	return t.Key() == other.Key()
}

// String renders t for log output.
func (t TimeSpec) String() string {
	if t.Date != "" {
		return t.Date
	}
	return t.DateTime + " (" + t.TimeZone + ")"
}

// Canonical is the normalized form of one source occurrence or series.
type Canonical struct {
	ExternalID  string
	Title       string
	Location    string
	Description string

	Start TimeSpec
	End   TimeSpec

	Status Status
	// SourceStatus is the raw STATUS property, empty when absent.
	SourceStatus string

	// RecurrenceRule is the serialized "RRULE:..." line; set only on series masters.
	RecurrenceRule string
	// RecurrenceExceptionOf is the RECURRENCE-ID of an exception component.
	RecurrenceExceptionOf *TimeSpec
}

// IsRecurring reports whether the event is a recurring series master.
func (e *Canonical) IsRecurring() bool {
	return e.RecurrenceRule != ""
}

// IsException reports whether the event overrides one occurrence of a series.
func (e *Canonical) IsException() bool {
	return e.RecurrenceExceptionOf != nil
}

// StripProvenance removes the trailing sync provenance line from a
// description so that two passes made at different times compare equal.
func StripProvenance(description string) string {
	idx := strings.LastIndex(description, ProvenancePrefix)
	if idx < 0 {
		return description
	}
	if strings.Contains(description[idx:], "\n") {
		// The marker is not on the last line; it belongs to the source text.
		return description
	}
	return strings.TrimRight(description[:idx], "\n")
}
