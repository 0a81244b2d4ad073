package event

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// parseVEvent decodes a single VEVENT body wrapped in a minimal VCALENDAR.
func parseVEvent(t *testing.T, body string) *ical.Component {
	t.Helper()
	raw := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nBEGIN:VEVENT\r\n" +
		strings.ReplaceAll(strings.TrimSpace(body), "\n", "\r\n") +
		"\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		t.Fatalf("Failed to decode calendar: %v", err)
	}
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			return child
		}
	}
	t.Fatal("No VEVENT in calendar")
	return nil
}

func newTestNormalizer(t *testing.T) *Normalizer {
	return NewNormalizer(zaptest.NewLogger(t).Sugar()).WithClock(func() time.Time { return fixedNow })
}

// TestNormalize_AllDayWithDeclinedAttendee covers an all-day event with one declined attendee.
func TestNormalize_AllDayWithDeclinedAttendee(t *testing.T) {
	comp := parseVEvent(t, `
UID:abc123
DTSTAMP:20250301T000000Z
DTSTART;VALUE=DATE:20250303
SUMMARY:Standup
ATTENDEE;PARTSTAT=DECLINED;CN=Bob:mailto:bob@example.com`)

	ev, err := newTestNormalizer(t).Normalize(comp)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.ExternalID != "abc123" {
		t.Errorf("Expected external ID abc123, got %q", ev.ExternalID)
	}
	if ev.Title != "Standup" {
		t.Errorf("Expected title Standup, got %q", ev.Title)
	}
	if ev.Start.Date != "2025-03-03" || ev.Start.DateTime != "" {
		t.Errorf("Expected all-day start 2025-03-03, got %+v", ev.Start)
	}
	if ev.End != ev.Start {
		t.Errorf("Expected end to default to start, got %+v", ev.End)
	}
	if ev.Status != StatusCancelled {
		t.Errorf("Expected cancelled status, got %s", ev.Status)
	}
	if ev.IsRecurring() {
		t.Error("Expected non-recurring event")
	}
	want := "Synced from external calendar on 2025-03-01 09:30:00"
	if ev.Description != want {
		t.Errorf("Expected description %q, got %q", want, ev.Description)
	}
}

// TestNormalize_MissingUID verifies components without UID are rejected.
func TestNormalize_MissingUID(t *testing.T) {
	comp := parseVEvent(t, `
DTSTAMP:20250301T000000Z
DTSTART:20250303T100000Z
SUMMARY:No uid`)

	if _, err := newTestNormalizer(t).Normalize(comp); err != ErrNoUID {
		t.Errorf("Expected ErrNoUID, got %v", err)
	}
}

// TestNormalize_DefaultTitleAndDescription checks the fallback title and provenance layout.
func TestNormalize_DefaultTitleAndDescription(t *testing.T) {
	comp := parseVEvent(t, `
UID:u1
DTSTAMP:20250301T000000Z
DTSTART:20250303T100000Z
DTEND:20250303T110000Z
DESCRIPTION:Agenda`)

	ev, err := newTestNormalizer(t).Normalize(comp)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Title != DefaultTitle {
		t.Errorf("Expected title %q, got %q", DefaultTitle, ev.Title)
	}
	want := "Agenda\n\nSynced from external calendar on 2025-03-01 09:30:00"
	if ev.Description != want {
		t.Errorf("Expected description %q, got %q", want, ev.Description)
	}
	if StripProvenance(ev.Description) != "Agenda" {
		t.Errorf("Expected stripped description Agenda, got %q", StripProvenance(ev.Description))
	}
}

// TestResolveStatus checks the precedence order of status sources.
func TestResolveStatus(t *testing.T) {
	declined := []Attendee{{Address: "a@example.com", Participation: "DECLINED"}}
	accepted := []Attendee{{Address: "a@example.com", Participation: "ACCEPTED"}}

	tests := []struct {
		name      string
		title     string
		status    string
		attendees []Attendee
		want      Status
	}{
		{"title prefix beats tentative", "Canceled: Review", "TENTATIVE", nil, StatusCancelled},
		{"british spelling prefix", "Cancelled: Review", "", accepted, StatusCancelled},
		{"explicit cancelled", "Review", "CANCELLED", nil, StatusCancelled},
		{"tentative beats decline", "Review", "TENTATIVE", declined, StatusTentative},
		{"confirmed status with decline", "Review", "CONFIRMED", declined, StatusCancelled},
		{"decline only", "Review", "", declined, StatusCancelled},
		{"accepted only", "Review", "", accepted, StatusConfirmed},
		{"nothing", "Review", "", nil, StatusConfirmed},
		{"prefix must lead", "Re: Canceled: Review", "", nil, StatusConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveStatus(tt.title, tt.status, tt.attendees); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestParseAttendees_Malformed verifies malformed participation values are not treated as declines.
func TestParseAttendees_Malformed(t *testing.T) {
	comp := parseVEvent(t, `
UID:u2
DTSTAMP:20250301T000000Z
DTSTART:20250303T100000Z
ATTENDEE;CN=Ann:mailto:ann@example.com
ATTENDEE;PARTSTAT=DECL INED:mailto:bob@example.com
ATTENDEE;PARTSTAT=declined:mailto:cy@example.com`)

	attendees := ParseAttendees(comp.Props.Values(ical.PropAttendee))
	if len(attendees) != 3 {
		t.Fatalf("Expected 3 attendees, got %d", len(attendees))
	}
	if attendees[0].Participation != "" || attendees[0].Declined() {
		t.Errorf("Expected no participation for ann, got %q", attendees[0].Participation)
	}
	if attendees[0].Address != "ann@example.com" || attendees[0].CommonName != "Ann" {
		t.Errorf("Unexpected first attendee: %+v", attendees[0])
	}
	if attendees[1].Declined() {
		t.Error("Expected malformed PARTSTAT to not count as declined")
	}
	if !attendees[2].Declined() {
		t.Error("Expected lower-case declined to be recognized")
	}
}

// TestNormalize_Times covers zone handling for start and end values.
func TestNormalize_Times(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		wantDT   string
		wantZone string
		floating bool
	}{
		{"utc", "DTSTART:20250303T100000Z", "2025-03-03T10:00:00Z", "UTC", false},
		{"iana zone", "DTSTART;TZID=Europe/Berlin:20250303T100000", "2025-03-03T10:00:00+01:00", "Europe/Berlin", false},
		{"windows zone", `DTSTART;TZID="W. Europe Standard Time":20250303T100000`, "2025-03-03T10:00:00+01:00", "Europe/Berlin", false},
		{"floating", "DTSTART:20250303T100000", "2025-03-03T10:00:00Z", "UTC", true},
		{"unknown zone", "DTSTART;TZID=Mars/Olympus:20250303T100000", "2025-03-03T10:00:00Z", "UTC", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := parseVEvent(t, "UID:t1\nDTSTAMP:20250301T000000Z\n"+tt.start)
			ev, err := newTestNormalizer(t).Normalize(comp)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if ev.Start.DateTime != tt.wantDT {
				t.Errorf("Expected dateTime %s, got %s", tt.wantDT, ev.Start.DateTime)
			}
			if ev.Start.TimeZone != tt.wantZone {
				t.Errorf("Expected zone %s, got %s", tt.wantZone, ev.Start.TimeZone)
			}
			if ev.Start.Floating != tt.floating {
				t.Errorf("Expected floating=%v, got %v", tt.floating, ev.Start.Floating)
			}
			if ev.End != ev.Start {
				t.Errorf("Expected end to default to start, got %+v", ev.End)
			}
		})
	}
}

// TestNormalize_RecurrenceAndException checks rule serialization and RECURRENCE-ID handling.
func TestNormalize_RecurrenceAndException(t *testing.T) {
	n := newTestNormalizer(t)

	master, err := n.Normalize(parseVEvent(t, `
UID:series
DTSTAMP:20250301T000000Z
DTSTART:20250303T100000Z
DTEND:20250303T103000Z
RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=4`))
	if err != nil {
		t.Fatalf("Normalize master failed: %v", err)
	}
	if master.RecurrenceRule != "RRULE:FREQ=WEEKLY;COUNT=4;BYDAY=MO" {
		t.Errorf("Unexpected rule %q", master.RecurrenceRule)
	}
	if master.IsException() {
		t.Error("Expected master not to be an exception")
	}

	exc, err := n.Normalize(parseVEvent(t, `
UID:series
DTSTAMP:20250301T000000Z
RECURRENCE-ID:20250310T100000Z
DTSTART:20250310T120000Z
DTEND:20250310T123000Z
SUMMARY:Moved`))
	if err != nil {
		t.Fatalf("Normalize exception failed: %v", err)
	}
	if !exc.IsException() || exc.IsRecurring() {
		t.Fatalf("Expected non-recurring exception, got %+v", exc)
	}
	if exc.RecurrenceExceptionOf.Key() != "20250310T100000Z" {
		t.Errorf("Expected exception key 20250310T100000Z, got %s", exc.RecurrenceExceptionOf.Key())
	}
}

// TestSerializeRule covers structured and manual serialization.
func TestSerializeRule(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"FREQ=DAILY", "RRULE:FREQ=DAILY", false},
		{"RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,TH", "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,TH", false},
		{"FREQ=WEEKLY;BYDAY=MO;UNTIL=20250401T000000Z", "RRULE:FREQ=WEEKLY;UNTIL=20250401T000000Z;BYDAY=MO", false},
		// A date-only UNTIL stays a date.
		{"FREQ=WEEKLY;UNTIL=20250331;BYDAY=MO", "RRULE:FREQ=WEEKLY;UNTIL=20250331;BYDAY=MO", false},
		{"COUNT=5;INTERVAL=1;FREQ=DAILY", "RRULE:FREQ=DAILY;INTERVAL=1;COUNT=5", false},
		// X- parts are unknown to the structured parser.
		{"FREQ=WEEKLY;BYDAY=MO;INTERVAL=1;X-NAME=foo", "RRULE:FREQ=WEEKLY;BYDAY=MO", false},
		{"FREQ=MONTHLY;INTERVAL=3;UNTIL=20251231;X-A=b", "RRULE:FREQ=MONTHLY;INTERVAL=3;UNTIL=20251231", false},
		{"BYDAY=MO;X-A=b", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := SerializeRule(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SerializeRule(%q): expected error, got %q", tt.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SerializeRule(%q) failed: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SerializeRule(%q): expected %q, got %q", tt.raw, tt.want, got)
		}
	}
}

func TestTimeSpec_Day(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	late := TimeSpec{DateTime: "2025-03-09T23:30:00Z", TimeZone: "UTC"}
	if got := late.Day(time.UTC); got != "2025-03-09" {
		t.Errorf("Expected 2025-03-09 in UTC, got %s", got)
	}
	if got := late.Day(berlin); got != "2025-03-10" {
		t.Errorf("Expected 2025-03-10 in Berlin, got %s", got)
	}
	if got := (TimeSpec{Date: "2025-03-10"}).Day(berlin); got != "2025-03-10" {
		t.Errorf("Expected all-day date unchanged, got %s", got)
	}
}

// TestTimeSpec_Equal compares specs by instant rather than spelling.
func TestTimeSpec_Equal(t *testing.T) {
	a := TimeSpec{DateTime: "2025-03-03T10:00:00+01:00", TimeZone: "Europe/Berlin"}
	b := TimeSpec{DateTime: "2025-03-03T09:00:00Z", TimeZone: "UTC"}
	if !a.Equal(b) {
		t.Error("Expected equal instants to compare equal")
	}
	if a.Equal(TimeSpec{Date: "2025-03-03"}) {
		t.Error("Expected all-day and timed specs to differ")
	}
	if !(TimeSpec{Date: "2025-03-03"}).Equal(TimeSpec{Date: "2025-03-03"}) {
		t.Error("Expected identical dates to compare equal")
	}
}

// TestStripProvenance leaves source text that merely mentions the marker.
func TestStripProvenance(t *testing.T) {
	if got := StripProvenance("Notes\n\nSynced from external calendar on 2025-01-01 00:00:00"); got != "Notes" {
		t.Errorf("Expected Notes, got %q", got)
	}
	if got := StripProvenance("Synced from external calendar on 2025-01-01 00:00:00"); got != "" {
		t.Errorf("Expected empty, got %q", got)
	}
	src := "Synced from external calendar on Monday\nsecond line"
	if got := StripProvenance(src); got != src {
		t.Errorf("Expected unchanged text, got %q", got)
	}
}
