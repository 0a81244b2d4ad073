package reconcile

import (
	"slices"
	"time"

	"google.golang.org/api/calendar/v3"

	gcal "github.com/beekhof/icalsync/internal/calendar"
	"github.com/beekhof/icalsync/internal/event"
)

// unitKey is the external ID a canonical event is stored under. A
// standalone exception is keyed by its UID and the overridden occurrence.
func unitKey(ev *event.Canonical) string {
	if ev.IsException() {
		return ev.ExternalID + "@" + ev.RecurrenceExceptionOf.Key()
	}
	return ev.ExternalID
}

// buildBody converts a canonical event into a destination event body
// carrying the join key in its private extended properties.
func (r *Reconciler) buildBody(ev *event.Canonical, key string) *calendar.Event {
	sourceStatus := ev.SourceStatus
	if sourceStatus == "" {
		sourceStatus = "none"
	}
	private := map[string]string{
		gcal.PropExternalCalendarID: r.feedID,
		gcal.PropExternalEventID:    key,
		gcal.PropIsRecurring:        boolString(ev.IsRecurring()),
		gcal.PropSourceStatus:       sourceStatus,
	}
	if ev.IsException() {
		private[gcal.PropRecurrenceException] = "true"
		private[gcal.PropRecurrenceExceptionDate] = ev.RecurrenceExceptionOf.Key()
	}

	body := &calendar.Event{
		Summary:     ev.Title,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       toEventDateTime(ev.Start),
		End:         toEventDateTime(ev.End),
		Status:      string(ev.Status),
		ICalUID:     key,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: private,
		},
	}
	if ev.IsRecurring() {
		body.Recurrence = []string{ev.RecurrenceRule}
	}

	// All-day ends are exclusive at the destination and must follow the start.
	if ev.Start.IsAllDay() && body.End.Date <= body.Start.Date {
		if d, err := time.Parse("2006-01-02", body.Start.Date); err == nil {
			body.End = &calendar.EventDateTime{Date: d.AddDate(0, 0, 1).Format("2006-01-02")}
		}
	}
	return body
}

// buildOverrideBody builds the body written onto one instance of a master.
func (r *Reconciler) buildOverrideBody(ev *event.Canonical) *calendar.Event {
	body := r.buildBody(ev, ev.ExternalID)
	body.ICalUID = ""
	body.Recurrence = nil
	return body
}

func toEventDateTime(ts event.TimeSpec) *calendar.EventDateTime {
	if ts.IsAllDay() {
		return &calendar.EventDateTime{Date: ts.Date}
	}
	tz := ts.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return &calendar.EventDateTime{DateTime: ts.DateTime, TimeZone: tz}
}

// ensureTimeZone gives every date-time field an explicit zone.
func ensureTimeZone(body *calendar.Event) {
	for _, dt := range []*calendar.EventDateTime{body.Start, body.End} {
		if dt != nil && dt.DateTime != "" && dt.TimeZone == "" {
			dt.TimeZone = "UTC"
		}
	}
}

// eventsEqual reports whether the synced fields of an existing destination
// event already match the desired body. The provenance line is ignored.
func eventsEqual(existing, want *calendar.Event) bool {
	if existing.Summary != want.Summary || existing.Location != want.Location {
		return false
	}
	if event.StripProvenance(existing.Description) != event.StripProvenance(want.Description) {
		return false
	}
	if !toTimeSpec(existing.Start).Equal(toTimeSpec(want.Start)) || !toTimeSpec(existing.End).Equal(toTimeSpec(want.End)) {
		return false
	}
	if normalizeStatus(existing.Status) != normalizeStatus(want.Status) {
		return false
	}
	return slices.Equal(existing.Recurrence, want.Recurrence)
}

func normalizeStatus(s string) string {
	if s == "" {
		return gcal.StatusConfirmed
	}
	return s
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
