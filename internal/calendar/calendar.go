package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
)

// ErrNotFound is returned when an event or calendar does not exist.
var ErrNotFound = errors.New("not found")

// Private extended property keys written on every synced event.
const (
	PropExternalCalendarID      = "externalCalendarId"
	PropExternalEventID         = "externalEventId"
	PropIsRecurring             = "isRecurring"
	PropSourceStatus            = "sourceCalendarStatus"
	PropRecurrenceException     = "recurrenceException"
	PropRecurrenceExceptionDate = "recurrenceExceptionDate"
)

// Event statuses used by the destination.
const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusCancelled = "cancelled"
)

// EventQuery selects events for ListEvents. Zero times leave that bound open.
type EventQuery struct {
	TimeMin time.Time
	TimeMax time.Time
	// SingleEvents expands recurring series into their instances.
	SingleEvents bool
	OrderBy      string
	// Private filters on private extended properties, as key=value pairs.
	Private map[string]string
}

// Client defines the destination calendar operations the sync engine needs.
// All listings include cancelled events.
type Client interface {
	ListCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error)
	CreateCalendar(ctx context.Context, summary, timeZone string) (string, error)
	ListEvents(ctx context.Context, calendarID string, q EventQuery) ([]*calendar.Event, error)
	ListEventsByExternalID(ctx context.Context, calendarID, feedID, externalID string) ([]*calendar.Event, error)
	ListInstances(ctx context.Context, calendarID, eventID string, timeMin, timeMax time.Time) ([]*calendar.Event, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error)
	InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
	ImportEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error)
	PatchEventStatus(ctx context.Context, calendarID, eventID, status string) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// FindOrCreateCalendar returns the ID of the calendar with the given display
// name, creating it in the given time zone when absent.
func FindOrCreateCalendar(ctx context.Context, c Client, name, timeZone string) (string, bool, error) {
	calendars, err := c.ListCalendars(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to list calendars: %w", err)
	}
	for _, cal := range calendars {
		if cal.Summary == name {
			return cal.Id, false, nil
		}
	}

	id, err := c.CreateCalendar(ctx, name, timeZone)
	if err != nil {
		return "", false, fmt.Errorf("failed to create calendar %q: %w", name, err)
	}
	return id, true, nil
}

// PrivateProp reads a private extended property, returning "" when unset.
func PrivateProp(ev *calendar.Event, key string) string {
	if ev == nil || ev.ExtendedProperties == nil || ev.ExtendedProperties.Private == nil {
		return ""
	}
	return ev.ExtendedProperties.Private[key]
}
