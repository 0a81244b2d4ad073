package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const pageSize = 250

// Google is a wrapper around the Google Calendar API service. Every call
// waits on a shared rate limiter first.
type Google struct {
	service *calendar.Service
	limiter *rate.Limiter
}

// NewGoogle creates a Google Calendar client using the provided HTTP client.
// Extra options are appended, which lets tests point the service at a fake endpoint.
func NewGoogle(ctx context.Context, httpClient *http.Client, limiter *rate.Limiter, opts ...option.ClientOption) (*Google, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Google{service: service, limiter: limiter}, nil
}

func (g *Google) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// ListCalendars returns every calendar on the user's calendar list.
func (g *Google) ListCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	var out []*calendar.CalendarListEntry
	pageToken := ""
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		call := g.service.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list calendars: %w", err)
		}
		out = append(out, list.Items...)
		if list.NextPageToken == "" {
			return out, nil
		}
		pageToken = list.NextPageToken
	}
}

// CreateCalendar creates a secondary calendar and returns its ID.
func (g *Google) CreateCalendar(ctx context.Context, summary, timeZone string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	created, err := g.service.Calendars.Insert(&calendar.Calendar{
		Summary:     summary,
		Description: "Synced calendar from external iCal feed",
		TimeZone:    timeZone,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar: %w", err)
	}
	return created.Id, nil
}

// ListEvents retrieves all pages of events matching the query, including cancelled ones.
func (g *Google) ListEvents(ctx context.Context, calendarID string, q EventQuery) ([]*calendar.Event, error) {
	var out []*calendar.Event
	pageToken := ""
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		call := g.service.Events.List(calendarID).
			Context(ctx).
			ShowDeleted(true). // cancelled instances are part of the state we reconcile
			SingleEvents(q.SingleEvents).
			MaxResults(pageSize)
		if !q.TimeMin.IsZero() {
			call = call.TimeMin(q.TimeMin.Format(time.RFC3339))
		}
		if !q.TimeMax.IsZero() {
			call = call.TimeMax(q.TimeMax.Format(time.RFC3339))
		}
		if q.OrderBy != "" {
			call = call.OrderBy(q.OrderBy)
		}
		if len(q.Private) > 0 {
			call = call.PrivateExtendedProperty(privateFilters(q.Private)...)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		out = append(out, list.Items...)
		if list.NextPageToken == "" {
			return out, nil
		}
		pageToken = list.NextPageToken
	}
}

// ListEventsByExternalID finds the unexpanded events carrying the given
// feed and external event ID, regardless of time.
func (g *Google) ListEventsByExternalID(ctx context.Context, calendarID, feedID, externalID string) ([]*calendar.Event, error) {
	return g.ListEvents(ctx, calendarID, EventQuery{
		Private: map[string]string{
			PropExternalCalendarID: feedID,
			PropExternalEventID:    externalID,
		},
	})
}

// ListInstances lists the occurrences of a recurring event. Zero times leave that bound open.
func (g *Google) ListInstances(ctx context.Context, calendarID, eventID string, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	var out []*calendar.Event
	pageToken := ""
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		call := g.service.Events.Instances(calendarID, eventID).
			Context(ctx).
			ShowDeleted(true).
			MaxResults(pageSize)
		if !timeMin.IsZero() {
			call = call.TimeMin(timeMin.Format(time.RFC3339))
		}
		if !timeMax.IsZero() {
			call = call.TimeMax(timeMax.Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list instances of %s: %w", eventID, wrapNotFound(err))
		}
		out = append(out, list.Items...)
		if list.NextPageToken == "" {
			return out, nil
		}
		pageToken = list.NextPageToken
	}
}

// GetEvent retrieves a single event by ID.
func (g *Google) GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	event, err := g.service.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, wrapNotFound(err))
	}
	return event, nil
}

// InsertEvent inserts a new event without notifying attendees.
func (g *Google) InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	created, err := g.service.Events.Insert(calendarID, event).
		Context(ctx).
		SendUpdates("none").
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return created, nil
}

// ImportEvent imports an event keyed by its iCalUID.
func (g *Google) ImportEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	imported, err := g.service.Events.Import(calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to import event: %w", err)
	}
	return imported, nil
}

// UpdateEvent replaces an existing event.
func (g *Google) UpdateEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	updated, err := g.service.Events.Update(calendarID, eventID, event).
		Context(ctx).
		SendUpdates("none").
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update event %s: %w", eventID, wrapNotFound(err))
	}
	return updated, nil
}

// PatchEventStatus sets only the status of an event or instance.
func (g *Google) PatchEventStatus(ctx context.Context, calendarID, eventID, status string) (*calendar.Event, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	patched, err := g.service.Events.Patch(calendarID, eventID, &calendar.Event{Status: status}).
		Context(ctx).
		SendUpdates("none").
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to patch status of %s: %w", eventID, wrapNotFound(err))
	}
	return patched, nil
}

// DeleteEvent deletes an event. Deleting an event that is already gone succeeds.
func (g *Google) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	err := g.service.Events.Delete(calendarID, eventID).
		Context(ctx).
		SendUpdates("none").
		Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	return nil
}

func privateFilters(props map[string]string) []string {
	filters := make([]string, 0, len(props))
	for k, v := range props {
		filters = append(filters, k+"="+v)
	}
	sort.Strings(filters)
	return filters
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}

func wrapNotFound(err error) error {
	if isGone(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
