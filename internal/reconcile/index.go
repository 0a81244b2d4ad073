package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"google.golang.org/api/calendar/v3"

	gcal "github.com/beekhof/icalsync/internal/calendar"
	"github.com/beekhof/icalsync/internal/event"
)

// Window is the time range the destination index covers.
type Window struct {
	Min time.Time
	Max time.Time
}

// NewWindow returns the window from daysBack days before now to daysForward days after it.
func NewWindow(now time.Time, daysBack, daysForward int) Window {
	return Window{
		Min: now.AddDate(0, 0, -daysBack),
		Max: now.AddDate(0, 0, daysForward),
	}
}

// Instance is one occurrence of a recurring destination master.
type Instance struct {
	ID            string
	OriginalStart event.TimeSpec
	Status        string
	Event         *calendar.Event
}

// DestinationEvent wraps a destination event this system created.
type DestinationEvent struct {
	ID                string
	ExternalID        string
	IsRecurringMaster bool
	Instances         []Instance
	Event             *calendar.Event

	// Duplicates are further live events carrying the same external ID.
	Duplicates []*DestinationEvent
}

func (d *DestinationEvent) cancelled() bool {
	return d.Event.Status == gcal.StatusCancelled
}

// Index maps external IDs to the destination events owned by one feed.
type Index map[string]*DestinationEvent

// Keys returns the indexed external IDs in sorted order.
func (idx Index) Keys() []string {
	keys := make([]string, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// add records dest under its external ID. The first live event wins; later
// live events become its duplicates and cancelled ones are dropped.
func (idx Index) add(dest *DestinationEvent) {
	current, ok := idx[dest.ExternalID]
	switch {
	case !ok:
		idx[dest.ExternalID] = dest
	case current.cancelled() && !dest.cancelled():
		dest.Duplicates = current.Duplicates
		idx[dest.ExternalID] = dest
	case !dest.cancelled():
		current.Duplicates = append(current.Duplicates, dest)
	}
}

func newDestinationEvent(ev *calendar.Event) *DestinationEvent {
	return &DestinationEvent{
		ID:                ev.Id,
		ExternalID:        gcal.PrivateProp(ev, gcal.PropExternalEventID),
		IsRecurringMaster: len(ev.Recurrence) > 0,
		Event:             ev,
	}
}

func newInstance(ev *calendar.Event) Instance {
	inst := Instance{ID: ev.Id, Status: ev.Status, Event: ev}
	if ev.OriginalStartTime != nil {
		inst.OriginalStart = toTimeSpec(ev.OriginalStartTime)
	} else {
		inst.OriginalStart = toTimeSpec(ev.Start)
	}
	return inst
}

// BuildIndex lists the feed's events inside the window twice: unexpanded for
// masters and single events, expanded for the per-occurrence state of each
// recurring master. Events without the feed's ownership marker never appear.
func BuildIndex(ctx context.Context, client gcal.Client, calendarID, feedID string, window Window) (Index, error) {
	owner := map[string]string{gcal.PropExternalCalendarID: feedID}

	masters, err := client.ListEvents(ctx, calendarID, gcal.EventQuery{
		TimeMin: window.Min,
		TimeMax: window.Max,
		OrderBy: "updated",
		Private: owner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list destination events: %w", err)
	}

	idx := make(Index)
	for _, ev := range masters {
		if ev.RecurringEventId != "" {
			continue
		}
		dest := newDestinationEvent(ev)
		if dest.ExternalID == "" {
			continue
		}
		idx.add(dest)
	}
	byID := make(map[string]*DestinationEvent, len(idx))
	for _, dest := range idx {
		byID[dest.ID] = dest
	}

	expanded, err := client.ListEvents(ctx, calendarID, gcal.EventQuery{
		TimeMin:      window.Min,
		TimeMax:      window.Max,
		SingleEvents: true,
		OrderBy:      "startTime",
		Private:      owner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list destination instances: %w", err)
	}
	for _, ev := range expanded {
		if ev.RecurringEventId == "" {
			continue
		}
		if master, ok := byID[ev.RecurringEventId]; ok && master.IsRecurringMaster {
			master.Instances = append(master.Instances, newInstance(ev))
		}
	}

	return idx, nil
}

// FindByExternalID resolves one master or single event by its external ID
// without a time bound. Recurring masters come back with their full,
// unwindowed instance list. It returns nil when nothing matches.
func FindByExternalID(ctx context.Context, client gcal.Client, calendarID, feedID, externalID string) (*DestinationEvent, error) {
	events, err := client.ListEventsByExternalID(ctx, calendarID, feedID, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", externalID, err)
	}

	found := make(Index)
	for _, ev := range events {
		if ev.RecurringEventId == "" {
			dest := newDestinationEvent(ev)
			dest.ExternalID = externalID
			found.add(dest)
		}
	}
	dest := found[externalID]
	if dest == nil || !dest.IsRecurringMaster {
		return dest, nil
	}

	instances, err := client.ListInstances(ctx, calendarID, dest.ID, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %s: %w", externalID, err)
	}
	for _, ev := range instances {
		dest.Instances = append(dest.Instances, newInstance(ev))
	}
	return dest, nil
}

func toTimeSpec(dt *calendar.EventDateTime) event.TimeSpec {
	if dt == nil {
		return event.TimeSpec{}
	}
	if dt.Date != "" {
		return event.TimeSpec{Date: dt.Date}
	}
	return event.TimeSpec{DateTime: dt.DateTime, TimeZone: dt.TimeZone}
}
