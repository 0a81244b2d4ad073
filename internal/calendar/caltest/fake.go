// Package caltest provides an in-memory destination calendar for tests.
package caltest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	gcal "github.com/beekhof/icalsync/internal/calendar"
)

// Fake mimics the destination behaviour the sync engine depends on:
// recurring masters expand into instances, updating a master resets all
// of its instances, and listings include cancelled events.
type Fake struct {
	mu sync.Mutex

	calendars map[string]string                     // id -> summary
	events    map[string][]*calendar.Event          // calendarID -> masters and single events
	overrides map[string]map[string]*calendar.Event // masterID -> instanceID -> materialized instance
	nextID    int

	// FailWith, when set, is consulted before every write. A non-nil
	// return fails the call. op is one of insert, import, update, patch, delete.
	FailWith func(op string, event *calendar.Event, eventID string) error

	Inserted []*calendar.Event
	Imported []*calendar.Event
	Updated  []*calendar.Event
	Patched  []string
	Deleted  []string
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		calendars: make(map[string]string),
		events:    make(map[string][]*calendar.Event),
		overrides: make(map[string]map[string]*calendar.Event),
	}
}

// Reset clears the recorded calls but keeps the stored events.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inserted, f.Imported, f.Updated, f.Patched, f.Deleted = nil, nil, nil, nil, nil
}

// Writes returns the number of recorded write calls.
func (f *Fake) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Inserted) + len(f.Imported) + len(f.Updated) + len(f.Patched) + len(f.Deleted)
}

// Seed stores an event as-is, assigning an ID when it has none.
func (f *Fake) Seed(calendarID string, ev *calendar.Event) *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := copyEvent(ev)
	if stored.Id == "" {
		stored.Id = f.newID()
	}
	if stored.Status == "" {
		stored.Status = gcal.StatusConfirmed
	}
	f.events[calendarID] = append(f.events[calendarID], stored)
	return copyEvent(stored)
}

// Stored returns copies of the masters and single events of a calendar.
func (f *Fake) Stored(calendarID string) []*calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*calendar.Event, 0, len(f.events[calendarID]))
	for _, ev := range f.events[calendarID] {
		out = append(out, copyEvent(ev))
	}
	return out
}

func (f *Fake) ListCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*calendar.CalendarListEntry
	for id, summary := range f.calendars {
		out = append(out, &calendar.CalendarListEntry{Id: id, Summary: summary})
	}
	return out, nil
}

func (f *Fake) CreateCalendar(ctx context.Context, summary, timeZone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "cal_" + summary
	f.calendars[id] = summary
	return id, nil
}

func (f *Fake) ListEvents(ctx context.Context, calendarID string, q gcal.EventQuery) ([]*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*calendar.Event
	for _, ev := range f.events[calendarID] {
		if !matchesPrivate(ev, q.Private) {
			continue
		}
		if len(ev.Recurrence) == 0 {
			if inWindow(ev, q.TimeMin, q.TimeMax) {
				out = append(out, copyEvent(ev))
			}
			continue
		}
		instances, err := f.instancesLocked(ev)
		if err != nil {
			return nil, err
		}
		var hit []*calendar.Event
		for _, inst := range instances {
			if inWindow(inst, q.TimeMin, q.TimeMax) {
				hit = append(hit, inst)
			}
		}
		if q.SingleEvents {
			out = append(out, hit...)
		} else if len(hit) > 0 || (q.TimeMin.IsZero() && q.TimeMax.IsZero()) {
			out = append(out, copyEvent(ev))
		}
	}
	return out, nil
}

func (f *Fake) ListEventsByExternalID(ctx context.Context, calendarID, feedID, externalID string) ([]*calendar.Event, error) {
	return f.ListEvents(ctx, calendarID, gcal.EventQuery{Private: map[string]string{
		gcal.PropExternalCalendarID: feedID,
		gcal.PropExternalEventID:    externalID,
	}})
}

func (f *Fake) ListInstances(ctx context.Context, calendarID, eventID string, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	master := f.findLocked(calendarID, eventID)
	if master == nil {
		return nil, fmt.Errorf("instances of %s: %w", eventID, gcal.ErrNotFound)
	}
	instances, err := f.instancesLocked(master)
	if err != nil {
		return nil, err
	}
	var out []*calendar.Event
	for _, inst := range instances {
		if inWindow(inst, timeMin, timeMax) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *Fake) GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev := f.findLocked(calendarID, eventID); ev != nil {
		return copyEvent(ev), nil
	}
	if inst := f.instanceLocked(calendarID, eventID); inst != nil {
		return inst, nil
	}
	return nil, fmt.Errorf("event %s: %w", eventID, gcal.ErrNotFound)
}

func (f *Fake) InsertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	if err := f.fail("insert", ev, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := copyEvent(ev)
	stored.Id = f.newID()
	if stored.ICalUID == "" {
		stored.ICalUID = stored.Id + "@fake"
	}
	if stored.Status == "" {
		stored.Status = gcal.StatusConfirmed
	}
	f.events[calendarID] = append(f.events[calendarID], stored)
	f.Inserted = append(f.Inserted, copyEvent(stored))
	return copyEvent(stored), nil
}

func (f *Fake) ImportEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	if err := f.fail("import", ev, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.ICalUID == "" {
		return nil, APIError(http.StatusBadRequest, "missing iCalUID")
	}
	stored := copyEvent(ev)
	if stored.Status == "" {
		stored.Status = gcal.StatusConfirmed
	}
	list := f.events[calendarID]
	for i, existing := range list {
		if existing.ICalUID == ev.ICalUID {
			stored.Id = existing.Id
			list[i] = stored
			f.Imported = append(f.Imported, copyEvent(stored))
			return copyEvent(stored), nil
		}
	}
	stored.Id = f.newID()
	f.events[calendarID] = append(list, stored)
	f.Imported = append(f.Imported, copyEvent(stored))
	return copyEvent(stored), nil
}

func (f *Fake) UpdateEvent(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	if err := f.fail("update", ev, eventID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if masterID, ok := f.instanceMaster(calendarID, eventID); ok {
		inst := f.instanceLocked(calendarID, eventID)
		if inst == nil {
			return nil, fmt.Errorf("event %s: %w", eventID, gcal.ErrNotFound)
		}
		stored := copyEvent(ev)
		stored.Id = inst.Id
		stored.RecurringEventId = masterID
		stored.OriginalStartTime = inst.OriginalStartTime
		stored.Recurrence = nil
		if stored.Status == "" {
			stored.Status = gcal.StatusConfirmed
		}
		f.overrides[masterID][eventID] = stored
		f.Updated = append(f.Updated, copyEvent(stored))
		return copyEvent(stored), nil
	}

	list := f.events[calendarID]
	for i, existing := range list {
		if existing.Id != eventID {
			continue
		}
		stored := copyEvent(ev)
		stored.Id = existing.Id
		if stored.ICalUID == "" {
			stored.ICalUID = existing.ICalUID
		}
		if stored.Status == "" {
			stored.Status = gcal.StatusConfirmed
		}
		list[i] = stored
		// Any write to a master regenerates its instances.
		delete(f.overrides, eventID)
		f.Updated = append(f.Updated, copyEvent(stored))
		return copyEvent(stored), nil
	}
	return nil, fmt.Errorf("event %s: %w", eventID, gcal.ErrNotFound)
}

func (f *Fake) PatchEventStatus(ctx context.Context, calendarID, eventID, status string) (*calendar.Event, error) {
	if err := f.fail("patch", nil, eventID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if ev := f.findLocked(calendarID, eventID); ev != nil {
		ev.Status = status
		f.Patched = append(f.Patched, eventID)
		return copyEvent(ev), nil
	}
	if masterID, ok := f.instanceMaster(calendarID, eventID); ok {
		inst := f.instanceLocked(calendarID, eventID)
		if inst == nil {
			return nil, fmt.Errorf("event %s: %w", eventID, gcal.ErrNotFound)
		}
		inst.Status = status
		f.overrides[masterID][eventID] = inst
		f.Patched = append(f.Patched, eventID)
		return copyEvent(inst), nil
	}
	return nil, fmt.Errorf("event %s: %w", eventID, gcal.ErrNotFound)
}

func (f *Fake) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := f.fail("delete", nil, eventID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.events[calendarID]
	for i, existing := range list {
		if existing.Id == eventID {
			f.events[calendarID] = append(list[:i:i], list[i+1:]...)
			delete(f.overrides, eventID)
			f.Deleted = append(f.Deleted, eventID)
			return nil
		}
	}
	if masterID, ok := f.instanceMaster(calendarID, eventID); ok {
		if inst := f.instanceLocked(calendarID, eventID); inst != nil {
			inst.Status = gcal.StatusCancelled
			f.overrides[masterID][eventID] = inst
		}
	}
	f.Deleted = append(f.Deleted, eventID)
	return nil
}

// Instance returns the current state of one occurrence of a master,
// identified by its original start time.
func (f *Fake) Instance(calendarID, masterID string, originalStart time.Time) (*calendar.Event, error) {
	return f.GetEvent(context.Background(), calendarID, InstanceID(masterID, originalStart, false))
}

// InstanceID builds the ID the fake assigns to an occurrence.
func InstanceID(masterID string, start time.Time, allDay bool) string {
	if allDay {
		return masterID + "_" + start.Format("20060102")
	}
	return masterID + "_" + start.UTC().Format("20060102T150405Z")
}

func (f *Fake) fail(op string, ev *calendar.Event, eventID string) error {
	if f.FailWith == nil {
		return nil
	}
	return f.FailWith(op, ev, eventID)
}

func (f *Fake) newID() string {
	f.nextID++
	return fmt.Sprintf("evt%03d", f.nextID)
}

func (f *Fake) findLocked(calendarID, eventID string) *calendar.Event {
	for _, ev := range f.events[calendarID] {
		if ev.Id == eventID {
			return ev
		}
	}
	return nil
}

func (f *Fake) instanceMaster(calendarID, instanceID string) (string, bool) {
	idx := strings.LastIndex(instanceID, "_")
	if idx < 0 {
		return "", false
	}
	masterID := instanceID[:idx]
	master := f.findLocked(calendarID, masterID)
	if master == nil || len(master.Recurrence) == 0 {
		return "", false
	}
	if f.overrides[masterID] == nil {
		f.overrides[masterID] = make(map[string]*calendar.Event)
	}
	return masterID, true
}

func (f *Fake) instanceLocked(calendarID, instanceID string) *calendar.Event {
	masterID, ok := f.instanceMaster(calendarID, instanceID)
	if !ok {
		return nil
	}
	instances, err := f.instancesLocked(f.findLocked(calendarID, masterID))
	if err != nil {
		return nil
	}
	for _, inst := range instances {
		if inst.Id == instanceID {
			return inst
		}
	}
	return nil
}

// instancesLocked expands a master's rule and applies stored overrides.
func (f *Fake) instancesLocked(master *calendar.Event) ([]*calendar.Event, error) {
	start, allDay, err := parseEventTime(master.Start)
	if err != nil {
		return nil, err
	}
	end, _, err := parseEventTime(master.End)
	if err != nil {
		end = start
	}
	duration := end.Sub(start)

	opt, err := rrule.StrToROption(strings.TrimPrefix(master.Recurrence[0], "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("bad recurrence on %s: %w", master.Id, err)
	}
	opt.Dtstart = start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("bad recurrence on %s: %w", master.Id, err)
	}

	var out []*calendar.Event
	for _, occ := range rule.Between(start, start.AddDate(2, 0, 0), true) {
		id := InstanceID(master.Id, occ, allDay)
		if override, ok := f.overrides[master.Id][id]; ok {
			out = append(out, copyEvent(override))
			continue
		}
		inst := copyEvent(master)
		inst.Id = id
		inst.RecurringEventId = master.Id
		inst.Recurrence = nil
		inst.Status = gcal.StatusConfirmed
		inst.OriginalStartTime = formatEventTime(occ, allDay, master.Start.TimeZone)
		inst.Start = formatEventTime(occ, allDay, master.Start.TimeZone)
		inst.End = formatEventTime(occ.Add(duration), allDay, master.Start.TimeZone)
		out = append(out, inst)
	}
	return out, nil
}

func parseEventTime(dt *calendar.EventDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		return t, true, err
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	return t, false, err
}

func formatEventTime(t time.Time, allDay bool, tz string) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.Format("2006-01-02")}
	}
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
}

func inWindow(ev *calendar.Event, timeMin, timeMax time.Time) bool {
	start, _, err := parseEventTime(ev.Start)
	if err != nil {
		return true
	}
	end, _, err := parseEventTime(ev.End)
	if err != nil || end.Before(start) {
		end = start
	}
	if !timeMax.IsZero() && !start.Before(timeMax) {
		return false
	}
	if !timeMin.IsZero() && end.Before(timeMin) {
		return false
	}
	return true
}

func matchesPrivate(ev *calendar.Event, want map[string]string) bool {
	for k, v := range want {
		if gcal.PrivateProp(ev, k) != v {
			return false
		}
	}
	return true
}

func copyEvent(ev *calendar.Event) *calendar.Event {
	if ev == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	out := &calendar.Event{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

// APIError builds a destination API error, for use in FailWith hooks.
func APIError(code int, msg string) error {
	return &googleapi.Error{Code: code, Message: msg}
}
