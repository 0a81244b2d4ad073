// Package reconcile maps canonical source events onto the destination
// calendar: it indexes what a feed previously synced, plans the creates,
// updates and deletes that bring the destination in line, and applies them
// while keeping occurrences a person declined in recurring series declined.
package reconcile

import (
	"context"

	"go.uber.org/zap"

	gcal "github.com/beekhof/icalsync/internal/calendar"
	"github.com/beekhof/icalsync/internal/event"
)

// Reconciler plans and applies the changes for one feed and one destination calendar.
type Reconciler struct {
	client     gcal.Client
	calendarID string
	feedID     string
	log        *zap.SugaredLogger
}

// New creates a Reconciler. feedID is the value stored in every synced
// event's externalCalendarId property.
func New(client gcal.Client, calendarID, feedID string, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{
		client:     client,
		calendarID: calendarID,
		feedID:     feedID,
		log:        log,
	}
}

// unit is one series or single event, with its exceptions attached.
type unit struct {
	key       string
	ev        *event.Canonical
	overrides []*event.Canonical
}

// groupUnits attaches exception components to the series with the same UID.
// Exceptions whose series is not in the feed become standalone units.
func (r *Reconciler) groupUnits(events []*event.Canonical) []*unit {
	var units []*unit
	byKey := make(map[string]*unit)
	var exceptions []*event.Canonical

	for _, ev := range events {
		if ev.IsException() {
			exceptions = append(exceptions, ev)
			continue
		}
		if _, dup := byKey[ev.ExternalID]; dup {
			r.log.Warnw("Duplicate UID in feed, keeping first", "uid", ev.ExternalID, "title", ev.Title)
			continue
		}
		u := &unit{key: ev.ExternalID, ev: ev}
		byKey[u.key] = u
		units = append(units, u)
	}

	for _, ex := range exceptions {
		if parent, ok := byKey[ex.ExternalID]; ok && parent.ev.IsRecurring() {
			parent.overrides = append(parent.overrides, ex)
			continue
		}
		key := unitKey(ex)
		if _, dup := byKey[key]; dup {
			continue
		}
		u := &unit{key: key, ev: ex}
		byKey[key] = u
		units = append(units, u)
	}
	return units
}

// Reconcile computes the plan that brings the destination in line with the
// canonical events. Events already matching the destination produce no
// action. Indexed events whose external ID is absent from the source are
// deleted unless already cancelled; the seen set covers the whole feed, not
// just the index window. Extra copies of one external ID are deleted too.
func (r *Reconciler) Reconcile(ctx context.Context, events []*event.Canonical, idx Index) *Plan {
	plan := &Plan{}
	seen := make(map[string]bool)

	for _, u := range r.groupUnits(events) {
		seen[u.key] = true
		body := r.buildBody(u.ev, u.key)

		existing, ok := idx[u.key]
		if !ok {
			found, err := FindByExternalID(ctx, r.client, r.calendarID, r.feedID, u.key)
			if err != nil {
				r.log.Errorw("Failed to look up event, skipping this pass", "uid", u.key, "title", u.ev.Title, "error", err)
				continue
			}
			existing = found
			if found != nil {
				r.planDuplicates(plan, u.key, found)
			}
		}

		if existing == nil {
			kind := KindCreate
			if u.ev.IsRecurring() {
				kind = KindRecurringCreate
			}
			plan.add(Action{Kind: kind, ExternalID: u.key, Title: u.ev.Title, Event: u.ev, Body: body, Overrides: u.overrides})
			continue
		}

		if existing.IsRecurringMaster != u.ev.IsRecurring() {
			// A single event cannot be turned into a series in place, nor back.
			r.log.Infow("Event changed between single and recurring, recreating", "uid", u.key, "title", u.ev.Title)
			plan.add(Action{Kind: KindDelete, ExternalID: u.key, ExistingID: existing.ID, Title: existing.Event.Summary})
			kind := KindCreate
			if u.ev.IsRecurring() {
				kind = KindRecurringCreate
			}
			plan.add(Action{Kind: kind, ExternalID: u.key, Title: u.ev.Title, Event: u.ev, Body: body, Overrides: u.overrides})
			continue
		}

		if eventsEqual(existing.Event, body) {
			if u.ev.IsRecurring() {
				r.planOverrides(plan, u, existing)
			}
			continue
		}

		kind := KindUpdate
		if u.ev.IsRecurring() {
			kind = KindRecurringUpdate
		}
		r.log.Debugw("Event changed", "uid", u.key, "title", u.ev.Title)
		plan.add(Action{Kind: kind, ExternalID: u.key, ExistingID: existing.ID, Title: u.ev.Title, Event: u.ev, Body: body, Overrides: u.overrides})
	}

	for _, key := range idx.Keys() {
		if seen[key] {
			continue
		}
		existing := idx[key]
		if existing.cancelled() {
			continue
		}
		plan.add(Action{Kind: KindDelete, ExternalID: key, ExistingID: existing.ID, Title: existing.Event.Summary})
	}

	for _, key := range idx.Keys() {
		r.planDuplicates(plan, key, idx[key])
	}

	return plan
}

// planDuplicates deletes every copy of an external ID except the one kept.
func (r *Reconciler) planDuplicates(plan *Plan, key string, kept *DestinationEvent) {
	for _, dup := range kept.Duplicates {
		r.log.Warnw("Duplicate destination event, removing it", "uid", key, "id", dup.ID, "kept", kept.ID)
		plan.add(Action{Kind: KindDelete, ExternalID: key, ExistingID: dup.ID, Title: dup.Event.Summary})
	}
}

// planOverrides emits override actions for the exceptions of an unchanged
// master whose indexed instance does not yet reflect them. Instances a
// person cancelled are left alone.
func (r *Reconciler) planOverrides(plan *Plan, u *unit, existing *DestinationEvent) {
	byKey := make(map[string]Instance, len(existing.Instances))
	for _, inst := range existing.Instances {
		byKey[inst.OriginalStart.Key()] = inst
	}
	for _, ov := range u.overrides {
		inst, ok := byKey[ov.RecurrenceExceptionOf.Key()]
		if !ok || inst.Status == gcal.StatusCancelled {
			continue
		}
		body := r.buildOverrideBody(ov)
		if eventsEqual(inst.Event, body) {
			continue
		}
		plan.add(Action{
			Kind:          KindOverride,
			ExternalID:    u.key,
			ExistingID:    inst.ID,
			Title:         ov.Title,
			Event:         ov,
			Body:          body,
			OriginalStart: *ov.RecurrenceExceptionOf,
		})
	}
}
