package reconcile

import (
	"context"
	"sort"
	"time"

	gcal "github.com/beekhof/icalsync/internal/calendar"
)

// recurringCreate inserts a new series master. The insert carries no
// iCalUID; the join key lives only in the extended properties.
func (r *Reconciler) recurringCreate(ctx context.Context, a Action, stats *Stats) {
	body := *a.Body
	body.ICalUID = ""
	ensureTimeZone(&body)

	created, err := r.client.InsertEvent(ctx, r.calendarID, &body)
	if err != nil {
		r.fail(stats, a, err)
		return
	}
	r.log.Infow("Created recurring event", "title", a.Title, "uid", a.ExternalID, "rule", body.Recurrence)
	stats.Created++

	if len(a.Overrides) > 0 {
		r.applyOverrides(ctx, created.Id, a, stats)
	}
}

// recurringUpdate runs the preservation state machine for an existing
// series: SNAPSHOT the cancelled occurrences, UPDATE_MASTER (which resets
// every occurrence), apply exceptions, REAPPLY the cancellations, then
// VERIFY. Occurrences are matched by original start, or failing that by
// calendar day in the series' zone. A mismatch found by VERIFY is only
// logged; the next pass snapshots the destination again.
func (r *Reconciler) recurringUpdate(ctx context.Context, a Action, stats *Stats) {
	existing, err := FindByExternalID(ctx, r.client, r.calendarID, r.feedID, a.ExternalID)
	if err != nil {
		r.fail(stats, a, err)
		return
	}
	if existing == nil {
		r.log.Warnw("Recurring event vanished before update, creating it", "title", a.Title, "uid", a.ExternalID)
		r.recurringCreate(ctx, a, stats)
		return
	}

	// SNAPSHOT
	reapply := r.snapshot(a, existing)

	// UPDATE_MASTER
	body := *a.Body
	body.ICalUID = ""
	ensureTimeZone(&body)
	if _, err := r.client.UpdateEvent(ctx, r.calendarID, existing.ID, &body); err != nil {
		r.fail(stats, a, err)
		return
	}
	r.log.Infow("Updated recurring event", "title", a.Title, "uid", a.ExternalID, "preserved", len(reapply))
	stats.Updated++

	if len(a.Overrides) > 0 {
		r.applyOverrides(ctx, existing.ID, a, stats)
	}
	if len(reapply) == 0 {
		return
	}

	// REAPPLY, resolving each occurrence against the regenerated instances.
	loc := seriesZone(&body)
	current, err := r.client.ListInstances(ctx, r.calendarID, existing.ID, time.Time{}, time.Time{})
	if err != nil {
		r.log.Warnw("Failed to list regenerated occurrences, using previous IDs", "uid", a.ExternalID, "error", err)
	}
	regenerated := newOccurrences(current, loc)
	for _, ra := range reapply {
		if err == nil {
			inst, ok := regenerated.find(ra.OriginalStart)
			if !ok {
				r.log.Warnw("Cancelled occurrence is no longer part of the series",
					"title", a.Title, "uid", a.ExternalID, "occurrence", ra.OriginalStart.String())
				continue
			}
			ra.ExistingID = inst.ID
		}
		r.execute(ctx, ra, stats)
	}

	// VERIFY
	r.verify(ctx, existing.ID, a, reapply, loc, stats)
}

// snapshot turns every cancelled occurrence of the existing master into a
// reapply action, ordered by original start.
func (r *Reconciler) snapshot(a Action, existing *DestinationEvent) []Action {
	var reapply []Action
	for _, inst := range existing.Instances {
		if inst.Status != gcal.StatusCancelled {
			continue
		}
		reapply = append(reapply, Action{
			Kind:          KindReapplyDecline,
			ExternalID:    a.ExternalID,
			ExistingID:    inst.ID,
			Title:         a.Title,
			OriginalStart: inst.OriginalStart,
		})
	}
	sort.Slice(reapply, func(i, j int) bool {
		return reapply[i].OriginalStart.Key() < reapply[j].OriginalStart.Key()
	})
	if len(reapply) > 0 {
		r.log.Debugw("Preserving cancelled occurrences", "uid", a.ExternalID, "count", len(reapply))
	}
	return reapply
}

func (r *Reconciler) verify(ctx context.Context, masterID string, a Action, reapply []Action, loc *time.Location, stats *Stats) {
	instances, err := r.client.ListInstances(ctx, r.calendarID, masterID, time.Time{}, time.Time{})
	if err != nil {
		r.log.Warnw("Could not verify preserved occurrences", "title", a.Title, "uid", a.ExternalID, "error", err)
		return
	}
	current := newOccurrences(instances, loc)
	for _, ra := range reapply {
		inst, ok := current.find(ra.OriginalStart)
		if ok && inst.Status == gcal.StatusCancelled {
			continue
		}
		status := "missing"
		if ok {
			status = inst.Status
		}
		r.log.Warnw("Cancelled occurrence not preserved",
			"title", a.Title, "uid", a.ExternalID, "occurrence", ra.OriginalStart.String(), "status", status)
		stats.Mismatched++
	}
}

// applyOverrides writes each exception onto the matching instance of a master.
func (r *Reconciler) applyOverrides(ctx context.Context, masterID string, a Action, stats *Stats) {
	instances, err := r.client.ListInstances(ctx, r.calendarID, masterID, time.Time{}, time.Time{})
	if err != nil {
		r.log.Errorw("Failed to list occurrences for exceptions", "title", a.Title, "uid", a.ExternalID, "error", err)
		stats.Failed += len(a.Overrides)
		return
	}
	current := newOccurrences(instances, seriesZone(a.Body))
	for _, ov := range a.Overrides {
		oa := Action{
			Kind:          KindOverride,
			ExternalID:    a.ExternalID,
			Title:         ov.Title,
			Event:         ov,
			Body:          r.buildOverrideBody(ov),
			OriginalStart: *ov.RecurrenceExceptionOf,
		}
		inst, ok := current.find(*ov.RecurrenceExceptionOf)
		if !ok {
			r.log.Warnw("Exception does not match any occurrence", "title", ov.Title, "uid", a.ExternalID,
				"occurrence", ov.RecurrenceExceptionOf.String())
			continue
		}
		oa.ExistingID = inst.ID
		r.execute(ctx, oa, stats)
	}
}
