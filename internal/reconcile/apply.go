package reconcile

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	gcal "github.com/beekhof/icalsync/internal/calendar"
	"github.com/beekhof/icalsync/internal/event"
)

// Stats counts the outcome of applying a plan.
type Stats struct {
	Created    int
	Updated    int
	Deleted    int
	Reapplied  int
	Overridden int
	Failed     int
	Mismatched int
}

// Add accumulates another Stats into s.
func (s *Stats) Add(o Stats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Deleted += o.Deleted
	s.Reapplied += o.Reapplied
	s.Overridden += o.Overridden
	s.Failed += o.Failed
	s.Mismatched += o.Mismatched
}

// Apply executes the plan in order. A failing action is logged and counted
// but never stops the remaining actions.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) Stats {
	var stats Stats
	for _, a := range plan.Actions {
		r.execute(ctx, a, &stats)
	}
	return stats
}

func (r *Reconciler) execute(ctx context.Context, a Action, stats *Stats) {
	switch a.Kind {
	case KindCreate:
		if err := r.create(ctx, a); err != nil {
			r.fail(stats, a, err)
			return
		}
		stats.Created++

	case KindUpdate:
		if _, err := r.client.UpdateEvent(ctx, r.calendarID, a.ExistingID, a.Body); err != nil {
			r.fail(stats, a, err)
			return
		}
		r.log.Infow("Updated event", "title", a.Title, "uid", a.ExternalID)
		stats.Updated++

	case KindDelete:
		if err := r.client.DeleteEvent(ctx, r.calendarID, a.ExistingID); err != nil {
			r.fail(stats, a, err)
			return
		}
		r.log.Infow("Deleted event", "title", a.Title, "uid", a.ExternalID)
		stats.Deleted++

	case KindRecurringCreate:
		r.recurringCreate(ctx, a, stats)

	case KindRecurringUpdate:
		r.recurringUpdate(ctx, a, stats)

	case KindOverride:
		if err := r.override(ctx, a.ExistingID, a); err != nil {
			r.fail(stats, a, err)
			return
		}
		stats.Overridden++

	case KindReapplyDecline:
		if _, err := r.client.PatchEventStatus(ctx, r.calendarID, a.ExistingID, gcal.StatusCancelled); err != nil {
			r.log.Warnw("Failed to re-decline occurrence",
				"title", a.Title, "uid", a.ExternalID, "occurrence", a.OriginalStart.String(), "error", err)
			stats.Failed++
			return
		}
		stats.Reapplied++

	default:
		r.fail(stats, a, fmt.Errorf("unknown action kind %s", a.Kind))
	}
}

func (r *Reconciler) fail(stats *Stats, a Action, err error) {
	r.log.Errorw("Failed to "+a.Kind.String()+" event", "title", a.Title, "uid", a.ExternalID, "error", err)
	stats.Failed++
}

// create imports a single event, which is idempotent on its UID, and falls
// back to a plain insert without the UID when the import is rejected.
func (r *Reconciler) create(ctx context.Context, a Action) error {
	_, err := r.client.ImportEvent(ctx, r.calendarID, a.Body)
	if err == nil {
		r.log.Infow("Imported event", "title", a.Title, "uid", a.ExternalID, "status", a.Body.Status)
		return nil
	}
	r.log.Warnw("Import rejected, falling back to insert", "title", a.Title, "uid", a.ExternalID, "error", err)

	body := *a.Body
	body.ICalUID = ""
	if _, err := r.client.InsertEvent(ctx, r.calendarID, &body); err != nil {
		return fmt.Errorf("insert after rejected import: %w", err)
	}
	r.log.Infow("Inserted event", "title", a.Title, "uid", a.ExternalID, "status", a.Body.Status)
	return nil
}

// override writes one exception onto a master's instance.
func (r *Reconciler) override(ctx context.Context, instanceID string, a Action) error {
	if a.Body.Status == gcal.StatusCancelled {
		_, err := r.client.PatchEventStatus(ctx, r.calendarID, instanceID, gcal.StatusCancelled)
		return err
	}
	_, err := r.client.UpdateEvent(ctx, r.calendarID, instanceID, a.Body)
	return err
}

// occurrences looks up the instances of one master by original start. An
// exact start wins; otherwise the occurrence on the same calendar day in the
// series' zone matches, so a series moved to another time of day still lines
// up with its previous occurrences.
type occurrences struct {
	loc   *time.Location
	byKey map[string]Instance
	byDay map[string]Instance
}

func newOccurrences(instances []*calendar.Event, loc *time.Location) occurrences {
	o := occurrences{
		loc:   loc,
		byKey: make(map[string]Instance, len(instances)),
		byDay: make(map[string]Instance, len(instances)),
	}
	for _, ev := range instances {
		inst := newInstance(ev)
		o.byKey[inst.OriginalStart.Key()] = inst
		day := inst.OriginalStart.Day(loc)
		if _, taken := o.byDay[day]; !taken {
			o.byDay[day] = inst
		}
	}
	return o
}

func (o occurrences) find(start event.TimeSpec) (Instance, bool) {
	if inst, ok := o.byKey[start.Key()]; ok {
		return inst, true
	}
	inst, ok := o.byDay[start.Day(o.loc)]
	return inst, ok
}

// seriesZone returns the zone a master's occurrences are laid out in.
func seriesZone(body *calendar.Event) *time.Location {
	if body == nil || body.Start == nil || body.Start.TimeZone == "" {
		return time.UTC
	}
	loc, err := event.LoadZone(body.Start.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
