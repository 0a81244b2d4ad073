// Package sync drives reconciliation passes for configured feeds: one pass
// at a time per feed, repeated on a schedule, supervised across feeds.
package sync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	gcal "github.com/beekhof/icalsync/internal/calendar"
	"github.com/beekhof/icalsync/internal/config"
	"github.com/beekhof/icalsync/internal/event"
	"github.com/beekhof/icalsync/internal/feed"
	"github.com/beekhof/icalsync/internal/reconcile"
)

// PassResult describes one completed pass.
type PassResult struct {
	ID       string
	Events   int
	Plan     *reconcile.Plan
	Stats    reconcile.Stats
	Duration time.Duration
}

// Instance mirrors one feed into one destination calendar.
type Instance struct {
	feed       config.Feed
	client     gcal.Client
	fetcher    *feed.Fetcher
	normalizer *event.Normalizer
	schedule   cron.Schedule
	log        *zap.SugaredLogger
	now        func() time.Time

	calendarID string
}

// NewInstance creates the worker for one feed. httpClient is used for feed
// downloads only; the destination client carries its own credentials.
func NewInstance(f config.Feed, client gcal.Client, httpClient *http.Client, log *zap.SugaredLogger) (*Instance, error) {
	schedule, err := ScheduleFor(f)
	if err != nil {
		return nil, err
	}
	log = log.With("feed", f.Name)
	return &Instance{
		feed:       f,
		client:     client,
		fetcher:    feed.NewFetcher(httpClient, log),
		normalizer: event.NewNormalizer(log),
		schedule:   schedule,
		log:        log,
		now:        time.Now,
	}, nil
}

// Name returns the configured feed name.
func (in *Instance) Name() string {
	return in.feed.Name
}

// CalendarID returns the provisioned destination calendar, or "" before Provision.
func (in *Instance) CalendarID() string {
	return in.calendarID
}

// Provision resolves the destination calendar by display name, creating it
// if needed. Later calls return immediately.
func (in *Instance) Provision(ctx context.Context) error {
	if in.calendarID != "" {
		return nil
	}
	id, created, err := gcal.FindOrCreateCalendar(ctx, in.client, in.feed.CalendarName, in.feed.TimeZone)
	if err != nil {
		return fmt.Errorf("failed to provision calendar for feed %s: %w", in.feed.Name, err)
	}
	if created {
		in.log.Infow("Created destination calendar", "calendar", in.feed.CalendarName, "id", id, "timeZone", in.feed.TimeZone)
	} else {
		in.log.Debugw("Using existing destination calendar", "calendar", in.feed.CalendarName, "id", id)
	}
	in.calendarID = id
	return nil
}

// RunOnce performs one fetch, normalize, reconcile and apply cycle.
// Failing to fetch the feed or to list the destination aborts the pass;
// individual write failures are counted in the result instead.
// Once started, a pass ignores cancellation of ctx and runs to the end.
func (in *Instance) RunOnce(ctx context.Context) (*PassResult, error) {
	if err := in.Provision(ctx); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	started := in.now()
	result := &PassResult{ID: uuid.NewString()}
	log := in.log.With("pass", result.ID)
	log.Debugw("Starting pass", "url", feed.RedactURL(in.feed.URL))

	data, err := in.fetcher.Fetch(ctx, in.feed.URL)
	if err != nil {
		return nil, err
	}
	comps, err := feed.Parse(data)
	if err != nil {
		return nil, err
	}
	events := in.normalizer.NormalizeAll(comps)
	result.Events = len(events)

	window := reconcile.NewWindow(started, in.feed.DaysBack, in.feed.DaysForward)
	idx, err := reconcile.BuildIndex(ctx, in.client, in.calendarID, in.feed.URL, window)
	if err != nil {
		return nil, fmt.Errorf("failed to index destination calendar: %w", err)
	}

	r := reconcile.New(in.client, in.calendarID, in.feed.URL, log)
	result.Plan = r.Reconcile(ctx, events, idx)
	log.Infow("Planned changes", "events", len(events), "tracked", len(idx), "plan", result.Plan.Summary())

	result.Stats = r.Apply(ctx, result.Plan)
	result.Duration = in.now().Sub(started)

	log.Infow("Pass complete",
		"created", result.Stats.Created,
		"updated", result.Stats.Updated,
		"deleted", result.Stats.Deleted,
		"reapplied", result.Stats.Reapplied,
		"overridden", result.Stats.Overridden,
		"failed", result.Stats.Failed,
		"mismatched", result.Stats.Mismatched,
		"duration", result.Duration,
	)
	return result, nil
}

// Run provisions the calendar and then runs passes on the feed's schedule
// until ctx is cancelled. A failed pass is logged and retried at the next
// scheduled time. Only provisioning failures are returned.
func (in *Instance) Run(ctx context.Context) error {
	if err := in.Provision(ctx); err != nil {
		return err
	}

	for {
		if _, err := in.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.log.Errorw("Pass failed", "error", err)
		}

		next := in.schedule.Next(in.now())
		in.log.Debugw("Waiting for next pass", "next", next)
		if !sleepUntil(ctx, next, in.now) {
			return nil
		}
	}
}
