package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/beekhof/icalsync/internal/config"
)

// ScheduleFor returns the pass schedule of a feed: its cron expression when
// set, otherwise a fixed sync interval.
func ScheduleFor(f config.Feed) (cron.Schedule, error) {
	if f.Schedule != "" {
		schedule, err := cron.ParseStandard(f.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule for feed %s: %w", f.Name, err)
		}
		return schedule, nil
	}
	interval := f.SyncInterval
	if interval <= 0 {
		interval = config.DefaultSyncInterval
	}
	return cron.Every(interval), nil
}

// sleepUntil blocks until t or until ctx is done, reporting whether t was reached.
func sleepUntil(ctx context.Context, t time.Time, now func() time.Time) bool {
	return sleep(ctx, t.Sub(now()))
}

// sleep blocks for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
