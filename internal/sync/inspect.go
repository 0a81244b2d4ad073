package sync

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/beekhof/icalsync/internal/event"
	"github.com/beekhof/icalsync/internal/feed"
)

// Report is the normalized content of a feed, without touching the destination.
type Report struct {
	Events     []*event.Canonical
	Components int
	Skipped    int
	Recurring  int
	Exceptions int
	Cancelled  int
}

// Inspect fetches and normalizes the instance's feed and counts what it found.
func (in *Instance) Inspect(ctx context.Context) (*Report, error) {
	data, err := in.fetcher.Fetch(ctx, in.feed.URL)
	if err != nil {
		return nil, err
	}
	comps, err := feed.Parse(data)
	if err != nil {
		return nil, err
	}
	return NewReport(len(comps), in.normalizer.NormalizeAll(comps)), nil
}

// NewReport counts recurring, exception and cancelled events.
func NewReport(components int, events []*event.Canonical) *Report {
	r := &Report{
		Events:     events,
		Components: components,
		Skipped:    components - len(events),
	}
	for _, ev := range events {
		switch {
		case ev.IsRecurring():
			r.Recurring++
		case ev.IsException():
			r.Exceptions++
		}
		if ev.Status == event.StatusCancelled {
			r.Cancelled++
		}
	}
	return r
}

// Write prints one line per event followed by the counters.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tSTART\tSTATUS\tRECURRENCE\tEXCEPTION OF\tTITLE")
	for _, ev := range r.Events {
		exceptionOf := "-"
		if ev.IsException() {
			exceptionOf = ev.RecurrenceExceptionOf.String()
		}
		rule := ev.RecurrenceRule
		if rule == "" {
			rule = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ev.ExternalID, ev.Start, ev.Status, rule, exceptionOf, ev.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d components, %d events (%d recurring, %d exceptions, %d cancelled), %d skipped\n",
		r.Components, len(r.Events), r.Recurring, r.Exceptions, r.Cancelled, r.Skipped)
	return err
}
