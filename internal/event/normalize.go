package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"
)

// ErrNoUID is returned for source components without a usable UID.
var ErrNoUID = errors.New("event has no UID")

// DefaultTitle is used when the source SUMMARY is missing or empty.
const DefaultTitle = "No Title"

const provenanceLayout = "2006-01-02 15:04:05"

// Normalizer turns raw VEVENT components into canonical events.
type Normalizer struct {
	log *zap.SugaredLogger
	now func() time.Time
}

// NewNormalizer creates a normalizer that stamps provenance with the current time.
func NewNormalizer(log *zap.SugaredLogger) *Normalizer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Normalizer{log: log, now: time.Now}
}

// WithClock replaces the provenance clock.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// NormalizeAll normalizes every component, skipping and logging the ones
// that cannot be represented.
func (n *Normalizer) NormalizeAll(comps []*ical.Component) []*Canonical {
	events := make([]*Canonical, 0, len(comps))
	for _, comp := range comps {
		ev, err := n.Normalize(comp)
		if err != nil {
			n.log.Warnw("Skipping source event", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// Normalize converts a single VEVENT.
func (n *Normalizer) Normalize(comp *ical.Component) (*Canonical, error) {
	uid := propText(comp, ical.PropUID)
	if uid == "" {
		return nil, ErrNoUID
	}

	ev := &Canonical{
		ExternalID:   uid,
		Title:        propText(comp, ical.PropSummary),
		Location:     propText(comp, ical.PropLocation),
		SourceStatus: strings.ToUpper(propText(comp, ical.PropStatus)),
	}
	if ev.Title == "" {
		ev.Title = DefaultTitle
	}

	start := comp.Props.Get(ical.PropDateTimeStart)
	if start == nil {
		return nil, fmt.Errorf("event %s: missing DTSTART", uid)
	}
	var err error
	ev.Start, err = n.parseTime(uid, start)
	if err != nil {
		return nil, fmt.Errorf("event %s: DTSTART: %w", uid, err)
	}
	ev.End = ev.Start
	if end := comp.Props.Get(ical.PropDateTimeEnd); end != nil {
		ev.End, err = n.parseTime(uid, end)
		if err != nil {
			return nil, fmt.Errorf("event %s: DTEND: %w", uid, err)
		}
	}

	ev.Status = ResolveStatus(ev.Title, ev.SourceStatus, ParseAttendees(comp.Props.Values(ical.PropAttendee)))
	ev.Description = n.describe(propText(comp, ical.PropDescription))

	if rule := comp.Props.Get(ical.PropRecurrenceRule); rule != nil {
		serialized, err := SerializeRule(rule.Value)
		if err != nil {
			n.log.Warnw("Dropping unreadable recurrence rule", "uid", uid, "rule", rule.Value, "error", err)
		} else {
			ev.RecurrenceRule = serialized
		}
	}

	if rid := comp.Props.Get(ical.PropRecurrenceID); rid != nil {
		ts, err := n.parseTime(uid, rid)
		if err != nil {
			return nil, fmt.Errorf("event %s: RECURRENCE-ID: %w", uid, err)
		}
		ev.RecurrenceExceptionOf = &ts
		// An exception never carries its own series rule.
		ev.RecurrenceRule = ""
	}

	return ev, nil
}

// ResolveStatus applies the status precedence: a cancellation title prefix,
// then the explicit STATUS, then any declined attendee, else confirmed.
func ResolveStatus(title, sourceStatus string, attendees []Attendee) Status {
	if strings.HasPrefix(title, "Canceled:") || strings.HasPrefix(title, "Cancelled:") {
		return StatusCancelled
	}
	switch strings.ToUpper(sourceStatus) {
	case "CANCELLED":
		return StatusCancelled
	case "TENTATIVE":
		return StatusTentative
	}
	for _, a := range attendees {
		if a.Declined() {
			return StatusCancelled
		}
	}
	return StatusConfirmed
}

func (n *Normalizer) describe(original string) string {
	line := ProvenancePrefix + n.now().Format(provenanceLayout)
	if original == "" {
		return line
	}
	return original + "\n\n" + line
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return strings.TrimSpace(prop.Value)
	}
	return strings.TrimSpace(text)
}
