package feed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-ical"
)

// Parse decodes every VCALENDAR in data and returns its VEVENT components
// in feed order. Other component kinds are ignored.
func Parse(data []byte) ([]*ical.Component, error) {
	dec := ical.NewDecoder(bytes.NewReader(data))

	var events []*ical.Component
	calendars := 0
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parsing calendar: %v", ErrFetch, err)
		}
		calendars++
		for _, child := range cal.Children {
			if child.Name == ical.CompEvent {
				events = append(events, child)
			}
		}
	}
	if calendars == 0 {
		return nil, fmt.Errorf("%w: no calendar data", ErrFetch)
	}
	return events, nil
}
