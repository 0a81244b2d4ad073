package event

import (
	"strings"

	"github.com/emersion/go-ical"
)

// Attendee is the structured form of an ATTENDEE property.
type Attendee struct {
	Address       string
	CommonName    string
	Participation string // PARTSTAT, upper-cased; empty when absent
}

// Declined reports whether the attendee explicitly declined.
func (a Attendee) Declined() bool {
	return a.Participation == "DECLINED"
}

// ParseAttendees reads attendee parameters as typed values. A missing or
// malformed PARTSTAT leaves Participation empty and is never a decline.
func ParseAttendees(props []ical.Prop) []Attendee {
	attendees := make([]Attendee, 0, len(props))
	for _, p := range props {
		a := Attendee{
			Address:    strings.TrimPrefix(strings.TrimSpace(p.Value), "mailto:"),
			CommonName: p.Params.Get("CN"),
		}
		partstat := strings.ToUpper(strings.TrimSpace(p.Params.Get("PARTSTAT")))
		if isToken(partstat) {
			a.Participation = partstat
		}
		attendees = append(attendees, a)
	}
	return attendees
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '-' {
			return false
		}
	}
	return true
}
