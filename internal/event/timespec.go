package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const (
	icalDate      = "20060102"
	icalLocal     = "20060102T150405"
	icalUTC       = "20060102T150405Z"
	icalLocalNoSS = "20060102T1504"
)

// windowsZones maps the zone names Exchange and Outlook publish to IANA names.
var windowsZones = map[string]string{
	"UTC":                            "UTC",
	"GMT Standard Time":              "Europe/London",
	"Greenwich Standard Time":        "Atlantic/Reykjavik",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Romance Standard Time":          "Europe/Paris",
	"Central European Standard Time": "Europe/Warsaw",
	"E. Europe Standard Time":        "Europe/Chisinau",
	"FLE Standard Time":              "Europe/Kiev",
	"Eastern Standard Time":          "America/New_York",
	"Central Standard Time":          "America/Chicago",
	"Mountain Standard Time":         "America/Denver",
	"Pacific Standard Time":          "America/Los_Angeles",
	"India Standard Time":            "Asia/Kolkata",
	"China Standard Time":            "Asia/Shanghai",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"AUS Eastern Standard Time":      "Australia/Sydney",
}

// LoadZone resolves a TZID parameter to a location, accepting IANA names,
// Windows zone names and the "/vendor/.../Area/City" prefix form.
func LoadZone(tzid string) (*time.Location, error) {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if iana, ok := windowsZones[tzid]; ok {
		tzid = iana
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc, nil
	}
	if strings.HasPrefix(tzid, "/") {
		parts := strings.Split(tzid, "/")
		if len(parts) >= 2 {
			return time.LoadLocation(strings.Join(parts[len(parts)-2:], "/"))
		}
	}
	return nil, fmt.Errorf("unknown time zone %q", tzid)
}

// parseTime converts a date or date-time property. Date-only values become
// all-day specs; date-times always leave with an explicit zone.
func (n *Normalizer) parseTime(uid string, prop *ical.Prop) (TimeSpec, error) {
	value := strings.TrimSpace(prop.Value)
	if value == "" {
		return TimeSpec{}, fmt.Errorf("empty value")
	}

	if strings.EqualFold(prop.Params.Get("VALUE"), "DATE") || !strings.Contains(value, "T") {
		d, err := time.Parse(icalDate, value[:min(len(value), len(icalDate))])
		if err != nil {
			return TimeSpec{}, fmt.Errorf("invalid date %q: %w", value, err)
		}
		return TimeSpec{Date: d.Format(dateLayout)}, nil
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(icalUTC, value)
		if err != nil {
			return TimeSpec{}, fmt.Errorf("invalid date-time %q: %w", value, err)
		}
		return TimeSpec{DateTime: t.Format(time.RFC3339), TimeZone: "UTC"}, nil
	}

	loc := time.UTC
	floating := true
	zoneName := "UTC"
	if tzid := prop.Params.Get("TZID"); tzid != "" {
		zone, err := LoadZone(tzid)
		if err != nil {
			n.log.Warnw("Unknown time zone, assuming UTC", "uid", uid, "tzid", tzid)
		} else {
			loc, floating, zoneName = zone, false, zone.String()
		}
	} else {
		n.log.Warnw("Floating time, assuming UTC", "uid", uid, "value", value)
	}

	t, err := parseLocal(value, loc)
	if err != nil {
		return TimeSpec{}, err
	}
	return TimeSpec{DateTime: t.Format(time.RFC3339), TimeZone: zoneName, Floating: floating}, nil
}

func parseLocal(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{icalLocal, icalLocalNoSS} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", value)
}
