package event

import (
	"errors"
	"strings"

	"github.com/teambition/rrule-go"
)

// ruleOrder is the part order rules are written in.
var ruleOrder = []string{
	"FREQ", "INTERVAL", "WKST", "COUNT", "UNTIL",
	"BYSETPOS", "BYMONTH", "BYMONTHDAY", "BYYEARDAY", "BYWEEKNO",
	"BYDAY", "BYHOUR", "BYMINUTE", "BYSECOND", "BYEASTER",
}

// SerializeRule turns a raw RRULE value into the "RRULE:..." line the
// destination expects. Rules the structured parser accepts keep every part
// as written, UNTIL included, in a fixed order. Other rules are rebuilt from
// their FREQ, BYDAY, INTERVAL and UNTIL parts, dropping defaults.
func SerializeRule(raw string) (string, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	if raw == "" {
		return "", errors.New("empty recurrence rule")
	}
	if _, err := rrule.StrToROption(raw); err == nil {
		return canonicalRule(splitRule(raw)), nil
	}
	return manualRule(raw)
}

func splitRule(raw string) map[string]string {
	parts := make(map[string]string)
	for _, attr := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		parts[strings.ToUpper(strings.TrimSpace(key))] = strings.ToUpper(strings.TrimSpace(value))
	}
	return parts
}

func canonicalRule(parts map[string]string) string {
	out := make([]string, 0, len(parts))
	for _, key := range ruleOrder {
		if value, ok := parts[key]; ok && value != "" {
			out = append(out, key+"="+value)
		}
	}
	return "RRULE:" + strings.Join(out, ";")
}

func manualRule(raw string) (string, error) {
	parts := splitRule(raw)

	freq := parts["FREQ"]
	if freq == "" {
		return "", errors.New("recurrence rule has no FREQ")
	}
	out := []string{"FREQ=" + freq}
	if byday := parts["BYDAY"]; byday != "" {
		out = append(out, "BYDAY="+byday)
	}
	if interval := parts["INTERVAL"]; interval != "" && interval != "1" {
		out = append(out, "INTERVAL="+interval)
	}
	if until := parts["UNTIL"]; until != "" {
		out = append(out, "UNTIL="+until)
	}
	return "RRULE:" + strings.Join(out, ";"), nil
}
