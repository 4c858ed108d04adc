package controllerapi

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted from the controller. Fractional seconds are accepted by every layout;
// values without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the ISO-8601 variants emitted by the controller API.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// FormatTimestamp renders an instant the way session records store it.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
