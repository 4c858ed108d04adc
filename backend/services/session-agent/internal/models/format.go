package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chargelog/backend/libs/controllerapi"
)

const day = 24 * time.Hour

var durationPattern = regexp.MustCompile(`^(?:(-?\d+) days?, )?(\d+):(\d{2}):(\d{2})(?:\.(\d{1,6}))?$`)

// FormatTimestamp renders a timestamp the way session records store it.
func FormatTimestamp(t time.Time) string {
	return controllerapi.FormatTimestamp(t)
}

// ParseTimestamp reads a stored timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	return controllerapi.ParseTimestamp(raw)
}

// FormatDuration renders d as "H:MM:SS[.ffffff]", prefixed with "N day(s), " when it spans
// whole days. Negative values carry the day count negative and a positive remainder.
func FormatDuration(d time.Duration) string {
	micros := d.Microseconds()
	const microsPerDay = int64(day / time.Microsecond)
	days := micros / microsPerDay
	rem := micros % microsPerDay
	if rem < 0 {
		days--
		rem += microsPerDay
	}
	secs := rem / 1e6
	frac := rem % 1e6

	var b strings.Builder
	if days != 0 {
		unit := "days"
		if days == 1 || days == -1 {
			unit = "day"
		}
		fmt.Fprintf(&b, "%d %s, ", days, unit)
	}
	fmt.Fprintf(&b, "%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	if frac != 0 {
		fmt.Fprintf(&b, ".%06d", frac)
	}
	return b.String()
}

// ParseDuration reverses FormatDuration. Plain Go duration strings are accepted as well.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	m := durationPattern.FindStringSubmatch(raw)
	if m == nil {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return d, nil
	}

	var days int64
	if m[1] != "" {
		days, _ = strconv.ParseInt(m[1], 10, 64)
	}
	hours, _ := strconv.ParseInt(m[2], 10, 64)
	minutes, _ := strconv.ParseInt(m[3], 10, 64)
	seconds, _ := strconv.ParseInt(m[4], 10, 64)
	if minutes > 59 || seconds > 59 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	var micros int64
	if m[5] != "" {
		padded := m[5] + strings.Repeat("0", 6-len(m[5]))
		micros, _ = strconv.ParseInt(padded, 10, 64)
	}

	d := time.Duration(days)*day +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(micros)*time.Microsecond
	return d, nil
}
