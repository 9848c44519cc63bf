// Package timeutil holds small time-related helpers: timezone parsing and
// time-of-day format validation, shared by config (the global app timezone)
// and apptime (per-tenant timestamp formatting).
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseLocation parses either an IANA timezone (e.g. "Europe/Moscow") or a
// UTC offset (e.g. "+03:00", "-0700", "UTC+3", "GMT-04:30").
// Returns a *time.Location or an error.
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	// Try IANA first.
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	// Fall back to a UTC-offset form.
	if loc, ok := ParseUTCOffsetToLocation(v); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name or UTC offset", value)
}

// ParseUTCOffsetToLocation parses strings like "+03:00", "-0700", "UTC+3",
// "GMT-04:30" or "Z". Returns a fixed-offset location and ok=true on success.
func ParseUTCOffsetToLocation(value string) (*time.Location, bool) {
	v := strings.TrimSpace(strings.ToUpper(value))
	if v == "Z" || v == "UTC" || v == "GMT" {
		return time.FixedZone("UTC+00:00", 0), true
	}
	// Normalize an optional UTC/GMT prefix.
	v = strings.TrimPrefix(v, "UTC")
	v = strings.TrimPrefix(v, "GMT")
	v = strings.TrimSpace(v)
	// Patterns: +HH, -HH, +HHMM, -HHMM, +HH:MM, -HH:MM.
	re := regexp.MustCompile(`^([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)
	m := re.FindStringSubmatch(v)
	if m == nil {
		return nil, false
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hourStr := m[2]
	minStr := m[3]
	hours, err := strconv.Atoi(hourStr)
	if err != nil {
		return nil, false
	}
	mins := 0
	if minStr != "" {
		var err2 error
		mins, err2 = strconv.Atoi(minStr)
		if err2 != nil {
			return nil, false
		}
	}
	if hours < 0 || hours > 14 || mins < 0 || mins > 59 {
		return nil, false
	}
	const (
		secInHour = 60 * 60
		secInMin  = 60
	)
	offset := sign * ((hours * secInHour) + (mins * secInMin))
	name := fmt.Sprintf("UTC%+03d:%02d", sign*hours, mins)
	return time.FixedZone(name, offset), true
}

// IsValidScheduleEntry checks the HH:MM format and hour/minute ranges. This
// is a pure syntax check; the worker's only consumer is the daily retention
// sweep anchor (RETENTION_SWEEP_TIME).
func IsValidScheduleEntry(value string) bool {
	if len(value) != 5 || value[2] != ':' {
		return false
	}
	hour, err := strconv.Atoi(value[:2])
	if err != nil {
		return false
	}
	minute, err := strconv.Atoi(value[3:])
	if err != nil {
		return false
	}
	if hour < 0 || hour > 23 {
		return false
	}
	if minute < 0 || minute > 59 {
		return false
	}
	return true
}

// ParseScheduleEntry splits an already-validated "HH:MM" value (per
// IsValidScheduleEntry) into its hour and minute. Callers that didn't
// validate first get 0, 0 back rather than a panic.
func ParseScheduleEntry(value string) (hour, minute int) {
	if !IsValidScheduleEntry(value) {
		return 0, 0
	}
	hour, _ = strconv.Atoi(value[:2])
	minute, _ = strconv.Atoi(value[3:])
	return hour, minute
}

// NormalizeLogTimestamp parses a timestamp string in one of a few common
// formats and re-renders it as "2006-01-02 15:04:05" in the given location.
// Returns the original string unchanged if none of the formats parse.
func NormalizeLogTimestamp(timeStr string, loc *time.Location) string {
	if timeStr == "" {
		return ""
	}
	var t time.Time
	var err error

	layouts := []string{
		"2006-01-02T15:04:05.999-0700", // zap: millis + timezone without a colon
		"2006-01-02T15:04:05-0700",     // zap: without milliseconds
		time.RFC3339,                   // ISO with a colon in the timezone
		time.RFC3339Nano,
	}

	outputLayout := "2006-01-02 15:04:05"

	for _, layout := range layouts {
		if t, err = time.Parse(layout, timeStr); err == nil {
			break
		}
	}
	if err != nil {
		return timeStr
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(outputLayout)
}
