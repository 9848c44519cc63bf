// Package apptime holds helpers that express times in the worker's
// configured application timezone (config.AppLocation()) or in an explicit
// IANA/offset timezone. The pipeline itself does not route through them:
// the store persists unix seconds, and the scheduler and dispatcher read
// the wall clock in UTC.
package apptime

import (
	"time"

	"reddalert/internal/infra/config"
	"reddalert/internal/infra/timeutil"
)

// Now returns the current time converted to the worker's global timezone
// (config.AppLocation()).
func Now() time.Time {
	return time.Now().In(config.AppLocation())
}

// ToAppTime converts an arbitrary time.Time into the worker's global
// timezone. The Reddit client does not call it; it keeps the API's epoch
// seconds as UTC times.
func ToAppTime(t time.Time) time.Time {
	return t.In(config.AppLocation())
}

// FormatInTimezone formats t in the given IANA/offset timezone. Falls back
// to config.AppLocation() if timezone fails to parse.
func FormatInTimezone(t time.Time, timezone, layout string) string {
	loc, err := timeutil.ParseLocation(timezone)
	if err != nil {
		loc = config.AppLocation()
	}
	return t.In(loc).Format(layout)
}
