// Package canonicalization provides the Moscow-local date handling every
// staging task computes its report window from, matching the
// `SET timezone = 'Europe/Moscow'` session setting internal/storage applies
// at connect.
package canonicalization

import "time"

// moscow is the timezone every staging date column is interpreted in,
// matching the `SET timezone = 'Europe/Moscow'` session setting
// internal/storage applies at connect.
var moscow = loadMoscow()

func loadMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}

	return loc
}

// Today returns the current calendar date in Moscow time, truncated to
// midnight, matching Postgres's `CURRENT_DATE` under a Moscow-timezone
// session.
func Today() time.Time {
	now := time.Now().In(moscow)

	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, moscow)
}

// Yesterday returns Today() minus one calendar day, matching
// `CURRENT_DATE - INTERVAL '1 day'`.
func Yesterday() time.Time {
	return Today().AddDate(0, 0, -1)
}
