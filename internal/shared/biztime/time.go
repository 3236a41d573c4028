// Package biztime centralizes time access. All storage and comparisons use
// UTC; the indirection lets tests freeze the clock.
package biztime

import "time"

// nowFunc is replaceable in tests.
var nowFunc = time.Now

// NowUTC returns the current time in UTC.
func NowUTC() time.Time {
	return nowFunc().UTC()
}

// SetNowFunc overrides the clock. Tests must restore with ResetNowFunc.
func SetNowFunc(fn func() time.Time) {
	nowFunc = fn
}

// ResetNowFunc restores the real clock.
func ResetNowFunc() {
	nowFunc = time.Now
}
