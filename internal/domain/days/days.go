// Package days works with calendar dates, always as UTC midnights.
package days

import (
	"errors"
	"strings"
	"time"
)

const Layout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// Of truncates t to its calendar date, keeping the wall-clock day of t's own location.
func Of(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func Add(d time.Time, n int) time.Time { return Of(d).AddDate(0, 0, n) }

func Between(a, b time.Time) int {
	return int(Of(b).Sub(Of(a)).Hours() / 24)
}

func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

func Format(d time.Time) string { return Of(d).Format(Layout) }

// Today is the current date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Of(now.In(loc))
}
