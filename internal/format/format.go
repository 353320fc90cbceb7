// Package format renders durations, counts and timestamps for the HTML
// pages, the terminal report and digest messages.
package format

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration renders seconds as "1h 2m 3s", "2m 3s" or "3s".
func Duration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// ShortDuration renders seconds as "1h 2m" or "2m".
func ShortDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// Count renders n with thousands separators.
func Count(n int64) string {
	return humanize.Comma(n)
}

// Relative renders t relative to now ("3 hours ago"), or "—" when unset.
func Relative(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return humanize.Time(t)
}

// Date renders t as a UTC calendar date.
func Date(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.UTC().Format("2006-01-02")
}
