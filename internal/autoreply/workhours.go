package autoreply

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// WorkingHours is the configured reply window.
type WorkingHours struct {
	Enabled  bool
	Timezone string // IANA name; empty means UTC
	Start    string // "HH:MM", 24-hour, zero-padded
	End      string
}

// Window is a compiled WorkingHours. The zero value is disabled and always open.
//
// Bounds are compared as "HHMM" strings, inclusive on both ends. A window that
// wraps past midnight (start > end) is not supported and never matches.
type Window struct {
	enabled    bool
	loc        *time.Location
	start, end string
}

// NewWindow compiles wh. An unknown timezone falls back to UTC with a warning;
// malformed bounds are an error.
func NewWindow(wh WorkingHours) (Window, error) {
	if !wh.Enabled {
		return Window{}, nil
	}

	start, err := clockKey(wh.Start)
	if err != nil {
		return Window{}, fmt.Errorf("working_hours.start: %w", err)
	}
	end, err := clockKey(wh.End)
	if err != nil {
		return Window{}, fmt.Errorf("working_hours.end: %w", err)
	}
	if start > end {
		slog.Warn("working hours wrap past midnight, which is unsupported; no message will be answered",
			"start", wh.Start, "end", wh.End)
	}

	loc := time.UTC
	if wh.Timezone != "" {
		l, err := time.LoadLocation(wh.Timezone)
		if err != nil {
			slog.Warn("unknown working hours timezone, using UTC", "timezone", wh.Timezone, "error", err)
		} else {
			loc = l
		}
	}

	return Window{enabled: true, loc: loc, start: start, end: end}, nil
}

// Open reports whether t falls inside the window.
func (w Window) Open(t time.Time) bool {
	if !w.enabled {
		return true
	}
	now := strings.Replace(t.In(w.loc).Format("15:04"), ":", "", 1)
	return now >= w.start && now <= w.end
}

// clockKey validates "HH:MM" and returns it without the colon.
func clockKey(s string) (string, error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return "", fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Format("1504"), nil
}
