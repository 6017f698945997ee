// Package window resolves the publish-time range a post must fall in.
package window

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyWindow is returned when a resolved window starts after it ends.
var ErrEmptyWindow = errors.New("window: start is after end")

// Mode selects how the end of the window is computed.
type Mode string

const (
	// ModeFixed ends the window at a fixed clock time today.
	ModeFixed Mode = "fixed"
	// ModeRolling ends the window at the current time and is re-resolved
	// on every retry attempt.
	ModeRolling Mode = "rolling"
)

// Day selects the calendar day the window start is anchored to.
type Day string

const (
	Yesterday Day = "yesterday"
	Today     Day = "today"
)

// Window is an inclusive time range. Start <= End always holds for values
// returned by New and Policy.Resolve.
type Window struct {
	Start time.Time
	End   time.Time
}

// New returns a window or ErrEmptyWindow if start is after end.
func New(start, end time.Time) (Window, error) {
	if start.After(end) {
		return Window{}, fmt.Errorf("%w: %s > %s", ErrEmptyWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Contains reports whether t lies in [Start, End].
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return w.Start.Format("2006-01-02 15:04") + " .. " + w.End.Format("2006-01-02 15:04 MST")
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("clock %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("clock %q: invalid hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("clock %q: invalid minute", s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// On returns the clock time on the calendar day of day, in loc, shifted by
// offset days.
func (c Clock) On(day time.Time, loc *time.Location, offset int) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d+offset, c.Hour, c.Minute, 0, 0, loc)
}

// After reports whether c is later in the day than o.
func (c Clock) After(o Clock) bool {
	return c.Hour*60+c.Minute > o.Hour*60+o.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Policy describes how to turn "now" into a Window.
type Policy struct {
	Mode     Mode
	Start    Clock
	StartDay Day
	End      Clock // fixed mode only
	Cutoff   Clock // rolling mode only
	Location *time.Location
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Resolve computes the window for the given instant.
func (p Policy) Resolve(now time.Time) (Window, error) {
	loc := p.location()
	start := p.Start.On(now, loc, p.startOffset())

	switch p.Mode {
	case ModeRolling:
		return New(start, now.In(loc))
	case ModeFixed, "":
		return New(start, p.End.On(now, loc, 0))
	default:
		return Window{}, fmt.Errorf("window: unknown mode %q", p.Mode)
	}
}

// Deadline returns the instant after which the rolling retry loop gives up:
// the first cutoff clock at or after the window start.
func (p Policy) Deadline(now time.Time) time.Time {
	loc := p.location()
	offset := p.startOffset()
	start := p.Start.On(now, loc, offset)
	deadline := p.Cutoff.On(now, loc, offset)
	if deadline.Before(start) {
		deadline = p.Cutoff.On(now, loc, offset+1)
	}
	return deadline
}

func (p Policy) startOffset() int {
	if p.StartDay == Today {
		return 0
	}
	return -1
}
