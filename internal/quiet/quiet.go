// Package quiet implements quiet-hours schedules: weekday/weekend aware
// wall-clock windows that may wrap past midnight.
package quiet

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"ccbell/pkg/opt"
)

var (
	ErrEmptyWindow  = errors.New("start and end must differ")
	ErrInvalidClock = errors.New("invalid time of day (use HH:MM or HH:MM:SS, 00:00-23:59)")
)

// TimeOfDay is the offset from local midnight, in [0, 24h).
type TimeOfDay time.Duration

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\s*$`)

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss := 0
	if m[3] != "" {
		ss, _ = strconv.Atoi(m[3])
	}
	if hh > 23 || mm > 59 || ss > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return TimeOfDay(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second), nil
}

// Of returns the wall-clock offset of t in t's own location.
func Of(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond()))
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Window is the half-open interval [Start, End). Start > End means the window
// wraps past midnight.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

func NewWindow(start, end TimeOfDay) (Window, error) {
	if start == end {
		return Window{}, ErrEmptyWindow
	}
	return Window{Start: start, End: end}, nil
}

// ParseWindow parses both ends and rejects ambiguous (start == end) windows.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	return NewWindow(s, e)
}

func (w Window) Wraps() bool { return w.Start > w.End }

// Contains is the single membership test for windows.
func (w Window) Contains(t TimeOfDay) bool {
	if w.Start <= w.End {
		return w.Start <= t && t < w.End
	}
	return t >= w.Start || t < w.End
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

// Schedule is a quiet-hours configuration. Location nil means time.Local.
type Schedule struct {
	Enabled  bool
	Default  Window
	Weekday  opt.Value[Window]
	Weekend  opt.Value[Window]
	Location *time.Location
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ActiveWindow returns the window that applies on now's calendar day.
func ActiveWindow(s Schedule, now time.Time) Window {
	local := now.In(s.location())
	if isWeekend(local) {
		if w, ok := s.Weekend.Get(); ok {
			return w
		}
	} else if w, ok := s.Weekday.Get(); ok {
		return w
	}
	return s.Default
}

// IsQuiet reports whether now falls inside the schedule's active window.
func IsQuiet(s Schedule, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	local := now.In(s.location())
	return ActiveWindow(s, local).Contains(Of(local))
}

// NextChange returns the first instant after now at which IsQuiet flips.
// ok is false when the state never changes (disabled schedule, or windows
// that do not flip within the next eight days).
func NextChange(s Schedule, now time.Time) (at time.Time, ok bool) {
	if !s.Enabled {
		return time.Time{}, false
	}
	loc := s.location()
	local := now.In(loc)
	cur := IsQuiet(s, local)

	var candidates []time.Time
	y, m, d := local.Date()
	for i := 0; i <= 8; i++ {
		midnight := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		candidates = append(candidates, midnight)
		for _, w := range windows(s) {
			candidates = append(candidates,
				midnight.Add(time.Duration(w.Start)),
				midnight.Add(time.Duration(w.End)),
			)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	for _, c := range candidates {
		if !c.After(local) {
			continue
		}
		if IsQuiet(s, c) != cur {
			return c, true
		}
	}
	return time.Time{}, false
}

func windows(s Schedule) []Window {
	out := []Window{s.Default}
	if w, ok := s.Weekday.Get(); ok {
		out = append(out, w)
	}
	if w, ok := s.Weekend.Get(); ok {
		out = append(out, w)
	}
	return out
}
