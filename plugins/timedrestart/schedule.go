package timedrestart

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	MinutesPerDay     = 24 * 60
	MinTimezone       = -12
	MaxTimezone       = 12
	MaxWarningMinutes = MinutesPerDay
	DefaultTimezone   = 8
)

// TimeOfDay is minutes since local midnight, in [0, MinutesPerDay).
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" and "H:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hs) < 1 || len(hs) > 2 || len(ms) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err1 := strconv.Atoi(hs)
	m, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || hs[0] == '+' || hs[0] == '-' || ms[0] == '+' || ms[0] == '-' ||
		h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Add shifts t by minutes, wrapping around midnight in both directions.
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	v := (int(t) + minutes) % MinutesPerDay
	if v < 0 {
		v += MinutesPerDay
	}
	return TimeOfDay(v)
}

// WarningTime is the time of day w minutes before restart r.
func WarningTime(r TimeOfDay, w int) TimeOfDay { return r.Add(-w) }

// LocalTime converts a UTC instant to the local time of day for a whole-hour
// offset. Seconds are truncated; crossing midnight wraps the time of day.
func LocalTime(nowUTC time.Time, tz int) TimeOfDay {
	u := nowUTC.UTC()
	return TimeOfDay(u.Hour()*60 + u.Minute()).Add(tz * 60)
}

// Schedule is the persisted restart plan.
type Schedule struct {
	RestartTimes   []string `json:"restart_times"`
	WarningMinutes []int    `json:"warning_minutes"`
	Timezone       int      `json:"timezone"`
}

// DefaultSchedule is written when no stored schedule exists.
func DefaultSchedule() Schedule {
	return Schedule{
		RestartTimes:   []string{"06:00", "12:00", "18:00", "00:00"},
		WarningMinutes: []int{5, 3, 1},
		Timezone:       DefaultTimezone,
	}
}

func (s Schedule) Clone() Schedule {
	return Schedule{
		RestartTimes:   slices.Clone(s.RestartTimes),
		WarningMinutes: slices.Clone(s.WarningMinutes),
		Timezone:       s.Timezone,
	}
}

// Has reports whether the normalized time t is scheduled.
func (s Schedule) Has(t string) bool { return slices.Contains(s.RestartTimes, t) }

// ParseTimezone parses a whole-hour UTC offset in [-12, 12].
func ParseTimezone(raw string) (int, error) {
	tz, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrTimezoneFormat, raw)
	}
	if err := checkTimezone(tz); err != nil {
		return 0, err
	}
	return tz, nil
}

func checkTimezone(tz int) error {
	if tz < MinTimezone || tz > MaxTimezone {
		return fmt.Errorf("%w: %d", ErrTimezoneRange, tz)
	}
	return nil
}

func checkWarning(w int) error {
	if w < 0 || w > MaxWarningMinutes {
		return fmt.Errorf("%w: %d (allowed 0..%d)", ErrInvalidWarning, w, MaxWarningMinutes)
	}
	return nil
}

// Validate reports the first malformed value.
func (s Schedule) Validate() error {
	seen := map[string]bool{}
	for _, r := range s.RestartTimes {
		t, err := ParseTimeOfDay(r)
		if err != nil {
			return err
		}
		if t.String() != r {
			return fmt.Errorf("%w: %q is not normalized", ErrInvalidTime, r)
		}
		if seen[r] {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, r)
		}
		seen[r] = true
	}
	for _, w := range s.WarningMinutes {
		if err := checkWarning(w); err != nil {
			return err
		}
	}
	return checkTimezone(s.Timezone)
}

// sanitize makes a loaded schedule valid: times are normalized, invalid and
// duplicate entries dropped, a bad timezone replaced by the default. Each
// fix is described in problems.
func sanitize(s Schedule) (out Schedule, problems []string) {
	out.Timezone = s.Timezone
	seen := map[string]bool{}
	for _, r := range s.RestartTimes {
		t, err := ParseTimeOfDay(r)
		if err != nil {
			problems = append(problems, fmt.Sprintf("dropped restart time %q: invalid", r))
			continue
		}
		n := t.String()
		if seen[n] {
			problems = append(problems, fmt.Sprintf("dropped duplicate restart time %q", r))
			continue
		}
		seen[n] = true
		out.RestartTimes = append(out.RestartTimes, n)
	}
	for _, w := range s.WarningMinutes {
		if checkWarning(w) != nil {
			problems = append(problems, fmt.Sprintf("dropped warning minutes %d: out of range", w))
			continue
		}
		out.WarningMinutes = append(out.WarningMinutes, w)
	}
	if checkTimezone(s.Timezone) != nil {
		problems = append(problems, fmt.Sprintf("timezone %d out of range, using %d", s.Timezone, DefaultTimezone))
		out.Timezone = DefaultTimezone
	}
	if out.RestartTimes == nil {
		out.RestartTimes = []string{}
	}
	if out.WarningMinutes == nil {
		out.WarningMinutes = []int{}
	}
	return out, problems
}

// FormatTimezone renders an offset as "UTC+8", "UTC-5" or "UTC".
func FormatTimezone(tz int) string {
	switch {
	case tz > 0:
		return fmt.Sprintf("UTC+%d", tz)
	case tz < 0:
		return fmt.Sprintf("UTC%d", tz)
	}
	return "UTC"
}
