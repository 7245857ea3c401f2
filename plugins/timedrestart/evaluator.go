package timedrestart

import (
	"fmt"
	"time"
)

type EventKind int

const (
	Warning EventKind = iota
	Restart
)

func (k EventKind) String() string {
	if k == Restart {
		return "restart"
	}
	return "warning"
}

// Event is something due in the current minute.
type Event struct {
	Kind EventKind
	// Minutes before the restart; Warning only.
	Minutes int
	// At is the restart time the event belongs to.
	At TimeOfDay
}

func (e Event) String() string {
	if e.Kind == Restart {
		return "restart@" + e.At.String()
	}
	return fmt.Sprintf("warning(%d)@%s", e.Minutes, e.At)
}

// Describe is the operator-facing wording used by status and preview.
func (e Event) Describe() string {
	if e.Kind == Restart {
		return "restart " + e.At.String()
	}
	return fmt.Sprintf("warning %d min before %s", e.Minutes, e.At)
}

type EvalOptions struct {
	// FireZeroWarning fires Warning(0) alongside Restart when warning_minutes contains 0.
	FireZeroWarning bool
}

// Evaluate returns the events due at the local minute of nowUTC, in
// schedule order: each restart time's warnings, then its restart.
// Entries that do not parse are ignored.
func Evaluate(nowUTC time.Time, s Schedule, opt EvalOptions) []Event {
	now := LocalTime(nowUTC, s.Timezone)
	var out []Event
	for _, raw := range s.RestartTimes {
		r, err := ParseTimeOfDay(raw)
		if err != nil {
			continue
		}
		for _, w := range s.WarningMinutes {
			if w < 0 || (w == 0 && !opt.FireZeroWarning) {
				continue
			}
			if WarningTime(r, w) == now {
				out = append(out, Event{Kind: Warning, Minutes: w, At: r})
			}
		}
		if r == now {
			out = append(out, Event{Kind: Restart, At: r})
		}
	}
	return out
}

// Firing is an event at a concrete instant.
type Firing struct {
	Event
	When time.Time
}

// Upcoming lists the firings after nowUTC (exclusive of the current
// minute) up to horizon, in time order.
func Upcoming(nowUTC time.Time, s Schedule, opt EvalOptions, horizon time.Duration) []Firing {
	start := nowUTC.UTC().Truncate(time.Minute)
	var out []Firing
	for m := 1; time.Duration(m)*time.Minute <= horizon; m++ {
		at := start.Add(time.Duration(m) * time.Minute)
		for _, e := range Evaluate(at, s, opt) {
			out = append(out, Firing{Event: e, When: at})
		}
	}
	return out
}

// NextRestart returns the next restart instant strictly after the current minute.
func NextRestart(nowUTC time.Time, s Schedule) (time.Time, bool) {
	now := LocalTime(nowUTC, s.Timezone)
	best := -1
	for _, raw := range s.RestartTimes {
		r, err := ParseTimeOfDay(raw)
		if err != nil {
			continue
		}
		d := (int(r) - int(now) + MinutesPerDay) % MinutesPerDay
		if d == 0 {
			d = MinutesPerDay
		}
		if best < 0 || d < best {
			best = d
		}
	}
	if best < 0 {
		return time.Time{}, false
	}
	return nowUTC.UTC().Truncate(time.Minute).Add(time.Duration(best) * time.Minute), true
}
