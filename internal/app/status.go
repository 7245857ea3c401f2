package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"restartbot/internal/runtime/supervisor"
	"restartbot/internal/transport/router"
)

const statusHistory = 5

func (a *App) builtinCommands() []router.Command {
	return []router.Command{{
		Route:       "status",
		Description: "host status",
		Usage:       "/status",
		Access:      router.AccessOwnerOnly,
		Timeout:     5 * time.Second,
		Handle:      a.cmdStatus,
	}}
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	// refreshes LastHealth for every running plugin
	a.pm.CheckHealth(ctx, nil)
	return req.Reply(ctx, a.statusText(time.Now()))
}

func (a *App) statusText(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "restartbot up %s, restart driver: %s\n", now.Sub(a.started).Truncate(time.Second), a.restart.Name())
	fmt.Fprintf(&b, "Announce sinks: %s\n", joinOrNone(a.notif.SinkNames()))
	b.WriteString(a.goroutineText())
	b.WriteString("Plugins:\n")
	for _, st := range a.pm.Snapshot() {
		state := "disabled"
		switch {
		case st.Quarantined:
			state = "quarantined: " + st.QuarantineErr
		case st.Running:
			state = "running"
		case st.Enabled:
			state = "stopped"
		}
		line := fmt.Sprintf("  %s: %s", st.Name, state)
		if h := st.LastHealth; !h.At.IsZero() {
			line += ", health " + h.Status
			if h.Err != "" {
				line += " (" + h.Err + ")"
			}
		}
		b.WriteString(line + "\n")
	}

	snap := a.sched.Snapshot()
	if len(snap.Schedules) > 0 {
		b.WriteString("Jobs:\n")
		for _, s := range snap.Schedules {
			line := fmt.Sprintf("  %s %s", s.Name, s.Spec)
			if !s.Next.IsZero() {
				line += ", next " + s.Next.Format("15:04:05")
			}
			if last, ok := a.sched.LastRun(s.Name); ok {
				if last.Err != "" {
					line += ", last failed: " + last.Err
				} else {
					line += ", last ok in " + last.Took.Truncate(time.Millisecond).String()
				}
			}
			b.WriteString(line + "\n")
		}
	}

	hist := a.notif.History()
	if n := len(hist); n > statusHistory {
		hist = hist[n-statusHistory:]
	}
	if len(hist) > 0 {
		b.WriteString("Recent announcements:\n")
		for _, h := range hist {
			line := fmt.Sprintf("  %s %q", h.At.Format("15:04:05"), h.Text)
			if len(h.Failed) > 0 {
				line += " failed: " + strings.Join(h.Failed, ",")
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// goroutineText reports active/started counts per supervisor, plus any
// goroutine that panicked or failed.
func (a *App) goroutineText() string {
	type named struct {
		name string
		s    *supervisor.Supervisor
	}
	sups := []named{{"app", a.sup}, {"commands", a.cmdm.Supervisor()}}
	if a.telegram != nil {
		sups = append(sups, named{"telegram", a.telegram.Supervisor()})
	}

	var parts, bad []string
	for _, sp := range sups {
		if sp.s == nil {
			continue
		}
		snap := sp.s.Snapshot()
		parts = append(parts, fmt.Sprintf("%s %d/%d", sp.name, snap.Counters.Active, snap.Counters.Started))
		for _, g := range snap.Goroutines {
			if g.Panics > 0 || g.LastErr != "" {
				bad = append(bad, fmt.Sprintf("  %s/%s: %d panics, last error %q\n", sp.name, g.Name, g.Panics, g.LastErr))
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Goroutines (active/started): " + strings.Join(parts, ", ") + "\n" + strings.Join(bad, "")
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "(none)"
	}
	return strings.Join(s, ", ")
}
