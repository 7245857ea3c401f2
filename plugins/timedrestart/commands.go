package timedrestart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"restartbot/internal/plugin"
	"restartbot/internal/storage"
	logx "restartbot/pkg/logx"
)

const route = "timed_restart"

func (p *Plugin) Commands() []plugin.Command {
	p.mu.RLock()
	timeout := p.cfg.commandTimeout
	p.mu.RUnlock()

	cmd := func(sub, desc, usage string, access plugin.Access, h plugin.HandlerFunc) plugin.Command {
		r := route
		if sub != "" {
			r += " " + sub
		}
		return plugin.Command{Route: r, Description: desc, Usage: usage, Access: access, Timeout: timeout, Handle: h}
	}
	group := cmd("", "timed server restarts", "/timed_restart <list|add|remove|timezone|reload|status|help>", plugin.AccessEveryone, p.cmdHelp)
	group.Aliases = []string{"tr"}
	return []plugin.Command{
		group,
		cmd("help", "show timed restart usage", "/timed_restart help", plugin.AccessEveryone, p.cmdHelp),
		cmd("list", "list restart times", "/timed_restart list", plugin.AccessEveryone, p.cmdList),
		cmd("status", "show the next restart", "/timed_restart status", plugin.AccessEveryone, p.cmdStatus),
		cmd("add", "add a restart time", "/timed_restart add <HH:MM>", plugin.AccessOwnerOnly, p.cmdAdd),
		cmd("remove", "remove a restart time", "/timed_restart remove <HH:MM>", plugin.AccessOwnerOnly, p.cmdRemove),
		cmd("timezone", "set the UTC offset", "/timed_restart timezone <-12..12>", plugin.AccessOwnerOnly, p.cmdTimezone),
		cmd("reload", "reload the stored schedule", "/timed_restart reload", plugin.AccessOwnerOnly, p.cmdReload),
	}
}

func (p *Plugin) cmdHelp(ctx context.Context, req *plugin.Request) error {
	return req.Reply(ctx, HelpText())
}

func (p *Plugin) cmdList(ctx context.Context, req *plugin.Request) error {
	c, _, err := p.running()
	if err != nil {
		return err
	}
	times := c.List()
	if len(times) == 0 {
		return req.Reply(ctx, "Restart times: (none)")
	}
	return req.Reply(ctx, "Restart times: "+strings.Join(times, ", "))
}

const statusHorizon = time.Hour

func (p *Plugin) cmdStatus(ctx context.Context, req *plugin.Request) error {
	c, poller, err := p.running()
	if err != nil {
		return err
	}
	s, _ := c.state.Snapshot()
	now := p.now().UTC()

	lines := []string{
		fmt.Sprintf("Timezone: %s, local time %s", FormatTimezone(s.Timezone), LocalTime(now, s.Timezone)),
	}
	if next, ok := NextRestart(now, s); ok {
		local := LocalTime(next, s.Timezone)
		lines = append(lines, fmt.Sprintf("Next restart: %s (in %s)", local, next.Sub(now).Truncate(time.Second)))
	} else {
		lines = append(lines, "Next restart: none scheduled")
	}
	if due, err := p.Upcoming(statusHorizon); err == nil && len(due) > 0 {
		lines = append(lines, fmt.Sprintf("Due within %s:", statusHorizon))
		for _, f := range due {
			lines = append(lines, fmt.Sprintf("  %s %s", LocalTime(f.When, s.Timezone), f.Describe()))
		}
	}
	if last := poller.LastTick(); !last.IsZero() {
		lines = append(lines, fmt.Sprintf("Last check: %s ago", p.now().Sub(last).Truncate(time.Second)))
	} else {
		lines = append(lines, "Last check: not yet")
	}
	if last := poller.LastRestart(); !last.IsZero() {
		lines = append(lines, "Last restart: "+last.UTC().Format(time.RFC3339))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (p *Plugin) cmdAdd(ctx context.Context, req *plugin.Request) error {
	c, _, err := p.running()
	if err != nil {
		return err
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /timed_restart add <HH:MM>")
	}
	t, err := c.Add(ctx, req.Args[0])
	p.audit(ctx, req, "add", req.Args[0], err)
	switch {
	case errors.Is(err, ErrInvalidTime):
		return req.Reply(ctx, fmt.Sprintf("Invalid time %q, expected HH:MM (24h)", req.Args[0]))
	case errors.Is(err, ErrAlreadyExists):
		return req.Reply(ctx, fmt.Sprintf("Restart time %s already exists", t))
	}
	return req.Reply(ctx, withSaveWarning(fmt.Sprintf("Added restart time %s", t), err))
}

func (p *Plugin) cmdRemove(ctx context.Context, req *plugin.Request) error {
	c, _, err := p.running()
	if err != nil {
		return err
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /timed_restart remove <HH:MM>")
	}
	t, err := c.Remove(ctx, req.Args[0])
	p.audit(ctx, req, "remove", req.Args[0], err)
	switch {
	case errors.Is(err, ErrInvalidTime):
		return req.Reply(ctx, fmt.Sprintf("Invalid time %q, expected HH:MM (24h)", req.Args[0]))
	case errors.Is(err, ErrNotFound):
		return req.Reply(ctx, fmt.Sprintf("Restart time %s does not exist", t))
	}
	return req.Reply(ctx, withSaveWarning(fmt.Sprintf("Removed restart time %s", t), err))
}

func (p *Plugin) cmdTimezone(ctx context.Context, req *plugin.Request) error {
	c, _, err := p.running()
	if err != nil {
		return err
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /timed_restart timezone <-12..12>")
	}
	tz, err := c.SetTimezone(ctx, req.Args[0])
	p.audit(ctx, req, "timezone", req.Args[0], err)
	switch {
	case errors.Is(err, ErrTimezoneFormat):
		return req.Reply(ctx, "Invalid timezone format, expected an integer")
	case errors.Is(err, ErrTimezoneRange):
		return req.Reply(ctx, fmt.Sprintf("Invalid timezone, must be between %d and %d", MinTimezone, MaxTimezone))
	}
	return req.Reply(ctx, withSaveWarning("Timezone set to "+FormatTimezone(tz), err))
}

func (p *Plugin) cmdReload(ctx context.Context, req *plugin.Request) error {
	c, _, err := p.running()
	if err != nil {
		return err
	}
	s, err := c.Reload(ctx)
	p.audit(ctx, req, "reload", c.Store().Document(), err)
	msg := "Schedule reloaded, timezone " + FormatTimezone(s.Timezone)
	if err != nil {
		msg += "\n(stored schedule unreadable, defaults in use: " + err.Error() + ")"
	}
	return req.Reply(ctx, msg)
}

func withSaveWarning(msg string, err error) string {
	if err == nil {
		return msg
	}
	if errors.Is(err, storage.ErrDisabled) {
		return msg + "\n(warning: storage disabled, change kept in memory only)"
	}
	return msg + "\n(warning: " + err.Error() + ")"
}

// audit records a schedule mutation. Best effort.
func (p *Plugin) audit(ctx context.Context, req *plugin.Request, action, target string, err error) {
	e := storage.AuditEntry{
		ActorID:   req.FromID,
		Transport: req.Chat.Transport,
		ChatID:    req.Chat.ChatID,
		Action:    action,
		Target:    target,
		OK:        err == nil,
	}
	if req.Msg != nil {
		e.ActorName = req.Msg.FromUsername
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := p.AppendAudit(ctx, e); aerr != nil && !errors.Is(aerr, plugin.ErrNoStore) {
		p.Log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
