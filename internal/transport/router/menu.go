package router

import (
	"sort"
	"strings"

	kit "restartbot/internal/transport"
)

// sanitizeMenuCommand converts a route or alias into a Telegram-safe bot
// command name ([a-z0-9_]{1,32}, starting with a letter).
func sanitizeMenuCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// menuNameFromRoute: ["timed_restart","add"] -> "timed_restart_add".
func menuNameFromRoute(route []string) (string, bool) {
	out := sanitizeMenuCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildMenuCommands lists top-level commands first, then multi-token leaf
// shortcuts. Telegram accepts at most 100 entries.
func buildMenuCommands(root *cmdNode, leaves []Command) []kit.BotCommand {
	type entry struct {
		cmd, desc string
		prio      int
	}
	byCmd := map[string]entry{}
	add := func(cmd, desc string, prio int) {
		cmd = sanitizeMenuCommand(cmd)
		if cmd == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		if cur, ok := byCmd[cmd]; ok && cur.prio <= prio {
			return
		}
		byCmd[cmd] = entry{cmd: cmd, desc: desc, prio: prio}
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(name, summarize(n), 0)
	}
	for _, c := range leaves {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = strings.Join(route, " ")
		}
		add(strings.Join(route, "_"), desc, 1)
	}

	entries := make([]entry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}
		return entries[i].cmd < entries[j].cmd
	})
	out := make([]kit.BotCommand, 0, min(len(entries), 100))
	for _, e := range entries {
		if len(out) == 100 {
			break
		}
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
