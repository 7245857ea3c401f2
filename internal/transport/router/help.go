package router

import (
	"sort"
	"strings"
)

// helpText renders plain-text help for the top level or a command path.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(p)
		n, ok := cur.child(p)
		if !ok {
			if leaf, hit := alias[p]; hit && leaf.cmd != nil && len(full) == 0 {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "unknown command. try /help"
		}
		cur = n
		full = append(full, p)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	type row struct {
		name, desc string
		lock       bool
	}
	rows := make([]row, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: summarize(n), lock: n.ownerOnly()})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{"Commands (/help <cmd> for details):"}
	for _, r := range rows {
		line := "  /" + r.name
		if r.desc != "" {
			line += " - " + r.desc
		}
		if r.lock {
			line += " [owner]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpNode(cur *cmdNode, full []string) string {
	lines := []string{"/" + strings.Join(full, " ")}
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, d)
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "owner only")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "usage: "+u)
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "aliases: "+strings.Join(c.Aliases, ", "))
		}
	}
	if len(cur.children) > 0 {
		lines = append(lines, "subcommands:")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := "  /" + strings.Join(append(append([]string(nil), full...), name), " ")
			if d := summarize(n); d != "" {
				line += " - " + d
			}
			if n.ownerOnly() {
				line += " [owner]"
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func summarize(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	s := strings.Join(kids[:min(3, len(kids))], ", ")
	if len(kids) > 3 {
		s += ", ..."
	}
	return "subcommands: " + s
}
