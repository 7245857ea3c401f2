package router

import (
	"sort"
	"strings"
)

type cmdNode struct {
	name     string
	path     []string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.TrimSpace(route))
}

func (r *cmdNode) add(route []string, c Command) *cmdNode {
	cur := r
	for i, tok := range route {
		n, ok := cur.children[tok]
		if !ok {
			n = &cmdNode{name: tok, path: route[:i+1:i+1], children: map[string]*cmdNode{}}
			cur.children[tok] = n
		}
		cur = n
	}
	cur.cmd = &c
	return cur
}

func (r *cmdNode) child(name string) (*cmdNode, bool) {
	n, ok := r.children[name]
	return n, ok
}

func (r *cmdNode) childNames() []string {
	out := make([]string, 0, len(r.children))
	for k := range r.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ownerOnly reports whether every command at or below n is owner-only.
func (r *cmdNode) ownerOnly() bool {
	if r.cmd != nil && r.cmd.Access == AccessEveryone {
		return false
	}
	for _, ch := range r.children {
		if !ch.ownerOnly() {
			return false
		}
	}
	return r.cmd != nil || len(r.children) > 0
}
