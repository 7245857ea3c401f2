package timedrestart

import (
	"strconv"
	"strings"
)

func renderWarning(tmpl string, minutes int) string {
	return strings.NewReplacer("{minutes}", strconv.Itoa(minutes)).Replace(tmpl)
}

var helpLines = []string{
	"Timed restart commands:",
	"  !!timed_restart list            show restart times",
	"  !!timed_restart add <HH:MM>     add a restart time",
	"  !!timed_restart remove <HH:MM>  remove a restart time",
	"  !!timed_restart timezone <n>    set UTC offset (-12..12)",
	"  !!timed_restart reload          reload the stored schedule",
	"  !!timed_restart status          show the next restart",
	"  !!timed_restart help            show this help",
	"'/' works in place of '!!', and 'tr' in place of 'timed_restart'.",
}

// HelpText is the static usage text, one usage per line.
func HelpText() string { return strings.Join(helpLines, "\n") }
