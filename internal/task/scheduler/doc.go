// Package scheduler runs named jobs on fixed intervals on top of robfig/cron.
//
// Jobs are keyed by name (re-adding a name replaces the previous job), run
// with a per-run timeout, are skipped while a previous run is still in
// flight, and have panics recovered. A small run history is kept for
// diagnostics.
package scheduler
