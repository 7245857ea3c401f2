package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "restartbot/pkg/logx"
)

// AddInterval registers job every d. The first run happens one interval after registration.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.upsert(jobDef{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, job: job})
}

func (s *Service) upsert(d jobDef) (string, error) {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return "", errors.New("name required")
	}
	if d.job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		// not started yet: registered on Start()
		return d.name, nil
	}
	s.addLocked(&s.defs[len(s.defs)-1])
	fields := []logx.Field{logx.String("name", d.name), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout)}
	if next := s.previewNextRunsLocked(d, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return d.name, nil
}

// Remove unschedules the named job. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addLocked(d *jobDef) {
	def := *d
	parent := s.runCtx
	d.entryID = s.c.Schedule(cron.Every(def.every), cron.FuncJob(func() { s.runJob(parent, def) }))
}

func (s *Service) runJob(parent context.Context, d jobDef) {
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.job(ctx)
	took := time.Since(start)

	item := HistoryItem{Name: d.name, Started: start, Took: took}
	if err != nil {
		item.Err = err.Error()
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Trace("job done", logx.String("name", d.name), logx.Duration("took", took))
	}
	s.record(item)
}

func (s *Service) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	max := s.histMax
	if len(s.history) < max {
		s.history = append(s.history, it)
		return
	}
	s.history[s.next] = it
	s.next = (s.next + 1) % max
}

// previewNextRunsLocked returns upcoming run times for debug logs. Call with s.mu held.
func (s *Service) previewNextRunsLocked(d jobDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched := cron.Every(d.every)
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
