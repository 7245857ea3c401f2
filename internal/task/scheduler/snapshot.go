package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.c
	loc := s.loc
	tz := s.cfg.Timezone
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	s.hmu.Lock()
	hist := make([]HistoryItem, 0, len(s.history))
	// walk the ring backwards from the newest entry
	n := len(s.history)
	newest := n - 1
	if n == s.histMax {
		newest = (s.next - 1 + n) % n
	}
	for i := 0; i < n; i++ {
		hist = append(hist, s.history[(newest-i+n)%n])
	}
	s.hmu.Unlock()

	return Snapshot{
		Running:   c != nil,
		Timezone:  tz,
		Schedules: items,
		History:   hist,
	}
}

// LastRun returns the newest history item for name.
func (s *Service) LastRun(name string) (HistoryItem, bool) {
	for _, h := range s.Snapshot().History {
		if h.Name == name {
			return h, true
		}
	}
	return HistoryItem{}, false
}
