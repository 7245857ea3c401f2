package timedrestart

import "sync"

// State is the live schedule shared by the poller and the commands.
// Version increases on every successful change.
type State struct {
	mu      sync.RWMutex
	sched   Schedule
	version uint64
}

// NewState returns a State holding a copy of s at version 1.
func NewState(s Schedule) *State {
	return &State{sched: s.Clone(), version: 1}
}

// View runs fn under the read lock. fn must not retain s.
func (st *State) View(fn func(s Schedule, version uint64)) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	fn(st.sched, st.version)
}

// Snapshot returns a copy of the current schedule.
func (st *State) Snapshot() (Schedule, uint64) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sched.Clone(), st.version
}

// Update applies fn to a copy under the write lock and commits it only
// when fn returns nil.
func (st *State) Update(fn func(s *Schedule) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := st.sched.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	st.sched = next
	st.version++
	return nil
}
