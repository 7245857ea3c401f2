package timedrestart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	logx "restartbot/pkg/logx"
)

// Controller implements the schedule commands on the live state.
// Mutations hold the state lock across validate, change and save.
type Controller struct {
	state *State
	log   logx.Logger

	mu    sync.Mutex
	store *Store
}

func NewController(state *State, store *Store, log logx.Logger) *Controller {
	return &Controller{state: state, store: store, log: log}
}

func (c *Controller) Store() *Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func (c *Controller) SetStore(s *Store) {
	c.mu.Lock()
	c.store = s
	c.mu.Unlock()
}

// Reload replaces the in-memory schedule with the stored one. Unsaved
// edits are discarded. A load error is returned alongside the schedule
// that is now live (the defaults).
func (c *Controller) Reload(ctx context.Context) (Schedule, error) {
	loaded, err := c.Store().Load(ctx)
	_ = c.state.Update(func(s *Schedule) error {
		*s = loaded.Clone()
		return nil
	})
	c.log.Info("schedule reloaded", logx.Strs("restart_times", loaded.RestartTimes), logx.Int("timezone", loaded.Timezone))
	return loaded, err
}

func (c *Controller) List() []string {
	s, _ := c.state.Snapshot()
	return s.RestartTimes
}

// Add inserts a restart time given as "HH:MM" or "H:MM" and returns it normalized.
func (c *Controller) Add(ctx context.Context, raw string) (string, error) {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		return "", err
	}
	norm := t.String()
	return norm, c.mutate(ctx, func(s *Schedule) error {
		if s.Has(norm) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, norm)
		}
		s.RestartTimes = append(s.RestartTimes, norm)
		return nil
	})
}

func (c *Controller) Remove(ctx context.Context, raw string) (string, error) {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		return "", err
	}
	norm := t.String()
	return norm, c.mutate(ctx, func(s *Schedule) error {
		i := slices.Index(s.RestartTimes, norm)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, norm)
		}
		s.RestartTimes = slices.Delete(s.RestartTimes, i, i+1)
		return nil
	})
}

func (c *Controller) SetTimezone(ctx context.Context, raw string) (int, error) {
	tz, err := ParseTimezone(raw)
	if err != nil {
		return 0, err
	}
	return tz, c.mutate(ctx, func(s *Schedule) error {
		s.Timezone = tz
		return nil
	})
}

// mutate applies fn and saves the result. A failed save keeps the change
// in memory and returns an error wrapping ErrNotSaved.
func (c *Controller) mutate(ctx context.Context, fn func(s *Schedule) error) error {
	store := c.Store()
	var saveErr error
	err := c.state.Update(func(s *Schedule) error {
		if err := fn(s); err != nil {
			return err
		}
		saveErr = store.Save(ctx, *s)
		return nil
	})
	if err != nil {
		return err
	}
	if saveErr != nil {
		c.log.Warn("schedule changed but not saved", logx.String("doc", store.Document()), logx.Err(saveErr))
		return fmt.Errorf("%w: %w", ErrNotSaved, saveErr)
	}
	return nil
}
