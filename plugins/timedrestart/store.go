package timedrestart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"restartbot/internal/storage"
	logx "restartbot/pkg/logx"
)

const DefaultDocument = "timed_restart/config.json"

// Documents is the persistence the store needs; storage.Store satisfies it.
type Documents interface {
	ReadDocument(ctx context.Context, name string) ([]byte, error)
	WriteDocument(ctx context.Context, name string, data []byte) error
}

// Store loads and saves the schedule document.
type Store struct {
	docs Documents
	name string
	log  logx.Logger
}

// NewStore returns a store for document name. A nil docs keeps the
// schedule in memory only: Load returns defaults and Save fails with
// storage.ErrDisabled.
func NewStore(docs Documents, name string, log logx.Logger) *Store {
	if name == "" {
		name = DefaultDocument
	}
	return &Store{docs: docs, name: name, log: log}
}

func (s *Store) Document() string { return s.name }

// storedSchedule distinguishes absent keys from zero values.
type storedSchedule struct {
	RestartTimes   *[]string `json:"restart_times"`
	WarningMinutes *[]int    `json:"warning_minutes"`
	Timezone       *int      `json:"timezone"`
}

// Load always returns a usable schedule.
//
//   - document missing: the default is written and returned
//   - document unreadable or corrupt: the default is returned, the document
//     is left as is, and the error (a *ParseError when corrupt) is returned
//   - keys missing: each one is defaulted on its own
func (s *Store) Load(ctx context.Context) (Schedule, error) {
	def := DefaultSchedule()
	if s.docs == nil {
		return def, nil
	}
	b, err := s.docs.ReadDocument(ctx, s.name)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Info("schedule document missing; writing defaults", logx.String("doc", s.name))
		if err := s.Save(ctx, def); err != nil {
			s.log.Warn("failed to write default schedule", logx.String("doc", s.name), logx.Err(err))
		}
		return def, nil
	}
	if err != nil {
		s.log.Warn("failed to read schedule; using defaults", logx.String("doc", s.name), logx.Err(err))
		return def, fmt.Errorf("read %s: %w", s.name, err)
	}

	var raw storedSchedule
	if err := json.Unmarshal(b, &raw); err != nil {
		perr := &ParseError{Document: s.name, Err: err}
		s.log.Warn("schedule document corrupt; using defaults", logx.String("doc", s.name), logx.Err(err))
		return def, perr
	}

	out := def
	if raw.RestartTimes != nil {
		out.RestartTimes = *raw.RestartTimes
	}
	if raw.WarningMinutes != nil {
		out.WarningMinutes = *raw.WarningMinutes
	}
	if raw.Timezone != nil {
		out.Timezone = *raw.Timezone
	}
	out, problems := sanitize(out)
	for _, p := range problems {
		s.log.Warn("schedule document fixed on load", logx.String("doc", s.name), logx.String("problem", p))
	}
	return out, nil
}

// Save replaces the whole document.
func (s *Store) Save(ctx context.Context, sched Schedule) error {
	if s.docs == nil {
		return storage.ErrDisabled
	}
	if err := sched.Validate(); err != nil {
		return fmt.Errorf("save %s: %w", s.name, err)
	}
	b, err := json.MarshalIndent(sched, "", "  ")
	if err != nil {
		return err
	}
	if err := s.docs.WriteDocument(ctx, s.name, append(b, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	s.log.Info("schedule saved",
		logx.String("doc", s.name),
		logx.Strs("restart_times", sched.RestartTimes),
		logx.Any("warning_minutes", sched.WarningMinutes),
		logx.Int("timezone", sched.Timezone),
	)
	return nil
}
