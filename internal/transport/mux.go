package transport

import (
	"context"
	"errors"
	"fmt"
)

// Mux fans several adapters into one update stream and routes replies by
// ChatTarget.Transport.
type Mux struct {
	adapters []Adapter
	byName   map[string]Adapter
}

func NewMux(adapters ...Adapter) *Mux {
	m := &Mux{byName: map[string]Adapter{}}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		m.adapters = append(m.adapters, a)
		m.byName[a.Name()] = a
	}
	return m
}

func (m *Mux) Name() string { return "mux" }

// Len reports the number of adapters.
func (m *Mux) Len() int { return len(m.adapters) }

// Get returns the adapter registered under name.
func (m *Mux) Get(name string) (Adapter, bool) {
	a, ok := m.byName[name]
	return a, ok
}

func (m *Mux) Start(ctx context.Context, out chan<- Update) error {
	for i, a := range m.adapters {
		if err := a.Start(ctx, out); err != nil {
			// unwind the ones already started
			for _, started := range m.adapters[:i] {
				_ = started.Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", a.Name(), err)
		}
	}
	return nil
}

func (m *Mux) Stop(ctx context.Context) error {
	var errs []error
	for i := len(m.adapters) - 1; i >= 0; i-- {
		if err := m.adapters[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.adapters[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Mux) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error {
	a, ok := m.byName[to.Transport]
	if !ok {
		return fmt.Errorf("unknown transport %q", to.Transport)
	}
	return a.SendText(ctx, to, text, opt)
}

// UpdateMenuCommands forwards to every adapter that supports menus.
func (m *Mux) UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error {
	var errs []error
	for _, a := range m.adapters {
		if mu, ok := a.(CommandMenuUpdater); ok {
			if err := mu.UpdateMenuCommands(ctx, cmds); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
