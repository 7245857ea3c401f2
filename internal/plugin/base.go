package plugin

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"restartbot/internal/storage"
	logx "restartbot/pkg/logx"
)

var (
	ErrNoScheduler = errors.New("scheduler not available")
	ErrNoAnnouncer = errors.New("announcer not available")
	ErrNoRestarter = errors.New("restarter not available")
	ErrNoStore     = errors.New("storage not available")
)

// PluginBase is a small helper to make writing plugins faster and safer.
// Typical usage:
//
//	type Plugin struct { plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); p.Runner.Go(...); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   Deps
	Runner *Supervisor

	pluginName string
	ctx        context.Context

	jobsMu sync.Mutex
	jobs   []string
}

func (b *PluginBase) Supervisor() *Supervisor { return b.Runner }

// Health reports whether the plugin context is alive. Plugins with richer
// state override it.
func (b *PluginBase) Health(ctx context.Context) (string, error) {
	if b.ctx == nil {
		return "not_started", nil
	}
	if err := b.ctx.Err(); err != nil {
		return "stopped", err
	}
	return "ok", nil
}

// InitBase wires deps + logger.
func (b *PluginBase) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = NewSupervisor(ctx, WithLogger(b.Log), WithCancelOnError(false))
}

// StopBase removes scheduled jobs, cancels the runner and waits bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	b.jobsMu.Lock()
	jobs := b.jobs
	b.jobs = nil
	b.jobsMu.Unlock()
	if s := b.Deps.Scheduler; s != nil {
		for _, name := range jobs {
			s.Remove(name)
		}
	}

	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *PluginBase) Context() context.Context { return b.ctx }

// Every registers (or replaces) an interval job namespaced by plugin.
func (b *PluginBase) Every(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if b.Deps.Scheduler == nil {
		return "", ErrNoScheduler
	}
	id, err := b.Deps.Scheduler.AddInterval(b.ns(name), every, timeout, job)
	if err != nil {
		return "", err
	}
	b.jobsMu.Lock()
	if !slices.Contains(b.jobs, id) {
		b.jobs = append(b.jobs, id)
	}
	b.jobsMu.Unlock()
	return id, nil
}

func (b *PluginBase) ns(name string) string {
	switch {
	case b.pluginName == "":
		return name
	case name == "":
		return b.pluginName
	}
	return b.pluginName + ":" + name
}

func (b *PluginBase) Announce(ctx context.Context, text string) error {
	if b.Deps.Announcer == nil {
		return ErrNoAnnouncer
	}
	return b.Deps.Announcer.Announce(ctx, text)
}

func (b *PluginBase) Restart(ctx context.Context) error {
	if b.Deps.Restarter == nil {
		return ErrNoRestarter
	}
	return b.Deps.Restarter.Restart(ctx)
}

// AppendAudit writes an audit entry to storage. Best effort: callers log the error.
func (b *PluginBase) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	if b.Deps.Store == nil {
		return ErrNoStore
	}
	if e.Plugin == "" {
		e.Plugin = b.pluginName
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return b.Deps.Store.AppendAudit(ctx, e)
}
