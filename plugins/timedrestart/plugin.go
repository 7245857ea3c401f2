package timedrestart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"restartbot/internal/plugin"
	logx "restartbot/pkg/logx"
)

const Name = "timed_restart"

// staleTicks is how many poll intervals may pass without a completed check
// before health reports stale.
const staleTicks = 3

type Plugin struct {
	plugin.PluginBase

	now func() time.Time

	mu        sync.RWMutex
	cfg       settings
	metrics   *pluginMetrics
	state     *State
	ctrl      *Controller
	poller    *Poller
	startedAt time.Time
	stale     bool
}

func New() *Plugin {
	return &Plugin{now: time.Now, cfg: defaultSettings()}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	p.metrics = newPluginMetrics(deps.Metrics, p.Log)
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decodeSettings(raw)
	return err
}

func decodeSettings(raw json.RawMessage) (settings, error) {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return settings{}, err
	}
	return parseSettings(c)
}

// OnConfigChange is called before Start and on every config change while
// running. A changed document reloads the schedule from it.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	s, err := decodeSettings(raw)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.cfg
	p.cfg = s
	ctrl, poller := p.ctrl, p.poller
	p.mu.Unlock()

	if poller == nil {
		return nil
	}
	poller.Apply(s)
	if s.document != old.document {
		ctrl.SetStore(NewStore(p.Deps.Store, s.document, p.Log))
		if _, err := ctrl.Reload(ctx); err != nil {
			p.Log.Warn("schedule load failed; defaults in use", logx.String("doc", s.document), logx.Err(err))
		}
	}
	if s.pollInterval != old.pollInterval || s.taskTimeout != old.taskTimeout {
		if err := p.schedule(s); err != nil {
			return err
		}
	}
	p.Log.Info("timed restart config applied",
		logx.Duration("poll_interval", s.pollInterval),
		logx.Duration("grace", s.grace),
		logx.Duration("cooldown", s.cooldown),
		logx.Bool("zero_warning", s.zeroWarning),
	)
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)

	p.mu.RLock()
	s := p.cfg
	p.mu.RUnlock()

	store := NewStore(p.Deps.Store, s.document, p.Log)
	sched, err := store.Load(ctx)
	if err != nil {
		p.Log.Warn("schedule load failed; defaults in use", logx.String("doc", s.document), logx.Err(err))
	}
	state := NewState(sched)
	poller := NewPoller(state, s, p.Announce, p.Restart, p.metrics, p.Log)
	poller.now = p.now

	p.mu.Lock()
	p.state = state
	p.ctrl = NewController(state, store, p.Log)
	p.poller = poller
	p.startedAt = p.now()
	p.stale = false
	p.mu.Unlock()

	if err := p.schedule(s); err != nil {
		return err
	}
	p.Log.Info("timed restart loaded",
		logx.Strs("restart_times", sched.RestartTimes),
		logx.String("timezone", FormatTimezone(sched.Timezone)),
		logx.Duration("poll_interval", s.pollInterval),
	)
	return nil
}

func (p *Plugin) schedule(s settings) error {
	if _, err := p.Every("poll", s.pollInterval, s.taskTimeout, p.tick); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	return nil
}

func (p *Plugin) tick(ctx context.Context) (err error) {
	p.mu.RLock()
	poller := p.poller
	p.mu.RUnlock()
	if poller == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			p.metrics.failures.WithLabelValues("tick").Inc()
			p.Log.Error("schedule check panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return poller.Tick(ctx)
}

func (p *Plugin) Stop(ctx context.Context) error {
	err := p.StopBase(ctx)
	p.mu.Lock()
	p.ctrl = nil
	p.poller = nil
	p.state = nil
	p.mu.Unlock()
	return err
}

func (p *Plugin) HealthLoopEnabled() bool { return true }

// Health reports stale when no schedule check completed for a few poll intervals.
func (p *Plugin) Health(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.poller == nil {
		return "not_started", nil
	}
	// LastTick does not wait for a running check
	ref := p.poller.LastTick()
	if ref.IsZero() {
		ref = p.startedAt
	}
	limit := staleTicks * p.cfg.pollInterval
	since := p.now().Sub(ref)
	if since > limit {
		if !p.stale {
			p.Log.Warn("no schedule check completed recently", logx.Duration("since", since), logx.Duration("limit", limit))
		}
		p.stale = true
		return "stale", fmt.Errorf("no schedule check for %s", since.Truncate(time.Second))
	}
	p.stale = false
	return "ok", nil
}

// running returns the live controller and poller.
func (p *Plugin) running() (*Controller, *Poller, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ctrl == nil {
		return nil, nil, errNotRunning
	}
	return p.ctrl, p.poller, nil
}

var errNotRunning = errors.New("timed restart is not running")

// Upcoming lists firings within horizon for the current schedule.
func (p *Plugin) Upcoming(horizon time.Duration) ([]Firing, error) {
	ctrl, _, err := p.running()
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	opt := p.cfg.evalOptions()
	p.mu.RUnlock()
	s, _ := ctrl.state.Snapshot()
	return Upcoming(p.now().UTC(), s, opt, horizon), nil
}
