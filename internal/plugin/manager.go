package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"restartbot/internal/config"
	"restartbot/internal/metrics"
	"restartbot/internal/runtime/lifecycle"
	"restartbot/internal/transport/router"
	logx "restartbot/pkg/logx"
)

const callTimeout = 10 * time.Second

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

// Manager owns plugin lifecycles and reconciles them against config.
type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps Deps
	cmdm *router.CommandManager

	reg    map[string]Plugin
	run    map[string]bool
	inited map[string]bool
	// last config blob hash per running plugin (skips redundant OnConfigChange)
	lastRawHash map[string]uint64

	// baseCtx outlives the call-scoped contexts passed to StartAll/OnConfigUpdate.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	quarantine    map[string]quarantineState
	healthStarted map[string]bool
	healthLast    map[string]HealthResult

	events *prometheus.CounterVec
}

func NewManager(log logx.Logger, cfgm *ConfigManager, deps Deps, cmdm *router.CommandManager) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	pm := &Manager{
		log:           log,
		cfgm:          cfgm,
		deps:          deps,
		cmdm:          cmdm,
		reg:           map[string]Plugin{},
		run:           map[string]bool{},
		inited:        map[string]bool{},
		lastRawHash:   map[string]uint64{},
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		pctx:          map[string]context.Context{},
		pcancel:       map[string]context.CancelFunc{},
		quarantine:    map[string]quarantineState{},
		healthStarted: map[string]bool{},
		healthLast:    map[string]HealthResult{},
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restartbot",
		Name:      "plugin_events_total",
		Help:      "Plugin lifecycle events by plugin and event.",
	}, []string{"plugin", "event"})
	if ev, err := metrics.Register(deps.Metrics, events); err == nil {
		events = ev
	} else {
		log.Warn("plugin metrics not registered", logx.Err(err))
	}
	pm.events = events
	return pm
}

func (pm *Manager) emit(name, event string) {
	pm.events.WithLabelValues(name, event).Inc()
}

// BindContext cancels every plugin context once appCtx is done. First bind wins.
func (pm *Manager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	pm.mu.Unlock()
	context.AfterFunc(appCtx, pm.baseCancel)
}

func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
	pm.refreshRegistryLocked(pm.cfgm.Get())
}

// Running reports whether the named plugin is running.
func (pm *Manager) Running(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.run[name]
}

func (pm *Manager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	pm.reconcile(pm.cfgm.Get())
	return nil
}

func (pm *Manager) StopAll(ctx context.Context, reason lifecycle.StopReason) {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	pm.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(pm.cfgm.Get())
	pm.mu.Unlock()
}

func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	pm.BindContext(ctx)
	pm.reconcile(cfg)
}

func (pm *Manager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	st, ok := pm.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(pm.quarantine, name)
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
		return false
	}
	return ok
}

func (pm *Manager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: prev.count + 1}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", errStr))
	pm.emit(name, "quarantined")
}

func (pm *Manager) stopOne(stopCtx context.Context, name string, reason lifecycle.StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	if cancel != nil {
		cancel()
	}
	// a misbehaving plugin must not block shutdown forever
	done := make(chan struct{})
	go func() {
		if err := pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) }); err != nil {
			pm.log.Warn("plugin stop returned error", logx.String("plugin", name), logx.Err(err))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		pm.emit(name, "stop_timeout")
	}

	pm.mu.Lock()
	pm.run[name] = false
	pm.healthLast[name] = HealthResult{Plugin: name, At: time.Now(), Status: "stopped"}
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	delete(pm.healthStarted, name)
	pm.mu.Unlock()

	pm.emit(name, "stopped")
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", time.Since(start)))
}

func (pm *Manager) reconcile(cfg *Config) {
	if cfg == nil {
		cfg = &Config{}
	}
	type op struct {
		name    string
		p       Plugin
		raw     PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       p,
			raw:     raw,
			rawHash: config.CanonicalHashJSON(raw.Config),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].name < ops[j].name })

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			pm.enable(o.name, o.p, o.raw, o.rawHash)
		case !o.enabled && o.run:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, lifecycle.StopPluginDisable)
			cancel()
		case o.enabled && o.run:
			pm.reconfigure(o.name, o.p, o.raw, o.rawHash)
		}
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(cfg)
	pm.mu.Unlock()
}

func (pm *Manager) enable(name string, p Plugin, raw PluginConfigRaw, rawHash uint64) {
	if pm.isQuarantined(name, rawHash) {
		pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", name))
		return
	}
	if err := validateStandardTimeouts(name, raw.Config); err != nil {
		pm.setQuarantine(name, rawHash, err, "timeouts")
		return
	}

	pctx, cancel := context.WithCancel(pm.baseCtx)
	pm.mu.Lock()
	needInit := !pm.inited[name]
	deps := pm.deps
	pm.mu.Unlock()

	// Init runs once per process; later enable cycles only reapply config.
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			pm.emit(name, "init_failed")
			cancel()
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config validate: %w", err), "validate")
			cancel()
			return
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config apply: %w", err), "config")
			cancel()
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		pm.emit(name, "start_failed")
		cancel()
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pctx[name] = pctx
	pm.pcancel[name] = cancel
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(name, "started")
	if hc, ok := p.(HealthChecker); ok {
		pm.startHealthLoop(name, p, hc)
	}
}

func (pm *Manager) reconfigure(name string, p Plugin, raw PluginConfigRaw, rawHash uint64) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	pm.mu.Lock()
	oldHash := pm.lastRawHash[name]
	pctx := pm.pctx[name]
	pm.mu.Unlock()
	if rawHash == oldHash {
		pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", name))
		return
	}

	quarantine := func(err error, stage string) {
		pm.setQuarantine(name, rawHash, err, stage)
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, lifecycle.StopPluginQuarantine)
		cancel()
	}
	if err := validateStandardTimeouts(name, raw.Config); err != nil {
		quarantine(err, "timeouts")
		return
	}
	if pctx == nil {
		pctx = pm.baseCtx
	}
	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		ccancel()
		if err != nil {
			quarantine(fmt.Errorf("config validate: %w", err), "validate")
			return
		}
	}
	cctx, ccancel := context.WithTimeout(pctx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
	ccancel()
	if err != nil {
		quarantine(fmt.Errorf("config apply: %w", err), "config")
		return
	}
	pm.emit(name, "config_applied")
	pm.mu.Lock()
	pm.lastRawHash[name] = rawHash
	pm.mu.Unlock()
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times out, plugin ctx is cancelled.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
	}

	cancel()
	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("start timeout (%s): %w", timeout, err)
		}
		return fmt.Errorf("start timeout (%s)", timeout)
	case <-grace.C:
		return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
	}
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call", logx.String("call", label), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *Manager) refreshRegistryLocked(cfg *Config) {
	if pm.cmdm == nil {
		return
	}
	var cmds []Command
	for name, p := range pm.reg {
		if !pm.run[name] {
			continue
		}
		pto, has := pluginCommandTimeout(cfg, name)
		for _, c := range pm.safeCommands(name, p) {
			c.PluginName = name
			if has && c.Timeout <= 0 {
				c.Timeout = pto
			}
			cmds = append(cmds, c)
		}
	}
	pm.cmdm.SetRegistry(cmds)
}

func (pm *Manager) safeCommands(name string, p Plugin) (out []Command) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin Commands()", logx.String("plugin", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out = nil
		}
	}()
	return p.Commands()
}

// Timeouts is the standard per-plugin "timeouts" object.
type Timeouts struct {
	Command string `json:"command,omitempty"`
	Task    string `json:"task,omitempty"`
}

func pluginCommandTimeout(cfg *Config, plugin string) (time.Duration, bool) {
	if cfg == nil {
		return 0, false
	}
	raw, ok := cfg.Plugins[plugin]
	if !ok || len(raw.Config) == 0 {
		return 0, false
	}
	var w struct {
		Timeouts Timeouts `json:"timeouts"`
	}
	if err := json.Unmarshal(raw.Config, &w); err != nil {
		return 0, false
	}
	d, err := time.ParseDuration(w.Timeouts.Command)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// validateStandardTimeouts checks the "timeouts" object when present.
func validateStandardTimeouts(plugin string, raw json.RawMessage) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	b, ok := top["timeouts"]
	if !ok || len(b) == 0 || string(b) == "null" {
		return nil
	}
	var tm map[string]json.RawMessage
	if err := json.Unmarshal(b, &tm); err != nil {
		return fmt.Errorf("plugin %s: timeouts must be an object", plugin)
	}
	for k, v := range tm {
		if k != "command" && k != "task" {
			return fmt.Errorf("plugin %s: unknown timeouts field %q (supported: command, task)", plugin, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %w", plugin, k, err)
		}
		if s == "" {
			continue
		}
		if d, err := time.ParseDuration(s); err != nil || d < 0 {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %q", plugin, k, s)
		}
	}
	return nil
}

// ValidateConfig validates enabled plugin configs BEFORE a new config is
// committed. It does not call Init/Start/Stop.
func (pm *Manager) ValidateConfig(ctx context.Context, cfg *Config) error {
	pm.mu.Lock()
	type target struct {
		name string
		p    Plugin
		raw  json.RawMessage
	}
	var targets []target
	for name, p := range pm.reg {
		if raw, ok := cfg.Plugins[name]; ok && raw.Enabled {
			targets = append(targets, target{name, p, raw.Config})
		}
	}
	pm.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })

	for _, t := range targets {
		if err := validateStandardTimeouts(t.name, t.raw); err != nil {
			return err
		}
		v, ok := t.p.(ConfigValidator)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.safeCall("plugin.validate."+t.name, func() error { return v.ValidateConfig(cctx, t.raw) })
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: config validate: %w", t.name, err)
		}
	}
	return nil
}
