package plugin

import (
	"context"
	"sort"
	"time"

	logx "restartbot/pkg/logx"
)

const (
	healthInterval   = 30 * time.Second
	healthTimeout    = 3 * time.Second
	healthFailThresh = 3
)

func (pm *Manager) startHealthLoop(name string, p Plugin, hc HealthChecker) {
	// Opt-in only: PluginBase gives every plugin a trivial Health().
	if oi, ok := p.(HealthLoopOptIn); !ok || !oi.HealthLoopEnabled() {
		return
	}
	sp, ok := p.(SupervisorProvider)
	if !ok || sp.Supervisor() == nil {
		return
	}

	pm.mu.Lock()
	if pm.healthStarted[name] {
		pm.mu.Unlock()
		return
	}
	pm.healthStarted[name] = true
	pm.mu.Unlock()

	sp.Supervisor().Go0("health.loop", func(ctx context.Context) {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r := pm.checkOne(ctx, name, hc)
				if r.Fails == healthFailThresh {
					pm.log.Warn("plugin health failing repeatedly", logx.String("plugin", name), logx.Int("fails", r.Fails), logx.String("err", r.Err))
					pm.emit(name, "unhealthy")
				}
			}
		}
	})
}

func (pm *Manager) checkOne(ctx context.Context, name string, hc HealthChecker) HealthResult {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	status, err := hc.Health(hctx)
	cancel()

	pm.mu.Lock()
	defer pm.mu.Unlock()
	r := HealthResult{Plugin: name, At: time.Now(), Status: status}
	if err != nil {
		r.Err = err.Error()
		r.Fails = pm.healthLast[name].Fails + 1
	}
	pm.healthLast[name] = r
	return r
}

// CheckHealth runs health checks now. Empty names means every running plugin.
func (pm *Manager) CheckHealth(ctx context.Context, names []string) []HealthResult {
	pm.mu.Lock()
	if len(names) == 0 {
		for name, running := range pm.run {
			if running {
				names = append(names, name)
			}
		}
	}
	type target struct {
		name    string
		hc      HealthChecker
		running bool
		pctx    context.Context
	}
	targets := make([]target, 0, len(names))
	for _, name := range names {
		p := pm.reg[name]
		if p == nil {
			continue
		}
		hc, _ := p.(HealthChecker)
		targets = append(targets, target{name, hc, pm.run[name], pm.pctx[name]})
	}
	pm.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })

	out := make([]HealthResult, 0, len(targets))
	for _, t := range targets {
		if !t.running || t.hc == nil {
			r := HealthResult{Plugin: t.name, At: time.Now(), Status: "stopped"}
			if t.running {
				r.Status = "running"
			}
			out = append(out, r)
			continue
		}
		// bounded by the plugin context and the caller's
		hctx, cancel := context.WithCancel(t.pctx)
		stop := context.AfterFunc(ctx, cancel)
		out = append(out, pm.checkOne(hctx, t.name, t.hc))
		stop()
		cancel()
	}
	return out
}

// Snapshot lists every registered plugin with its runtime state.
func (pm *Manager) Snapshot() []Status {
	cfg := pm.cfgm.Get()
	pm.mu.Lock()
	defer pm.mu.Unlock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		st := Status{Name: name, Running: pm.run[name], LastHealth: pm.healthLast[name]}
		if cfg != nil {
			st.Enabled = cfg.Plugins[name].Enabled
		}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined = true
			st.QuarantineErr = q.err
			st.QuarantineSince = q.since
		}
		out = append(out, st)
	}
	return out
}
