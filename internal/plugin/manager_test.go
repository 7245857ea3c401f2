package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"restartbot/internal/config"
	"restartbot/internal/runtime/lifecycle"
	"restartbot/internal/transport/router"
	logx "restartbot/pkg/logx"
)

type fakePlugin struct {
	PluginBase
	inits, starts, stops, configs atomic.Int32
	panicStart                    bool
	lastRaw                       atomic.Value
}

func (p *fakePlugin) Name() string { return "fake" }

func (p *fakePlugin) Init(ctx context.Context, deps Deps) error {
	p.inits.Add(1)
	p.InitBase(deps, p.Name())
	return nil
}

func (p *fakePlugin) Start(ctx context.Context) error {
	if p.panicStart {
		panic("boom")
	}
	p.starts.Add(1)
	p.StartBase(ctx)
	return nil
}

func (p *fakePlugin) Stop(ctx context.Context) error {
	p.stops.Add(1)
	return p.StopBase(ctx)
}

func (p *fakePlugin) Commands() []Command {
	return []Command{{Route: "fake ping", Handle: func(context.Context, *Request) error { return nil }}}
}

func (p *fakePlugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	var c struct {
		Bad bool `json:"bad"`
	}
	_ = json.Unmarshal(raw, &c)
	if c.Bad {
		return errors.New("bad config")
	}
	return nil
}

func (p *fakePlugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	p.configs.Add(1)
	p.lastRaw.Store(string(raw))
	return nil
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *config.ConfigManager, *prometheus.Registry) {
	t.Helper()
	cfgm := config.NewConfigManager("unused.json")
	cfgm.Commit(cfg)
	reg := prometheus.NewRegistry()
	cmdm := router.NewCommandManager(logx.Nop(), nil, nil, router.Options{Workers: 1})
	return NewManager(logx.Nop(), cfgm, Deps{Metrics: reg}, cmdm), cfgm, reg
}

func pluginCfg(enabled bool, raw string) *config.Config {
	return &config.Config{Plugins: map[string]config.PluginConfigRaw{
		"fake": {Enabled: enabled, Config: json.RawMessage(raw)},
	}}
}

func TestManagerLifecycle(t *testing.T) {
	pm, _, reg := newTestManager(t, pluginCfg(true, `{"a":1}`))
	p := &fakePlugin{}
	pm.Register(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pm.StartAll(ctx); err != nil {
		t.Fatal(err)
	}
	if !pm.Running("fake") || p.inits.Load() != 1 || p.starts.Load() != 1 || p.configs.Load() != 1 {
		t.Fatalf("running=%v inits=%d starts=%d configs=%d", pm.Running("fake"), p.inits.Load(), p.starts.Load(), p.configs.Load())
	}

	// same config with different key order: no reapply
	pm.OnConfigUpdate(ctx, pluginCfg(true, `{ "a": 1 }`))
	if p.configs.Load() != 1 {
		t.Fatalf("unchanged config reapplied")
	}
	pm.OnConfigUpdate(ctx, pluginCfg(true, `{"a":2}`))
	if p.configs.Load() != 2 || p.lastRaw.Load() != `{"a":2}` {
		t.Fatalf("changed config not applied: %d %v", p.configs.Load(), p.lastRaw.Load())
	}

	pm.OnConfigUpdate(ctx, pluginCfg(false, `{"a":2}`))
	if pm.Running("fake") || p.stops.Load() != 1 {
		t.Fatalf("disable did not stop plugin")
	}

	// re-enable does not Init again
	pm.OnConfigUpdate(ctx, pluginCfg(true, `{"a":2}`))
	if !pm.Running("fake") || p.inits.Load() != 1 || p.starts.Load() != 2 {
		t.Fatalf("re-enable: inits=%d starts=%d", p.inits.Load(), p.starts.Load())
	}

	pm.StopAll(context.Background(), lifecycle.StopAppStop)
	if pm.Running("fake") {
		t.Fatalf("still running after StopAll")
	}
	if got := testutil.ToFloat64(pm.events.WithLabelValues("fake", "started")); got != 2 {
		t.Fatalf("started events=%v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "restartbot_plugin_events_total"); err != nil || n == 0 {
		t.Fatalf("metrics not registered: %d %v", n, err)
	}
}

func TestManagerQuarantine(t *testing.T) {
	pm, _, _ := newTestManager(t, pluginCfg(true, `{"bad":true}`))
	p := &fakePlugin{}
	pm.Register(p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = pm.StartAll(ctx)

	if pm.Running("fake") {
		t.Fatalf("invalid config should not start")
	}
	snap := pm.Snapshot()
	if len(snap) != 1 || !snap[0].Quarantined || snap[0].QuarantineErr == "" {
		t.Fatalf("snapshot=%+v", snap)
	}

	// fixed config clears quarantine
	pm.OnConfigUpdate(ctx, pluginCfg(true, `{"bad":false}`))
	if !pm.Running("fake") {
		t.Fatalf("plugin should start after config fix")
	}
	if pm.Snapshot()[0].Quarantined {
		t.Fatalf("quarantine not cleared")
	}

	// bad timeouts while running stop the plugin
	pm.OnConfigUpdate(ctx, pluginCfg(true, `{"timeouts":{"job":"1s"}}`))
	if pm.Running("fake") {
		t.Fatalf("plugin should be quarantined on bad timeouts")
	}
}

func TestManagerValidateConfig(t *testing.T) {
	pm, _, _ := newTestManager(t, pluginCfg(false, ``))
	pm.Register(&fakePlugin{})
	ctx := context.Background()
	if err := pm.ValidateConfig(ctx, pluginCfg(true, `{"bad":true}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := pm.ValidateConfig(ctx, pluginCfg(false, `{"bad":true}`)); err != nil {
		t.Fatalf("disabled plugins are not validated: %v", err)
	}
	if err := pm.ValidateConfig(ctx, pluginCfg(true, `{"timeouts":{"command":"soon"}}`)); err == nil {
		t.Fatalf("bad timeout should fail")
	}
}

func TestManagerRecoversStartPanic(t *testing.T) {
	pm, _, _ := newTestManager(t, pluginCfg(true, `{}`))
	pm.Register(&fakePlugin{panicStart: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = pm.StartAll(ctx)
	if pm.Running("fake") {
		t.Fatalf("panicking plugin must not be running")
	}
}

func TestDecodePluginConfig(t *testing.T) {
	type cfg struct {
		A int `json:"a"`
	}
	got, err := DecodePluginConfig[cfg](json.RawMessage(`{"a":3}`))
	if err != nil || got.A != 3 {
		t.Fatalf("%+v %v", got, err)
	}
	if _, err := DecodePluginConfig[cfg](json.RawMessage(`{"b":1}`)); err == nil {
		t.Fatalf("unknown field should fail")
	}
	if got, err := DecodePluginConfig[cfg](nil); err != nil || got.A != 0 {
		t.Fatalf("empty: %+v %v", got, err)
	}
}

func TestPluginCommandTimeout(t *testing.T) {
	d, ok := pluginCommandTimeout(pluginCfg(true, `{"timeouts":{"command":"3s"}}`), "fake")
	if !ok || d.Seconds() != 3 {
		t.Fatalf("d=%v ok=%v", d, ok)
	}
	if _, ok := pluginCommandTimeout(pluginCfg(true, `{}`), "fake"); ok {
		t.Fatalf("no timeout expected")
	}
}
