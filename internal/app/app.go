package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"restartbot/internal/config"
	"restartbot/internal/metrics"
	"restartbot/internal/notifier"
	"restartbot/internal/plugin"
	"restartbot/internal/restarter"
	"restartbot/internal/runtime/supervisor"
	"restartbot/internal/storage"
	"restartbot/internal/task/scheduler"
	kit "restartbot/internal/transport"
	"restartbot/internal/transport/console"
	"restartbot/internal/transport/router"
	"restartbot/internal/transport/telegram"
	logx "restartbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store
	reg   *prometheus.Registry

	adapter  *kit.Mux
	telegram *telegram.Adapter
	stdin    io.Reader
	stdout   io.Writer

	sched   *scheduler.Service
	notif   *notifier.Service
	restart *restartHolder

	cmdm *router.CommandManager
	pm   *plugin.Manager

	updates chan kit.Update
	started time.Time
}

type Option func(*App)

// WithStdio replaces stdin/stdout for the console transport and the
// console announce sink.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
	}
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{stdin: os.Stdin, stdout: os.Stdout}
	for _, o := range opts {
		o(a)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateHostConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	reg := metrics.NewRegistry()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	} else {
		log.Warn("storage disabled; schedule changes will not survive a restart")
	}

	// Transports: telegram and/or console behind one mux.
	var adapters []kit.Adapter
	var tg *telegram.Adapter
	if cfg.Telegram.Enabled {
		pollTimeout, err := mapPollTimeout(cfg)
		if err != nil {
			return nil, err
		}
		tg, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		adapters = append(adapters, tg)
	}
	if cfg.Console.Enabled && a.stdin != nil {
		adapters = append(adapters, console.New(a.stdin, a.stdout, log.With(logx.String("comp", "console"))))
	}
	mux := kit.NewMux(adapters...)
	if mux.Len() == 0 {
		log.Warn("no command transport enabled; commands are unavailable")
	}

	schedSvc := scheduler.New(scheduler.Config{}, log.With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, log.With(logx.String("comp", "notifier")))

	rc, restartTimeout, err := mapRestarterConfig(cfg)
	if err != nil {
		return nil, err
	}
	r, err := restarter.New(rc, log.With(logx.String("comp", "restarter")))
	if err != nil {
		return nil, err
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")),
		mux, cfg.Telegram.OwnerUserIDs, router.Options{TrustConsole: cfg.Console.Trusted})

	a.cfgm = cfgm
	a.log = log
	a.logs = logSvc
	a.store = store
	a.reg = reg
	a.adapter = mux
	a.telegram = tg
	a.sched = schedSvc
	a.notif = notifSvc
	a.restart = newRestartHolder(r, restartTimeout)
	a.cmdm = cmdm
	a.updates = make(chan kit.Update, 256)

	a.pm = plugin.NewManager(log.With(logx.String("comp", "plugins")),
		cfgm, plugin.Deps{
			Logger:    log,
			Store:     store,
			Announcer: notifSvc,
			Restarter: a.restart,
			Scheduler: schedSvc,
			Metrics:   reg,
		}, cmdm)
	cmdm.SetBuiltins(a.builtinCommands()...)
	return a, nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate is the transactional hot-reload check: nothing is committed
// or published unless the whole file passes.
func (a *App) validate(ctx context.Context, cfg *Config) error {
	if err := validateHostConfig(cfg); err != nil {
		return err
	}
	return a.pm.ValidateConfig(ctx, cfg)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	// Plugin config is checked once before anything starts.
	if err := a.pm.ValidateConfig(ctx, a.cfgm.Get()); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.applySinks(a.sup.Context(), a.cfgm.Get())
	a.sched.Start(a.sup.Context())

	if cfg := a.cfgm.Get(); cfg.Metrics.Enabled {
		sc, _ := mapMetricsConfig(cfg)
		a.sup.Go("metrics.http", func(c context.Context) error {
			return metrics.Serve(c, sc, a.reg, a.log.With(logx.String("comp", "metrics")))
		})
	}

	a.pm.BindContext(a.sup.Context())
	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.cmdm.SyncMenu(c); err != nil {
			a.log.Warn("command menu sync failed", logx.Err(err))
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Strs("plugins", a.pluginNames()),
		logx.String("restart_driver", a.restart.Name()),
	)
	return nil
}

func (a *App) pluginNames() []string {
	var out []string
	for _, st := range a.pm.Snapshot() {
		if st.Running {
			out = append(out, st.Name)
		}
	}
	return out
}

// applyConfig pushes a validated config to every live component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, pluginChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Strs("plugins", pluginChanged))
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	for _, s := range []string{"storage", "metrics"} {
		if changed(s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if changed("telegram") && (oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled || oldCfg.Telegram.Token != newCfg.Telegram.Token) {
		a.log.Warn("telegram transport changed; restart required for changes to take effect")
	}
	if oldCfg.Console.Enabled != newCfg.Console.Enabled {
		a.log.Warn("console transport changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs, newCfg.Console.Trusted)

	if changed("announce") {
		ncfg, err := mapNotifierConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid announce config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			a.applySinks(ctx, newCfg)
		}
	}

	if changed("restart") {
		if err := a.applyRestarter(newCfg); err != nil {
			a.log.Warn("invalid restart config; keeping previous", logx.Err(err))
		}
	}

	a.pm.OnConfigUpdate(ctx, newCfg)
	if len(pluginChanged) > 0 {
		if err := a.cmdm.SyncMenu(ctx); err != nil {
			a.log.Warn("command menu sync failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyRestarter(cfg *Config) error {
	rc, timeout, err := mapRestarterConfig(cfg)
	if err != nil {
		return err
	}
	r, err := restarter.New(rc, a.log.With(logx.String("comp", "restarter")))
	if err != nil {
		return err
	}
	a.restart.swap(r, timeout, a.log)
	a.log.Info("restart driver applied", logx.String("driver", r.Name()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, report when it finally returns.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Plugins first: they use every service below.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", time.Second, func(c context.Context) error { return a.notif.Close() })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("restarter", time.Second, func(c context.Context) error { return a.restart.Close() })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, dispatcher, metrics).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
