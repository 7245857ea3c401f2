package app

import (
	"context"
	"io"
	"time"

	"restartbot/internal/notifier"
	kit "restartbot/internal/transport"
	logx "restartbot/pkg/logx"
)

const mqttDialTimeout = 10 * time.Second

// buildSinks maps the announce section to sinks. A sink that cannot be
// set up is logged and left out so the others still deliver.
func buildSinks(ctx context.Context, cfg *Config, tg kit.Adapter, stdout io.Writer, log logx.Logger) []notifier.Sink {
	a := cfg.Announce
	var sinks []notifier.Sink

	if a.Console && stdout != nil {
		sinks = append(sinks, &notifier.WriterSink{W: stdout})
	}

	if a.Telegram != nil && a.Telegram.Enabled {
		if tg == nil {
			log.Warn("announce.telegram enabled but the telegram transport is not running")
		} else {
			targets := make([]kit.ChatTarget, 0, len(a.Telegram.ChatIDs))
			for _, id := range a.Telegram.ChatIDs {
				targets = append(targets, kit.ChatTarget{Transport: kit.Telegram, ChatID: id, ThreadID: a.Telegram.ThreadID})
			}
			sinks = append(sinks, &notifier.AdapterSink{Adapter: tg, Targets: targets})
		}
	}

	mc, err := mapMQTTConfig(a.MQTT)
	if err != nil {
		log.Warn("announce.mqtt invalid; sink disabled", logx.Err(err))
	} else if mc != nil {
		dctx, cancel := context.WithTimeout(ctx, mqttDialTimeout)
		sink, err := notifier.DialMQTT(dctx, *mc)
		cancel()
		if err != nil {
			log.Warn("mqtt announce sink unavailable", logx.String("broker", mc.Broker), logx.Err(err))
		} else {
			log.Info("mqtt announce sink connected", logx.String("broker", mc.Broker), logx.String("topic", mc.Topic))
			sinks = append(sinks, sink)
		}
	}

	if len(sinks) == 0 {
		log.Warn("no announce sinks configured; announcements will fail")
	}
	return sinks
}

// applySinks rebuilds the sinks and closes the ones replaced.
func (a *App) applySinks(ctx context.Context, cfg *Config) {
	var tg kit.Adapter
	if a.telegram != nil {
		tg = a.telegram
	}
	sinks := buildSinks(ctx, cfg, tg, a.stdout, a.log.With(logx.String("comp", "notifier")))
	old := a.notif.SetSinks(sinks...)
	if err := notifier.CloseSinks(old); err != nil {
		a.log.Warn("closing previous announce sinks failed", logx.Err(err))
	}
	a.log.Debug("announce sinks applied", logx.Strs("sinks", a.notif.SinkNames()))
}
