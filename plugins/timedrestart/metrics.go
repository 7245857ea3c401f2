package timedrestart

import (
	"github.com/prometheus/client_golang/prometheus"

	"restartbot/internal/metrics"
	logx "restartbot/pkg/logx"
)

type pluginMetrics struct {
	events      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duplicates  prometheus.Counter
	lastTick    prometheus.Gauge
	nextRestart prometheus.Gauge
}

// newPluginMetrics registers on reg when non-nil; the collectors work either way.
func newPluginMetrics(reg prometheus.Registerer, log logx.Logger) *pluginMetrics {
	m := &pluginMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restartbot", Subsystem: "timed_restart", Name: "events_total",
			Help: "Fired schedule events by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restartbot", Subsystem: "timed_restart", Name: "failures_total",
			Help: "Failed collaborator calls by operation.",
		}, []string{"op"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restartbot", Subsystem: "timed_restart", Name: "duplicates_suppressed_total",
			Help: "Events suppressed because they already fired recently.",
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "restartbot", Subsystem: "timed_restart", Name: "last_tick_timestamp_seconds",
			Help: "Unix time of the last completed schedule check.",
		}),
		nextRestart: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "restartbot", Subsystem: "timed_restart", Name: "next_restart_timestamp_seconds",
			Help: "Unix time of the next scheduled restart, 0 if none.",
		}),
	}
	var err error
	if m.events, err = metrics.Register(reg, m.events); err != nil {
		log.Warn("metric not registered", logx.Err(err))
	}
	if m.failures, err = metrics.Register(reg, m.failures); err != nil {
		log.Warn("metric not registered", logx.Err(err))
	}
	if m.duplicates, err = metrics.Register(reg, m.duplicates); err != nil {
		log.Warn("metric not registered", logx.Err(err))
	}
	if m.lastTick, err = metrics.Register(reg, m.lastTick); err != nil {
		log.Warn("metric not registered", logx.Err(err))
	}
	if m.nextRestart, err = metrics.Register(reg, m.nextRestart); err != nil {
		log.Warn("metric not registered", logx.Err(err))
	}
	return m
}
