package config

import (
	"reflect"
	"sort"
	"strings"

	logx "restartbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) a list of plugin names that changed (enable/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		(strings.TrimSpace(ot.Token) != "") != (strings.TrimSpace(nt.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Console != newCfg.Console {
		changed = append(changed, "console")
		attrs = append(attrs,
			logx.Bool("console.enabled", newCfg.Console.Enabled),
			logx.Bool("console.trusted", newCfg.Console.Trusted),
		)
	}

	// Announce (never log MQTT password)
	if announceKey(oldCfg.Announce) != announceKey(newCfg.Announce) {
		na := newCfg.Announce
		changed = append(changed, "announce")
		attrs = append(attrs,
			logx.Int("announce.rate_per_sec", na.RatePerSec),
			logx.Bool("announce.console", na.Console),
			logx.Bool("announce.telegram", na.Telegram != nil && na.Telegram.Enabled),
			logx.Bool("announce.mqtt", na.MQTT != nil && na.MQTT.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Restart, newCfg.Restart) {
		changed = append(changed, "restart")
		attrs = append(attrs,
			logx.String("restart.driver", strings.TrimSpace(newCfg.Restart.Driver)),
			logx.String("restart.unit", strings.TrimSpace(newCfg.Restart.Unit)),
		)
	}

	// Storage: nil means defaults.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	// Plugins (summarize only; details at debug)
	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

// announceKey hashes the announce section including secrets; the hash itself is never logged.
func announceKey(a AnnounceConfig) uint64 {
	return hashConfig(&Config{Announce: a})
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled || CanonicalHashJSON(o.Config) != CanonicalHashJSON(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
