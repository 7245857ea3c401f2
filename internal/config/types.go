package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`
	Console  ConsoleConfig  `json:"console"`

	// Announce controls where plugin announcements are delivered.
	Announce AnnounceConfig `json:"announce"`
	// Restart selects how the managed server is restarted.
	Restart RestartConfig `json:"restart"`

	Storage *StorageConfig             `json:"storage,omitempty"`
	Metrics MetricsConfig              `json:"metrics"`
	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TelegramConfig controls the Telegram command transport.
// The adapter only starts when enabled and a token is set.
type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// ConsoleConfig controls the stdin command transport.
//
// Trusted makes the console user an owner (it can run owner-only commands).
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
	Trusted bool `json:"trusted"`
}

// AnnounceConfig controls the announcement fan-out.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
//
// Defaults (when fields are omitted/zero):
//   - rate_per_sec: 2
//   - timeout: "5s"
type AnnounceConfig struct {
	RatePerSec int    `json:"rate_per_sec"`
	Timeout    string `json:"timeout"`

	Console  bool              `json:"console"`
	Telegram *AnnounceTelegram `json:"telegram,omitempty"`
	MQTT     *AnnounceMQTT     `json:"mqtt,omitempty"`
}

type AnnounceTelegram struct {
	Enabled  bool    `json:"enabled"`
	ChatIDs  []int64 `json:"chat_ids"`
	ThreadID int     `json:"thread_id,omitempty"`
}

// AnnounceMQTT publishes announcements as JSON to a broker topic.
//
// Example:
//
//	"mqtt": { "enabled": true, "broker": "tcp://localhost:1883", "topic": "server/announce" }
type AnnounceMQTT struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	ClientID string `json:"client_id,omitempty"`
	Topic    string `json:"topic"`
	QoS      int    `json:"qos,omitempty"`
	Retained bool   `json:"retained,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
}

// RestartConfig selects the restart driver.
//
//   - "none":    log only (default)
//   - "systemd": restart a unit over D-Bus
//   - "command": run an external command
type RestartConfig struct {
	Driver  string   `json:"driver"`
	Unit    string   `json:"unit,omitempty"`
	UserBus bool     `json:"user_bus,omitempty"`
	Command []string `json:"command,omitempty"`
	// Timeout bounds a single restart call. Default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// If the section is omitted, the file driver is used with path "./data".
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/restartbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9108").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9108"
	Path    string `json:"path,omitempty"` // default: "/metrics"
	// Pprof also serves /debug/pprof/ on the metrics listener.
	Pprof bool `json:"pprof,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos next to "config" are
// caught during reload instead of being silently ignored.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
