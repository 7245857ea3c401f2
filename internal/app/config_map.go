package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"restartbot/internal/config"
	"restartbot/internal/metrics"
	"restartbot/internal/notifier"
	"restartbot/internal/restarter"
	"restartbot/internal/storage"
	logx "restartbot/pkg/logx"
)

const (
	defaultStoragePath    = "./data"
	defaultRestartTimeout = 30 * time.Second
	defaultPollTimeout    = 10 * time.Second
)

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns the storage config; enabled is false for driver "none".
// An omitted section means the file driver under ./data.
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultStoragePath}, true, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "none":
		return storage.Config{}, false, nil
	case "", "file":
		if path == "" {
			path = defaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *Config) (notifier.Config, error) {
	a := cfg.Announce
	if a.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("announce.rate_per_sec must be >= 0")
	}
	timeout, err := config.ParseDurationField("announce.timeout", a.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	if a.Telegram != nil && a.Telegram.Enabled {
		if !cfg.Telegram.Enabled {
			return notifier.Config{}, errors.New("announce.telegram requires telegram.enabled")
		}
		if len(a.Telegram.ChatIDs) == 0 {
			return notifier.Config{}, errors.New("announce.telegram.chat_ids is empty")
		}
	}
	if _, err := mapMQTTConfig(a.MQTT); err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: a.RatePerSec, Timeout: timeout}, nil
}

// mapMQTTConfig returns nil when the MQTT sink is off.
func mapMQTTConfig(m *config.AnnounceMQTT) (*notifier.MQTTConfig, error) {
	if m == nil || !m.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(m.Broker) == "" {
		return nil, errors.New("announce.mqtt.broker is required")
	}
	if strings.TrimSpace(m.Topic) == "" {
		return nil, errors.New("announce.mqtt.topic is required")
	}
	if m.QoS < 0 || m.QoS > 2 {
		return nil, fmt.Errorf("announce.mqtt.qos must be 0..2, got %d", m.QoS)
	}
	return &notifier.MQTTConfig{
		Broker:   strings.TrimSpace(m.Broker),
		ClientID: strings.TrimSpace(m.ClientID),
		Topic:    strings.TrimSpace(m.Topic),
		QoS:      byte(m.QoS),
		Retained: m.Retained,
		Username: m.Username,
		Password: m.Password,
	}, nil
}

func mapRestarterConfig(cfg *Config) (restarter.Config, time.Duration, error) {
	rc := cfg.Restart
	timeout, err := config.ParseDurationOrDefault("restart.timeout", rc.Timeout, defaultRestartTimeout)
	if err != nil {
		return restarter.Config{}, 0, err
	}
	return restarter.Config{
		Driver:  rc.Driver,
		Unit:    rc.Unit,
		UserBus: rc.UserBus,
		Command: rc.Command,
	}, timeout, nil
}

func mapPollTimeout(cfg *Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
}

func mapMetricsConfig(cfg *Config) (metrics.ServeConfig, error) {
	sc := metrics.ServeConfig{
		Addr:  strings.TrimSpace(cfg.Metrics.Addr),
		Path:  strings.TrimSpace(cfg.Metrics.Path),
		Pprof: cfg.Metrics.Pprof,
	}
	if sc.Addr == "" {
		sc.Addr = metrics.DefaultAddr
	}
	if sc.Path == "" {
		sc.Path = metrics.DefaultPath
	}
	if !strings.HasPrefix(sc.Path, "/") {
		return sc, fmt.Errorf("metrics.path must start with /, got %q", sc.Path)
	}
	if sc.Pprof && strings.HasPrefix(sc.Path, "/debug/pprof") {
		return sc, fmt.Errorf("metrics.path %q collides with pprof", sc.Path)
	}
	return sc, nil
}

// validateHostConfig checks everything outside the plugins section.
// Restarter drivers are constructed and closed again; none of them
// touches the system before Restart.
func validateHostConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapPollTimeout(cfg); err != nil {
		return err
	}
	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required when telegram.enabled")
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return err
	}
	rc, _, err := mapRestarterConfig(cfg)
	if err != nil {
		return err
	}
	r, err := restarter.New(rc, logx.Nop())
	if err != nil {
		return err
	}
	return r.Close()
}
