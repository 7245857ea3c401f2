package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"restartbot/internal/config"
	"restartbot/plugins/timedrestart"
	logx "restartbot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	sc, enabled, err := mapStorageConfig(&Config{})
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, "file", sc.Driver)
	require.Equal(t, defaultStoragePath, sc.Path)

	_, enabled, err = mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "none"}})
	require.NoError(t, err)
	require.False(t, enabled)

	sc, enabled, err = mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}})
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, time.Second, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	require.Error(t, err)
	_, _, err = mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "redis"}})
	require.Error(t, err)
}

func TestValidateHostConfig(t *testing.T) {
	t.Parallel()

	ok := func() *Config {
		return &Config{Restart: config.RestartConfig{Driver: "none"}}
	}
	require.NoError(t, validateHostConfig(ok()))

	cmd := ok()
	cmd.Restart = config.RestartConfig{Driver: "command", Command: []string{"true"}, Timeout: "1m"}
	require.NoError(t, validateHostConfig(cmd))

	bad := map[string]func(c *Config){
		"telegram without token": func(c *Config) { c.Telegram.Enabled = true },
		"bad poll timeout":       func(c *Config) { c.Telegram.PollTimeout = "soon" },
		"announce telegram off": func(c *Config) {
			c.Announce.Telegram = &config.AnnounceTelegram{Enabled: true, ChatIDs: []int64{1}}
		},
		"announce telegram no chats": func(c *Config) {
			c.Telegram = config.TelegramConfig{Enabled: true, Token: "1:x"}
			c.Announce.Telegram = &config.AnnounceTelegram{Enabled: true}
		},
		"mqtt qos":        func(c *Config) { c.Announce.MQTT = &config.AnnounceMQTT{Enabled: true, Broker: "tcp://b:1883", Topic: "t", QoS: 3} },
		"mqtt no topic":   func(c *Config) { c.Announce.MQTT = &config.AnnounceMQTT{Enabled: true, Broker: "tcp://b:1883"} },
		"announce rate":   func(c *Config) { c.Announce.RatePerSec = -1 },
		"announce time":   func(c *Config) { c.Announce.Timeout = "-1s" },
		"unknown driver":  func(c *Config) { c.Restart.Driver = "reboot" },
		"systemd no unit": func(c *Config) { c.Restart.Driver = "systemd" },
		"command empty":   func(c *Config) { c.Restart.Driver = "command" },
		"restart timeout": func(c *Config) { c.Restart.Timeout = "later" },
		"metrics path":    func(c *Config) { c.Metrics.Path = "metrics" },
		"storage driver":  func(c *Config) { c.Storage = &config.StorageConfig{Driver: "tape"} },
	}
	for name, mutate := range bad {
		c := ok()
		mutate(c)
		require.Error(t, validateHostConfig(c), name)
	}
}

type fakeRestarter struct {
	name     string
	closed   bool
	deadline bool
}

func (f *fakeRestarter) Name() string { return f.name }

func (f *fakeRestarter) Restart(ctx context.Context) error {
	_, f.deadline = ctx.Deadline()
	return nil
}

func (f *fakeRestarter) Close() error {
	f.closed = true
	return nil
}

func TestRestartHolder(t *testing.T) {
	t.Parallel()

	first := &fakeRestarter{name: "first"}
	h := newRestartHolder(first, time.Minute)
	require.Equal(t, "first", h.Name())
	require.NoError(t, h.Restart(context.Background()))
	require.True(t, first.deadline)

	second := &fakeRestarter{name: "second"}
	h.swap(second, 0, logx.Nop())
	require.True(t, first.closed)
	require.Equal(t, "second", h.Name())
	require.NoError(t, h.Restart(context.Background()))
	require.False(t, second.deadline)

	require.NoError(t, h.Close())
	require.True(t, second.closed)
	require.Equal(t, "none", h.Name())
	require.Error(t, h.Restart(context.Background()))
}

// syncBuffer is written by the console adapter and read by the test.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "console": {"enabled": true, "trusted": true},
  "announce": {"console": true},
  "restart": {"driver": "none"},
  "storage": {"driver": "file", "path": %q},
  "plugins": {"timed_restart": {"enabled": true, "config": {"poll_interval": "10s"}}}
}`, filepath.Join(dir, "data"))
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppConsoleEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	in, inW := io.Pipe()
	out := &syncBuffer{}
	a, err := NewApp(path, WithStdio(in, out))
	require.NoError(t, err)
	a.Plugins().Register(timedrestart.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		_ = inW.Close()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		require.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()

	send := func(line string) {
		_, err := io.WriteString(inW, line+"\n")
		require.NoError(t, err)
	}
	waitFor := func(substr string) {
		require.Eventually(t, func() bool { return strings.Contains(out.String(), substr) },
			5*time.Second, 10*time.Millisecond, "output:\n%s", out.String())
	}

	send("timed_restart add 7:00")
	waitFor("Added restart time 07:00")

	b, err := os.ReadFile(filepath.Join(dir, "data", filepath.FromSlash(timedrestart.DefaultDocument)))
	require.NoError(t, err)
	require.Contains(t, string(b), `"07:00"`)

	send("/tr list")
	waitFor("Restart times: 06:00, 12:00, 18:00, 00:00, 07:00")

	send("status")
	waitFor("timed_restart: running, health ok")
	waitFor("restart driver: none")
	waitFor("Goroutines (active/started): app ")
}

func TestAppApplyConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	in, inW := io.Pipe()
	a, err := NewApp(path, WithStdio(in, &syncBuffer{}))
	require.NoError(t, err)
	a.Plugins().Register(timedrestart.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		_ = inW.Close()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		require.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()
	require.Equal(t, []string{"console"}, a.notif.SinkNames())

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Announce.Console = false
	next.Restart = config.RestartConfig{Driver: "command", Command: []string{"true"}}
	next.Plugins = map[string]config.PluginConfigRaw{"timed_restart": {Enabled: false}}

	a.applyConfig(ctx, oldCfg, &next)
	require.Empty(t, a.notif.SinkNames())
	require.Equal(t, "command", a.restart.Name())
	require.False(t, a.pm.Running(timedrestart.Name))

	// An invalid restart section keeps the running driver.
	broken := next
	broken.Restart = config.RestartConfig{Driver: "systemd"}
	a.applyConfig(ctx, &next, &broken)
	require.Equal(t, "command", a.restart.Name())
}

func TestValidateFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir)
	cfg, err := ValidateFile(context.Background(), path, timedrestart.New())
	require.NoError(t, err)
	require.True(t, cfg.Plugins[timedrestart.Name].Enabled)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"plugins":{"timed_restart":{"enabled":true,"config":{"poll_interval":"2m"}}}}`), 0o600))
	_, err = ValidateFile(context.Background(), bad, timedrestart.New())
	require.Error(t, err)
}
