package timedrestart

import (
	"fmt"
	"strings"
	"time"

	"restartbot/internal/config"
	"restartbot/internal/plugin"
)

const (
	defaultPollInterval    = 10 * time.Second
	maxPollInterval        = time.Minute
	defaultGrace           = 2 * time.Second
	defaultCooldown        = 60 * time.Second
	defaultDuplicateWindow = 12 * time.Hour
	defaultRestartTimeout  = 30 * time.Second
	defaultCommandTimeout  = 15 * time.Second

	DefaultWarningMessage = "Server restarts in {minutes} minute(s)!"
	DefaultFinalMessage   = "Server is restarting now!"
)

// Config is the plugin section of the host config.
//
// Example:
//
//	"timed_restart": {
//	  "enabled": true,
//	  "config": {
//	    "poll_interval": "10s",
//	    "grace": "2s",
//	    "cooldown": "60s",
//	    "zero_warning": true,
//	    "warning_message": "Restart in {minutes} min"
//	  }
//	}
type Config struct {
	Document        string `json:"document,omitempty"`
	PollInterval    string `json:"poll_interval,omitempty"`
	Grace           string `json:"grace,omitempty"`
	Cooldown        string `json:"cooldown,omitempty"`
	DuplicateWindow string `json:"duplicate_window,omitempty"`
	RestartTimeout  string `json:"restart_timeout,omitempty"`
	ZeroWarning     *bool  `json:"zero_warning,omitempty"`
	WarningMessage  string `json:"warning_message,omitempty"`
	FinalMessage    string `json:"final_message,omitempty"`

	Timeouts plugin.Timeouts `json:"timeouts,omitempty"`
}

type settings struct {
	document        string
	pollInterval    time.Duration
	grace           time.Duration
	cooldown        time.Duration
	duplicateWindow time.Duration
	restartTimeout  time.Duration
	commandTimeout  time.Duration
	taskTimeout     time.Duration
	zeroWarning     bool
	warningMessage  string
	finalMessage    string
}

func defaultSettings() settings {
	s, _ := parseSettings(Config{})
	return s
}

func parseSettings(c Config) (settings, error) {
	var (
		s   settings
		err error
	)
	s.document = strings.TrimSpace(c.Document)
	if s.document == "" {
		s.document = DefaultDocument
	}
	durations := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"poll_interval", c.PollInterval, defaultPollInterval, &s.pollInterval},
		{"grace", c.Grace, defaultGrace, &s.grace},
		{"cooldown", c.Cooldown, defaultCooldown, &s.cooldown},
		{"duplicate_window", c.DuplicateWindow, defaultDuplicateWindow, &s.duplicateWindow},
		{"restart_timeout", c.RestartTimeout, defaultRestartTimeout, &s.restartTimeout},
		{"timeouts.command", c.Timeouts.Command, defaultCommandTimeout, &s.commandTimeout},
		{"timeouts.task", c.Timeouts.Task, 0, &s.taskTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = config.ParseDurationOrDefault(d.path, d.raw, d.def); err != nil {
			return s, err
		}
	}
	// Exact-minute matching needs at least one tick per minute.
	if s.pollInterval <= 0 || s.pollInterval > maxPollInterval {
		return s, fmt.Errorf("poll_interval must be in (0, %s], got %s", maxPollInterval, s.pollInterval)
	}
	// a longer window would swallow the next day's events
	if s.duplicateWindow >= 24*time.Hour {
		return s, fmt.Errorf("duplicate_window must be below 24h, got %s", s.duplicateWindow)
	}
	if s.taskTimeout == 0 {
		s.taskTimeout = s.grace + s.restartTimeout + 15*time.Second
	}

	s.zeroWarning = true
	if c.ZeroWarning != nil {
		s.zeroWarning = *c.ZeroWarning
	}
	s.warningMessage = c.WarningMessage
	if strings.TrimSpace(s.warningMessage) == "" {
		s.warningMessage = DefaultWarningMessage
	}
	s.finalMessage = c.FinalMessage
	if strings.TrimSpace(s.finalMessage) == "" {
		s.finalMessage = DefaultFinalMessage
	}
	return s, nil
}

func (s settings) evalOptions() EvalOptions {
	return EvalOptions{FireZeroWarning: s.zeroWarning}
}
