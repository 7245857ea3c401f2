package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"restartbot/internal/storage"
	logx "restartbot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// HealthChecker is an optional plugin interface.
type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

// HealthLoopOptIn enables the periodic health loop for a HealthChecker.
// Without it, health is only checked on demand.
type HealthLoopOptIn interface {
	HealthLoopEnabled() bool
}

// SupervisorProvider lets the manager attach plugin-scoped goroutines
// (health loops) to the plugin's own supervisor.
type SupervisorProvider interface {
	Supervisor() *Supervisor
}

// Announcer broadcasts a message to everyone connected.
type Announcer interface {
	Announce(ctx context.Context, text string) error
}

// Restarter restarts the managed server.
type Restarter interface {
	Name() string
	Restart(ctx context.Context) error
}

// Scheduler runs named interval jobs.
type Scheduler interface {
	AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// Deps are the host collaborators handed to plugins on Init.
// Any of them may be nil in minimal/test environments.
type Deps struct {
	Logger    logx.Logger
	Store     storage.Store
	Announcer Announcer
	Restarter Restarter
	Scheduler Scheduler
	Metrics   prometheus.Registerer
}

type Status struct {
	Name            string       `json:"name"`
	Enabled         bool         `json:"enabled"`
	Running         bool         `json:"running"`
	Quarantined     bool         `json:"quarantined"`
	QuarantineErr   string       `json:"quarantine_err,omitempty"`
	QuarantineSince time.Time    `json:"quarantine_since,omitempty"`
	LastHealth      HealthResult `json:"last_health"`
}

type HealthResult struct {
	Plugin string    `json:"plugin"`
	At     time.Time `json:"at"`
	Status string    `json:"status"`
	Err    string    `json:"err,omitempty"`
	Fails  int       `json:"fails,omitempty"`
}

// DecodePluginConfig decodes per-plugin raw json into a typed config struct.
// Unknown fields are rejected.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
