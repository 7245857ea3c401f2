// Package restarter restarts the managed game server.
//
// Drivers:
//   - "none":    log only
//   - "systemd": restart a unit over D-Bus and wait for the job result
//   - "command": run an external command; its output is attached to errors
package restarter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	logx "restartbot/pkg/logx"
)

var ErrUnsupported = errors.New("restarter: driver unsupported on this OS")

type Restarter interface {
	Name() string
	Restart(ctx context.Context) error
	Close() error
}

type Config struct {
	Driver  string
	Unit    string
	UserBus bool
	Command []string
}

func New(cfg Config, log logx.Logger) (Restarter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return &noneRestarter{log: log}, nil
	case "systemd":
		unit := normalizeUnit(cfg.Unit)
		if unit == "" {
			return nil, errors.New("restart.unit is required for the systemd driver")
		}
		return newSystemd(unit, cfg.UserBus, log)
	case "command":
		if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
			return nil, errors.New("restart.command is required for the command driver")
		}
		return &commandRestarter{argv: append([]string(nil), cfg.Command...), log: log}, nil
	default:
		return nil, fmt.Errorf("unknown restart.driver: %s", cfg.Driver)
	}
}

// normalizeUnit appends ".service" when the unit has no type suffix.
func normalizeUnit(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if i := strings.LastIndexByte(u, '.'); i > 0 {
		switch u[i+1:] {
		case "service", "target", "scope", "socket", "timer":
			return u
		}
	}
	return u + ".service"
}

type noneRestarter struct{ log logx.Logger }

func (n *noneRestarter) Name() string { return "none" }

func (n *noneRestarter) Restart(ctx context.Context) error {
	n.log.Warn("restart requested but restart.driver is none; nothing restarted")
	return ctx.Err()
}

func (n *noneRestarter) Close() error { return nil }

type commandRestarter struct {
	argv []string
	log  logx.Logger
}

func (c *commandRestarter) Name() string { return "command" }

func (c *commandRestarter) Restart(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[:512] + "..."
		}
		if msg != "" {
			return fmt.Errorf("restart command %q: %w: %s", c.argv[0], err, msg)
		}
		return fmt.Errorf("restart command %q: %w", c.argv[0], err)
	}
	c.log.Info("restart command finished", logx.String("cmd", c.argv[0]), logx.Int("output_bytes", len(out)))
	return nil
}

func (c *commandRestarter) Close() error { return nil }
