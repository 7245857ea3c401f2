//go:build linux

package restarter

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"

	logx "restartbot/pkg/logx"
)

// systemdRestarter connects lazily so a missing bus at startup doesn't
// prevent the host from running; a broken connection is dropped and
// re-established on the next restart.
type systemdRestarter struct {
	unit    string
	userBus bool
	log     logx.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

func newSystemd(unit string, userBus bool, log logx.Logger) (Restarter, error) {
	return &systemdRestarter{unit: unit, userBus: userBus, log: log}, nil
}

func (s *systemdRestarter) Name() string { return "systemd" }

func (s *systemdRestarter) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if s.conn != nil && s.conn.Connected() {
		return s.conn, nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if s.userBus {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *systemdRestarter) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked(ctx)
	if err != nil {
		return err
	}
	ch := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, s.unit, "replace", ch); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("failed to restart %s: %w", s.unit, err)
	}
	select {
	case res := <-ch:
		if res != "done" {
			return fmt.Errorf("restart %s: job result %q", s.unit, res)
		}
		s.log.Info("unit restarted", logx.String("unit", s.unit))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("restart %s: %w", s.unit, ctx.Err())
	}
}

func (s *systemdRestarter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
