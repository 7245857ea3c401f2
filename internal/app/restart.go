package app

import (
	"context"
	"sync"
	"time"

	"restartbot/internal/restarter"
	logx "restartbot/pkg/logx"
)

// restartHolder lets the restart driver change on config reload while
// plugins keep the same handle.
type restartHolder struct {
	mu      sync.RWMutex
	r       restarter.Restarter
	timeout time.Duration
}

func newRestartHolder(r restarter.Restarter, timeout time.Duration) *restartHolder {
	return &restartHolder{r: r, timeout: timeout}
}

func (h *restartHolder) current() (restarter.Restarter, time.Duration) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.r, h.timeout
}

func (h *restartHolder) Name() string {
	r, _ := h.current()
	if r == nil {
		return "none"
	}
	return r.Name()
}

func (h *restartHolder) Restart(ctx context.Context) error {
	r, timeout := h.current()
	if r == nil {
		return restarter.ErrUnsupported
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.Restart(ctx)
}

// swap installs r and closes the previous driver.
func (h *restartHolder) swap(r restarter.Restarter, timeout time.Duration, log logx.Logger) {
	h.mu.Lock()
	old := h.r
	h.r = r
	h.timeout = timeout
	h.mu.Unlock()
	if old != nil && old != r {
		if err := old.Close(); err != nil {
			log.Warn("closing previous restarter failed", logx.String("driver", old.Name()), logx.Err(err))
		}
	}
}

func (h *restartHolder) Close() error {
	h.mu.Lock()
	r := h.r
	h.r = nil
	h.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Close()
}
