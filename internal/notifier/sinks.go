package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	kit "restartbot/internal/transport"
)

// AdapterSink sends to a fixed list of chats through a transport adapter.
type AdapterSink struct {
	Adapter kit.Adapter
	Targets []kit.ChatTarget
}

func (a *AdapterSink) Name() string {
	if a.Adapter == nil {
		return "adapter"
	}
	return a.Adapter.Name()
}

func (a *AdapterSink) Send(ctx context.Context, text string) error {
	if a.Adapter == nil {
		return errors.New("adapter not configured")
	}
	var errs []error
	for _, t := range a.Targets {
		if err := a.Adapter.SendText(ctx, t, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", t.ChatID, err))
		}
	}
	return errors.Join(errs...)
}

// WriterSink prints timestamped lines to w.
type WriterSink struct {
	W   io.Writer
	Now func() time.Time

	mu sync.Mutex
}

func (w *WriterSink) Name() string { return "console" }

func (w *WriterSink) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.W, "[announce %s] %s\n", now().Format("15:04:05"), text)
	return err
}
