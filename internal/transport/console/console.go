// Package console is a line-based command transport over stdin/stdout.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	rtsup "restartbot/internal/runtime/supervisor"
	kit "restartbot/internal/transport"
	logx "restartbot/pkg/logx"
)

// UserID identifies the console operator in command requests.
const UserID int64 = -1

type Adapter struct {
	in  io.Reader
	out io.Writer
	log logx.Logger

	wmu sync.Mutex

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	seq   int64
}

func New(in io.Reader, out io.Writer, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{in: in, out: out, log: log}
}

func (a *Adapter) Name() string { return kit.Console }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	sup := a.sup

	lines := make(chan string)
	// The scanner blocks in Read and can't observe ctx; it lives outside the
	// supervisor and exits on EOF.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-sup.Context().Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.log.Warn("console read failed", logx.Err(err))
		}
	}()

	sup.Go0("console.read", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case line, ok := <-lines:
				if !ok {
					a.log.Debug("console input closed")
					return
				}
				text := normalizeLine(line)
				if text == "" {
					continue
				}
				up := kit.Update{Message: &kit.Message{
					Transport:    kit.Console,
					ID:           int(atomic.AddInt64(&a.seq, 1)),
					FromID:       UserID,
					FromUsername: "console",
					Text:         text,
				}}
				select {
				case out <- up:
				case <-c.Done():
					return
				}
			}
		}
	})
	a.log.Info("console commands enabled")
	return nil
}

// normalizeLine makes bare words commands: "tr list" becomes "/tr list".
func normalizeLine(line string) string {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "/") || strings.HasPrefix(s, "!!") {
		return s
	}
	return "/" + s
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_, err := fmt.Fprintln(a.out, text)
	return err
}
