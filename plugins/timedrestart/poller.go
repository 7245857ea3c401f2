package timedrestart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "restartbot/pkg/logx"
)

// Poller runs one schedule check per Tick. Ticks are serialized.
type Poller struct {
	state    *State
	announce func(ctx context.Context, text string) error
	restart  func(ctx context.Context) error
	log      logx.Logger
	metrics  *pluginMetrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	cfg           settings
	cooldownFrom  time.Time
	cooldownUntil time.Time
	// fired maps event key -> minute it last fired. A schedule change keeps
	// only the current minute's entries.
	fired         map[string]time.Time
	ledgerVersion uint64

	// unix nanos, readable while a tick is in progress
	lastTick    atomic.Int64
	lastRestart atomic.Int64
}

func NewPoller(state *State, cfg settings, announce func(context.Context, string) error, restart func(context.Context) error, m *pluginMetrics, log logx.Logger) *Poller {
	if m == nil {
		m = newPluginMetrics(nil, log)
	}
	return &Poller{
		state:    state,
		announce: announce,
		restart:  restart,
		log:      log,
		metrics:  m,
		now:      time.Now,
		sleep:    sleepCtx,
		cfg:      cfg,
		fired:    map[string]time.Time{},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Poller) Apply(cfg settings) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// LastTick returns when the last check completed (zero before the first).
func (p *Poller) LastTick() time.Time { return fromNanos(p.lastTick.Load()) }

func (p *Poller) LastRestart() time.Time { return fromNanos(p.lastRestart.Load()) }

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func eventKey(e Event) string { return e.String() }

// Tick evaluates the schedule once and performs due announcements and
// the restart. Collaborator failures are logged and returned joined; they
// never stop later ticks.
func (p *Poller) Tick(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	defer func() {
		done := p.now()
		p.lastTick.Store(done.UnixNano())
		p.metrics.lastTick.Set(float64(done.Unix()))
	}()

	if p.inCooldown(now) {
		return nil
	}

	var (
		events  []Event
		version uint64
		next    time.Time
		hasNext bool
	)
	p.state.View(func(s Schedule, v uint64) {
		events = Evaluate(now, s, p.cfg.evalOptions())
		version = v
		next, hasNext = NextRestart(now, s)
	})
	if hasNext {
		p.metrics.nextRestart.Set(float64(next.Unix()))
	} else {
		p.metrics.nextRestart.Set(0)
	}

	minute := now.Truncate(time.Minute)
	if version != p.ledgerVersion {
		for k, at := range p.fired {
			if !at.Equal(minute) {
				delete(p.fired, k)
			}
		}
		p.ledgerVersion = version
	}
	for k, at := range p.fired {
		if now.Sub(at) > p.cfg.duplicateWindow {
			delete(p.fired, k)
		}
	}

	var (
		errs    []error
		restart *Event
	)
	for _, e := range events {
		key := eventKey(e)
		if last, ok := p.fired[key]; ok {
			if !last.Equal(minute) {
				// fired before at a different minute: the clock moved back
				p.metrics.duplicates.Inc()
				p.log.Warn("duplicate schedule event suppressed",
					logx.String("event", key),
					logx.Time("last_fired", last),
					logx.Time("now", now),
				)
			}
			continue
		}
		if e.Kind == Restart && restart != nil {
			p.log.Warn("second restart in the same minute skipped",
				logx.String("event", key),
				logx.String("restarting_for", restart.At.String()),
			)
			p.fired[key] = minute
			continue
		}
		p.fired[key] = minute
		p.metrics.events.WithLabelValues(e.Kind.String()).Inc()

		switch e.Kind {
		case Warning:
			p.log.Info("restart warning", logx.Int("minutes", e.Minutes), logx.String("restart_at", e.At.String()))
			if err := p.announce(ctx, renderWarning(p.cfg.warningMessage, e.Minutes)); err != nil {
				errs = append(errs, p.fail("announce", err))
			}
		case Restart:
			ev := e
			restart = &ev
		}
	}
	// warnings for later restarts go out before the final message
	if restart != nil {
		errs = append(errs, p.doRestart(ctx, *restart, minute))
	}
	return errors.Join(errs...)
}

func (p *Poller) doRestart(ctx context.Context, e Event, minute time.Time) error {
	p.log.Warn("scheduled restart", logx.String("restart_at", e.At.String()))
	defer p.startCooldown(minute)
	var errs []error
	if err := p.announce(ctx, p.cfg.finalMessage); err != nil {
		errs = append(errs, p.fail("announce", err))
	}
	// let the final message reach players
	if err := p.sleep(ctx, p.cfg.grace); err != nil {
		errs = append(errs, p.fail("restart", fmt.Errorf("grace wait: %w", err)))
		return errors.Join(errs...)
	}
	rctx, cancel := context.WithTimeout(ctx, p.cfg.restartTimeout)
	err := p.restart(rctx)
	cancel()
	if err != nil {
		errs = append(errs, p.fail("restart", err))
	} else {
		p.lastRestart.Store(p.now().UnixNano())
		p.log.Info("restart triggered", logx.String("restart_at", e.At.String()))
	}
	return errors.Join(errs...)
}

// startCooldown quiets ticks for the rest of the restart minute, at most
// cfg.cooldown. Events of the next minute are never swallowed.
func (p *Poller) startCooldown(minute time.Time) {
	from := p.now().UTC()
	until := from.Add(p.cfg.cooldown)
	if end := minute.Add(time.Minute); end.Before(until) {
		until = end
	}
	p.cooldownFrom, p.cooldownUntil = from, until
}

// inCooldown reports whether now falls in the cooldown after the last
// restart. A clock moved back before the restart ends the cooldown.
func (p *Poller) inCooldown(now time.Time) bool {
	if p.cooldownFrom.IsZero() {
		return false
	}
	return !now.Before(p.cooldownFrom) && now.Before(p.cooldownUntil)
}

func (p *Poller) fail(op string, err error) error {
	p.metrics.failures.WithLabelValues(op).Inc()
	p.log.Error("timed restart "+op+" failed", logx.Err(err))
	return fmt.Errorf("%s: %w", op, err)
}
