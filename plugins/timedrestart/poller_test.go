package timedrestart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	logx "restartbot/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// recorder collects announcements and restarts in call order.
type recorder struct {
	mu          sync.Mutex
	calls       []string
	announceErr error
	restartErr  error
}

func (r *recorder) announce(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "say:"+text)
	return r.announceErr
}

func (r *recorder) restart(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "restart")
	return r.restartErr
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}

type pollerEnv struct {
	clock  *fakeClock
	rec    *recorder
	state  *State
	poller *Poller
	m      *pluginMetrics
	slept  []time.Duration
}

func newPollerEnv(t *testing.T, s Schedule) *pollerEnv {
	t.Helper()
	env := &pollerEnv{clock: &fakeClock{}, rec: &recorder{}, state: NewState(s)}
	env.m = newPluginMetrics(prometheus.NewRegistry(), logx.Nop())
	env.poller = NewPoller(env.state, defaultSettings(), env.rec.announce, env.rec.restart, env.m, logx.Nop())
	env.poller.now = env.clock.Now
	env.poller.sleep = func(ctx context.Context, d time.Duration) error {
		env.slept = append(env.slept, d)
		return nil
	}
	return env
}

func (e *pollerEnv) tickAt(t *testing.T, at time.Time) []string {
	t.Helper()
	e.clock.Set(at)
	_ = e.poller.Tick(context.Background())
	return e.rec.take()
}

func at(hh, mm, ss int) time.Time { return time.Date(2026, 5, 10, hh, mm, ss, 0, time.UTC) }

func TestPollerWarningsThenRestart(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00"}, WarningMinutes: []int{5, 3, 1}, Timezone: 0})

	var got []string
	// two ticks per minute, like a sub-minute poll interval
	for m := 50; m < 70; m++ {
		for _, sec := range []int{0, 30} {
			got = append(got, env.tickAt(t, at(5, 0, sec).Add(time.Duration(m)*time.Minute))...)
		}
	}
	require.Equal(t, []string{
		"say:Server restarts in 5 minute(s)!",
		"say:Server restarts in 3 minute(s)!",
		"say:Server restarts in 1 minute(s)!",
		"say:Server is restarting now!",
		"restart",
	}, got)
	require.Equal(t, []time.Duration{defaultGrace}, env.slept)
	require.False(t, env.poller.LastRestart().IsZero())
	require.Equal(t, float64(3), testutil.ToFloat64(env.m.events.WithLabelValues("warning")))
	require.Equal(t, float64(1), testutil.ToFloat64(env.m.events.WithLabelValues("restart")))
}

func TestPollerCooldownSkipsTicks(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00", "06:01"}, WarningMinutes: []int{}, Timezone: 0})

	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(6, 0, 10)))
	require.Empty(t, env.tickAt(t, at(6, 0, 40)))
	env.poller.mu.Lock()
	require.True(t, env.poller.inCooldown(at(6, 0, 59)))
	require.False(t, env.poller.inCooldown(at(6, 1, 0)))
	env.poller.mu.Unlock()

	// the cooldown ends with the restart minute
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(6, 1, 5)))
	require.Empty(t, env.tickAt(t, at(6, 2, 0)))
}

func TestPollerLateRestartKeepsNextMinute(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00", "06:02"}, WarningMinutes: []int{1}, Timezone: 0})
	// the grace wait runs past the end of the restart minute
	env.poller.sleep = func(ctx context.Context, d time.Duration) error {
		env.clock.Set(env.clock.Now().Add(d))
		return nil
	}

	require.Equal(t, []string{"say:Server restarts in 1 minute(s)!"}, env.tickAt(t, at(5, 59, 0)))
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(6, 0, 59)))
	require.Equal(t, []string{"say:Server restarts in 1 minute(s)!"}, env.tickAt(t, at(6, 1, 5)))
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(6, 2, 0)))
}

func TestPollerWarningBesideRestart(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00", "06:05"}, WarningMinutes: []int{5}, Timezone: 0})

	// 06:00 is both a restart and the 5 minute warning for 06:05
	require.Equal(t, []string{
		"say:Server restarts in 5 minute(s)!",
		"say:Server is restarting now!",
		"restart",
	}, env.tickAt(t, at(6, 0, 0)))
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(6, 5, 0)))
	require.Equal(t, float64(1), testutil.ToFloat64(env.m.events.WithLabelValues("warning")))
	require.Equal(t, float64(2), testutil.ToFloat64(env.m.events.WithLabelValues("restart")))
}

func TestPollerSingleRestartScenario(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00"}, WarningMinutes: []int{5}, Timezone: 0})

	for ts := at(5, 54, 0); ts.Before(at(6, 1, 0)); ts = ts.Add(10 * time.Second) {
		got := env.tickAt(t, ts)
		switch {
		case ts.Equal(at(5, 55, 0)):
			require.Equal(t, []string{"say:Server restarts in 5 minute(s)!"}, got)
		case ts.Equal(at(6, 0, 0)):
			require.Equal(t, []string{"say:Server is restarting now!", "restart"}, got)
		default:
			require.Empty(t, got, ts.Format(time.TimeOnly))
		}
	}
	require.Equal(t, float64(1), testutil.ToFloat64(env.m.events.WithLabelValues("restart")))
}

func TestPollerClockBackwardsDoesNotRefire(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00"}, WarningMinutes: []int{5}, Timezone: 0})

	require.Equal(t, []string{"say:Server restarts in 5 minute(s)!"}, env.tickAt(t, at(5, 55, 0)))
	// same minute again after a small correction
	require.Empty(t, env.tickAt(t, at(5, 55, 40)))

	// a full day back lands on the same event at a different minute
	require.Empty(t, env.tickAt(t, at(5, 55, 0).Add(-24*time.Hour)))
	require.Equal(t, float64(1), testutil.ToFloat64(env.m.duplicates))
}

func TestPollerClockBackwardsEndsCooldown(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00"}, WarningMinutes: []int{10}, Timezone: 0})

	require.Equal(t, []string{"say:Server restarts in 10 minute(s)!"}, env.tickAt(t, at(5, 50, 0)))
	require.Len(t, env.tickAt(t, at(6, 0, 0)), 2)

	// the clock is corrected back before the restart: the poller keeps running
	// but nothing that already fired repeats
	require.Empty(t, env.tickAt(t, at(5, 50, 0)))
	env.poller.mu.Lock()
	require.False(t, env.poller.inCooldown(at(5, 50, 0)))
	env.poller.mu.Unlock()
}

func TestPollerScheduleChangeResetsLedger(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00"}, WarningMinutes: []int{5}, Timezone: 0})
	addTime := func(hhmm string) {
		require.NoError(t, env.state.Update(func(s *Schedule) error {
			s.RestartTimes = append(s.RestartTimes, hhmm)
			return nil
		}))
	}

	require.Len(t, env.tickAt(t, at(5, 55, 0)), 1)
	addTime("07:00")
	// the warning already went out this minute
	require.Empty(t, env.tickAt(t, at(5, 55, 30)))

	// older entries are dropped once the schedule changes in another minute
	addTime("08:00")
	require.Empty(t, env.tickAt(t, at(5, 56, 0)))
	require.Equal(t, []string{"say:Server restarts in 5 minute(s)!"}, env.tickAt(t, at(5, 55, 0).Add(-24*time.Hour)))
	require.Zero(t, testutil.ToFloat64(env.m.duplicates))
}

func TestPollerFailuresDoNotStopRestart(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00"}, WarningMinutes: []int{}, Timezone: 0})
	env.rec.announceErr = errors.New("no players online")
	env.rec.restartErr = errors.New("dbus gone")

	env.clock.Set(at(6, 0, 0))
	err := env.poller.Tick(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "no players online")
	require.ErrorContains(t, err, "dbus gone")
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.rec.take())
	require.True(t, env.poller.LastRestart().IsZero())
	require.Equal(t, float64(1), testutil.ToFloat64(env.m.failures.WithLabelValues("announce")))
	require.Equal(t, float64(1), testutil.ToFloat64(env.m.failures.WithLabelValues("restart")))

	// the next day still fires
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(6, 0, 0).Add(24*time.Hour)))
}

func TestPollerZeroWarning(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{RestartTimes: []string{"06:00"}, WarningMinutes: []int{0}, Timezone: 0})
	require.Equal(t, []string{
		"say:Server restarts in 0 minute(s)!",
		"say:Server is restarting now!",
		"restart",
	}, env.tickAt(t, at(6, 0, 0)))

	cfg := defaultSettings()
	cfg.zeroWarning = false
	env.poller.Apply(cfg)
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(6, 0, 0).Add(24*time.Hour)))
}

func TestPollerTimezone(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, DefaultSchedule())

	// 06:00 at UTC+8 is 22:00 UTC the previous day
	require.Empty(t, env.tickAt(t, at(6, 0, 0)))
	require.Equal(t, []string{"say:Server is restarting now!", "restart"}, env.tickAt(t, at(22, 0, 0)))
}

func TestPollerLastTick(t *testing.T) {
	t.Parallel()
	env := newPollerEnv(t, Schedule{})
	require.True(t, env.poller.LastTick().IsZero())
	env.tickAt(t, at(1, 2, 3))
	require.True(t, env.poller.LastTick().Equal(at(1, 2, 3)))
	require.Equal(t, float64(at(1, 2, 3).Unix()), testutil.ToFloat64(env.m.lastTick))
}

func TestPollerConcurrentWithCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newTestController(t)
	rec := &recorder{}
	poller := NewPoller(c.state, defaultSettings(), rec.announce, rec.restart, nil, logx.Nop())
	poller.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	clock := &fakeClock{}
	poller.now = clock.Now

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ts := at(5, 0, 0); ts.Before(at(7, 0, 0)); ts = ts.Add(10 * time.Second) {
			clock.Set(ts)
			_ = poller.Tick(ctx)
		}
	}()
	mutators := []func(i int){
		func(i int) { _, _ = c.Add(ctx, fmt.Sprintf("06:%02d", i%60)) },
		func(i int) { _, _ = c.Remove(ctx, fmt.Sprintf("06:%02d", (i+30)%60)) },
		func(i int) { _, _ = c.SetTimezone(ctx, strconv.Itoa(i%25-12)) },
		func(i int) { _, _ = c.Reload(ctx) },
		func(i int) { _ = c.List() },
	}
	for _, fn := range mutators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fn(i)
			}
		}()
	}
	wg.Wait()

	s, _ := c.state.Snapshot()
	require.NoError(t, s.Validate())
	require.False(t, poller.LastTick().IsZero())
}
