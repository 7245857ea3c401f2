package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoCancelOnError(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")

	sup.Go("fails", func(ctx context.Context) error { return boom })
	sup.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait err=%v, want boom", err)
	}
	if got := sup.Counters(); got.Active != 0 || got.Started != 2 {
		t.Fatalf("counters=%+v", got)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	sup := NewSupervisor(context.Background())
	sup.Go0("panics", func(ctx context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	snap := sup.Snapshot()
	if len(snap.Goroutines) != 1 || snap.Goroutines[0].Panics != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	sup := NewSupervisor(context.Background())
	var runs int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if atomic.LoadInt32(&runs) != 3 {
		t.Fatalf("runs=%d, want 3", runs)
	}
	if err == nil {
		t.Fatalf("first error should be published")
	}
	for _, g := range sup.Snapshot().Goroutines {
		if g.Name == "flaky" && g.Restarts != 2 {
			t.Fatalf("restarts=%d, want 2", g.Restarts)
		}
	}
}

func TestStopWaitsForGoroutines(t *testing.T) {
	sup := NewSupervisor(context.Background())
	var stopped atomic.Bool
	sup.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		stopped.Store(true)
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !stopped.Load() {
		t.Fatalf("goroutine did not observe cancellation")
	}
}
