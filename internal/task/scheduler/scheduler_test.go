package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "restartbot/pkg/logx"
)

func TestAddIntervalRunsAndRecordsHistory(t *testing.T) {
	s := New(Config{HistorySize: 3}, logx.Nop())
	var runs int32
	if _, err := s.AddInterval("tick", time.Second, time.Second, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			return errors.New("first run fails")
		}
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&runs) < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	if atomic.LoadInt32(&runs) < 2 {
		t.Fatalf("runs=%d, want >= 2", runs)
	}
	snap := s.Snapshot()
	if snap.Running {
		t.Fatalf("snapshot should report stopped")
	}
	if len(snap.History) < 2 {
		t.Fatalf("history=%+v", snap.History)
	}
	oldest := snap.History[len(snap.History)-1]
	if oldest.Err == "" {
		t.Fatalf("oldest run should carry the error: %+v", oldest)
	}
	if last, ok := s.LastRun("tick"); !ok || last.Err != "" {
		t.Fatalf("last run=%+v ok=%v", last, ok)
	}
}

func TestUpsertAndRemove(t *testing.T) {
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }

	if _, err := s.AddInterval("job", time.Second, 0, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddInterval("job", time.Minute, 0, noop); err != nil {
		t.Fatalf("replace: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 1m0s" {
		t.Fatalf("schedules=%+v", snap.Schedules)
	}
	if !s.Remove("job") || s.Remove("job") {
		t.Fatalf("remove should succeed once")
	}
}

func TestAddValidation(t *testing.T) {
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }
	if _, err := s.AddInterval("nil job", time.Second, 0, nil); err == nil {
		t.Fatalf("nil job should fail")
	}
	if _, err := s.AddInterval("zero", 0, 0, noop); err == nil {
		t.Fatalf("zero interval should fail")
	}
	if _, err := s.AddInterval(" ", time.Second, 0, noop); err == nil {
		t.Fatalf("empty name should fail")
	}
}

func TestHistoryRingKeepsNewest(t *testing.T) {
	s := New(Config{HistorySize: 2}, logx.Nop())
	for _, n := range []string{"a", "b", "c"} {
		s.record(HistoryItem{Name: n})
	}
	h := s.Snapshot().History
	if len(h) != 2 || h[0].Name != "c" || h[1].Name != "b" {
		t.Fatalf("history=%+v", h)
	}
}
