package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").With(String("comp", "test"))

	log.Info("hello", Int("n", 3), Duration("d", time.Second), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["err"] != "boom" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["n"].(float64) != 3 {
		t.Fatalf("n=%v", m["n"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn: %q", buf.String())
	}
	if log.Enabled(LevelInfo) || !log.Enabled(LevelError) {
		t.Fatalf("Enabled mismatch")
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn should pass")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	l.Error("no panic")
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}
