package restarter

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	logx "restartbot/pkg/logx"
)

func TestNormalizeUnit(t *testing.T) {
	tests := map[string]string{
		"gameserver":          "gameserver.service",
		" gameserver.service": "gameserver.service",
		"game.target":         "game.target",
		"my.server":           "my.server.service",
		"":                    "",
	}
	for in, want := range tests {
		if got := normalizeUnit(in); got != want {
			t.Fatalf("normalizeUnit(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Driver: "reboot"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	if _, err := New(Config{Driver: "command"}, logx.Nop()); err == nil {
		t.Fatalf("command driver without command should fail")
	}
	if _, err := New(Config{Driver: "systemd"}, logx.Nop()); err == nil {
		t.Fatalf("systemd driver without unit should fail")
	}
	r, err := New(Config{}, logx.Nop())
	if err != nil || r.Name() != "none" {
		t.Fatalf("default driver: %v %v", r, err)
	}
	if err := r.Restart(context.Background()); err != nil {
		t.Fatalf("none restart: %v", err)
	}
}

func TestCommandRestarter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	ok, err := New(Config{Driver: "command", Command: []string{"sh", "-c", "exit 0"}}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := ok.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	bad, _ := New(Config{Driver: "command", Command: []string{"sh", "-c", "echo unit missing; exit 3"}}, logx.Nop())
	err = bad.Restart(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unit missing") {
		t.Fatalf("err=%v, want output attached", err)
	}

	slow, _ := New(Config{Driver: "command", Command: []string{"sh", "-c", "sleep 5"}}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := slow.Restart(ctx); err == nil {
		t.Fatalf("timeout should kill the command")
	}
}
