package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "restartbot/internal/transport"
	logx "restartbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	out  []sent
	menu []kit.BotCommand
	got  chan sent
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{got: make(chan sent, 16)} }

func (f *fakeAdapter) Name() string                                           { return kit.Telegram }
func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	f.out = append(f.out, sent{to, text})
	f.mu.Unlock()
	f.got <- sent{to, text}
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func TestTokenizeCommandLine(t *testing.T) {
	got := tokenizeCommandLine(`/cmd a "b c" 'd' --k=v ""`)
	want := []string{"/cmd", "a", "b c", "d", "--k=v", ""}
	if strings.Join(got, "|") != strings.Join(want, "|") || len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseFlagsKeepsNegativeNumbers(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"-8", "--force", "--n", "3", "-v", "x", "--", "-y"})
	if strings.Join(pos, ",") != "-8,-y" {
		t.Fatalf("pos=%v", pos)
	}
	if flags["n"] != "3" || flags["v"] != "x" {
		t.Fatalf("flags=%v", flags)
	}
	if !bools["force"] {
		t.Fatalf("bools=%v", bools)
	}
}

func TestStripPrefix(t *testing.T) {
	for in, want := range map[string]string{"/help": "help", "!!tr list": "tr list"} {
		got, ok := stripPrefix(in)
		if !ok || got != want {
			t.Fatalf("stripPrefix(%q)=%q,%v", in, got, ok)
		}
	}
	for _, in := range []string{"hello", "/", "!!", "!x"} {
		if _, ok := stripPrefix(in); ok {
			t.Fatalf("%q should not be a command", in)
		}
	}
}

func noop(context.Context, *Request) error { return nil }

func TestMatch(t *testing.T) {
	m := NewCommandManager(logx.Nop(), newFakeAdapter(), nil, Options{Workers: 1})
	m.SetRegistry([]Command{
		{Route: "timed_restart list", Aliases: []string{"trl"}, Handle: noop},
		{Route: "timed_restart add", Handle: noop},
		{Route: "ping", Handle: noop},
		{Route: "server", Aliases: []string{"srv"}, Handle: noop},
		{Route: "server stop", Handle: noop},
	})

	tests := []struct {
		text  string
		route string
		args  string
	}{
		{"/timed_restart add 06:00", "timed_restart add", "06:00"},
		{"!!timed_restart ADD 6:00", "timed_restart add", "6:00"},
		{"/timed_restart_list", "timed_restart list", ""},
		{"/trl", "timed_restart list", ""},
		{"/ping@restart_bot", "ping", ""},
		{"/help timed_restart", "help", "timed_restart"},
		{"/srv", "server", ""},
		{"/srv stop now", "server stop", "now"},
	}
	for _, tc := range tests {
		cmd, _, args, ok := m.match(tc.text)
		if !ok || cmd == nil {
			t.Fatalf("%q: no match", tc.text)
		}
		if cmd.Route != tc.route || strings.Join(args, " ") != tc.args {
			t.Fatalf("%q: route=%q args=%q", tc.text, cmd.Route, args)
		}
	}

	if cmd, path, _, ok := m.match("/timed_restart"); !ok || cmd != nil || len(path) != 1 {
		t.Fatalf("group should match without command: %v %v", cmd, path)
	}
	if cmd, path, _, ok := m.match("/nope"); !ok || cmd != nil || len(path) != 0 {
		t.Fatalf("unknown: %v %v", cmd, path)
	}
	if _, _, _, ok := m.match("just chatting"); ok {
		t.Fatalf("plain text is not a command")
	}
}

func TestDispatchOwnerCheckAndReply(t *testing.T) {
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, []int64{42}, Options{Workers: 2})
	m.SetRegistry([]Command{
		{Route: "secret", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "ok "+strings.Join(req.Args, ","))
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()

	wait := func() sent {
		t.Helper()
		select {
		case s := <-ad.got:
			return s
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply")
		}
		return sent{}
	}

	updates <- kit.Update{Message: &kit.Message{Transport: kit.Telegram, ChatID: 1, FromID: 7, Text: "/secret x"}}
	if s := wait(); s.text != "unauthorized" {
		t.Fatalf("got %q", s.text)
	}

	updates <- kit.Update{Message: &kit.Message{Transport: kit.Telegram, ChatID: 1, FromID: 42, Text: "/secret -3"}}
	if s := wait(); s.text != "ok -3" || s.to.ChatID != 1 {
		t.Fatalf("got %+v", s)
	}

	m.SetOwners(nil, true)
	updates <- kit.Update{Message: &kit.Message{Transport: kit.Console, FromID: -1, Text: "/secret"}}
	if s := wait(); s.text != "ok " || s.to.Transport != kit.Console {
		t.Fatalf("trusted console: %+v", s)
	}

	cancel()
	<-done
}

func TestHelpAndMenu(t *testing.T) {
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, nil, Options{Workers: 1})
	m.SetRegistry([]Command{
		{Route: "timed_restart list", Description: "list restart times", Handle: noop},
		{Route: "timed_restart add", Description: "add a restart time", Access: AccessOwnerOnly, Usage: "/timed_restart add HH:MM", Handle: noop},
	})

	top := m.helpText(nil)
	if !strings.Contains(top, "/timed_restart") || !strings.Contains(top, "/help") {
		t.Fatalf("top help:\n%s", top)
	}
	node := m.helpText([]string{"timed_restart", "add"})
	if !strings.Contains(node, "usage: /timed_restart add HH:MM") || !strings.Contains(node, "owner only") {
		t.Fatalf("node help:\n%s", node)
	}

	if err := m.SyncMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, c := range ad.menu {
		names[c.Command] = true
	}
	for _, want := range []string{"help", "timed_restart", "timed_restart_add", "timed_restart_list"} {
		if !names[want] {
			t.Fatalf("menu missing %q: %+v", want, ad.menu)
		}
	}
}

func TestBuiltinsSurviveRegistryChanges(t *testing.T) {
	m := NewCommandManager(logx.Nop(), newFakeAdapter(), nil, Options{Workers: 1})
	m.SetRegistry([]Command{{Route: "timed_restart list", Handle: noop}})
	m.SetBuiltins(Command{Route: "status", Handle: noop})

	for _, text := range []string{"/status", "/timed_restart list"} {
		if cmd, _, _, _ := m.match(text); cmd == nil {
			t.Fatalf("%q not registered after SetBuiltins", text)
		}
	}

	m.SetRegistry(nil)
	if cmd, _, _, _ := m.match("/status"); cmd == nil || cmd.Route != "status" {
		t.Fatalf("builtin lost on registry change: %v", cmd)
	}
	if cmd, _, _, _ := m.match("/timed_restart list"); cmd != nil {
		t.Fatalf("plugin command should be gone: %v", cmd.Route)
	}
}
