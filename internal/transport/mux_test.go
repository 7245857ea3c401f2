package transport

import (
	"context"
	"errors"
	"testing"
)

type fakeAdapter struct {
	name    string
	sent    []string
	started bool
	stopped bool
	failing bool
	menus   int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Start(ctx context.Context, out chan<- Update) error {
	if f.failing {
		return errors.New("nope")
	}
	f.started = true
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeAdapter) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error {
	f.sent = append(f.sent, text)
	return nil
}

type menuAdapter struct{ fakeAdapter }

func (m *menuAdapter) UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error {
	m.menus++
	return nil
}

func TestMuxRoutesByTransport(t *testing.T) {
	tg := &menuAdapter{fakeAdapter{name: Telegram}}
	con := &fakeAdapter{name: Console}
	m := NewMux(tg, con, nil)
	ctx := context.Background()

	if m.Len() != 2 {
		t.Fatalf("len=%d", m.Len())
	}
	if err := m.SendText(ctx, ChatTarget{Transport: Console}, "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(con.sent) != 1 || len(tg.sent) != 0 {
		t.Fatalf("routing wrong: console=%v telegram=%v", con.sent, tg.sent)
	}
	if err := m.SendText(ctx, ChatTarget{Transport: "irc"}, "x", nil); err == nil {
		t.Fatalf("unknown transport should fail")
	}
	if err := m.UpdateMenuCommands(ctx, []BotCommand{{Command: "help"}}); err != nil || tg.menus != 1 {
		t.Fatalf("menus=%d err=%v", tg.menus, err)
	}
}

func TestMuxStartUnwindsOnFailure(t *testing.T) {
	ok := &fakeAdapter{name: "a"}
	bad := &fakeAdapter{name: "b", failing: true}
	m := NewMux(ok, bad)
	if err := m.Start(context.Background(), make(chan Update)); err == nil {
		t.Fatalf("expected start error")
	}
	if !ok.started || !ok.stopped {
		t.Fatalf("first adapter should be started then stopped: %+v", ok)
	}
}
