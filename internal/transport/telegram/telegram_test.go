package telegram

import (
	"strings"
	"testing"

	logx "restartbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short=%q", got)
	}

	lines := strings.Repeat("0123456789\n", 10) // 110 runes
	got := splitText(lines, 50)
	if len(got) < 3 {
		t.Fatalf("chunks=%d", len(got))
	}
	for _, c := range got {
		if len([]rune(c)) > 50 {
			t.Fatalf("chunk too long: %d", len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if strings.Join(got, "\n") != strings.TrimRight(lines, "\n") {
		t.Fatalf("content lost")
	}

	// no newline at all: hard cut
	flat := strings.Repeat("x", 25)
	if got := splitText(flat, 10); len(got) != 3 || got[2] != "xxxxx" {
		t.Fatalf("flat=%q", got)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatalf("empty token should fail")
	}
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("offline bot: %v", err)
	}
	if a.Name() != "telegram" {
		t.Fatalf("name=%q", a.Name())
	}
}
