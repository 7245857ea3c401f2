package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	logx "restartbot/pkg/logx"
)

func TestRegisterReusesExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := prometheus.CounterOpts{Name: "restarts_total", Help: "restarts"}

	first, err := Register(reg, prometheus.NewCounter(opts))
	if err != nil {
		t.Fatal(err)
	}
	first.Inc()

	second, err := Register(reg, prometheus.NewCounter(opts))
	if err != nil {
		t.Fatal(err)
	}
	second.Inc()

	if got := testutil.ToFloat64(first); got != 2 {
		t.Fatalf("counter=%v, want shared collector", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "restartbot_test_gauge", Help: "x"})
	reg.MustRegister(g)
	g.Set(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "restartbot_test_gauge 3") {
		t.Fatalf("body missing gauge:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("go collector missing")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ServeConfig{Addr: "127.0.0.1:0"}, NewRegistry(), logx.Nop()) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestPprofIsOptIn(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		srv := httptest.NewServer(newMux(ServeConfig{Path: DefaultPath, Pprof: enabled}, NewRegistry()))
		resp, err := http.Get(srv.URL + "/debug/pprof/")
		if err != nil {
			srv.Close()
			t.Fatal(err)
		}
		resp.Body.Close()
		srv.Close()

		want := http.StatusNotFound
		if enabled {
			want = http.StatusOK
		}
		if resp.StatusCode != want {
			t.Fatalf("pprof=%v: status %d, want %d", enabled, resp.StatusCode, want)
		}
	}
}
