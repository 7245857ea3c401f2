// Package metrics owns the Prometheus registry and its HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "restartbot/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:9108"
	DefaultPath = "/metrics"
)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Register registers c on reg. If an equal collector is already registered,
// the existing one is returned so plugins can re-register across restarts.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ServeConfig configures the HTTP endpoint. Empty fields use the defaults.
type ServeConfig struct {
	Addr string
	Path string
	// Pprof mounts net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool
}

func newMux(cfg ServeConfig, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, Handler(reg))
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Serve exposes reg until ctx is canceled.
// A dedicated ServeMux is used so nothing else leaks onto the endpoint.
func Serve(ctx context.Context, cfg ServeConfig, reg *prometheus.Registry, log logx.Logger) error {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	addr, path := cfg.Addr, cfg.Path
	srv := &http.Server{Addr: addr, Handler: newMux(cfg, reg), ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("metrics endpoint listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("path", path),
		logx.Bool("pprof", cfg.Pprof),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", logx.Err(err))
	}
	<-errCh
	return nil
}
