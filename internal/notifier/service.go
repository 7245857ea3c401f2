package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "restartbot/pkg/logx"
)

var ErrNoSinks = errors.New("no announce sinks configured")

// Service is safe for concurrent use. Sinks can be swapped at runtime.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	limiter *rate.Limiter
	sinks   []Sink

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log}
	s.applyLocked(cfg)
	s.sinks = compact(sinks)
	return s
}

func compact(sinks []Sink) []Sink {
	out := make([]Sink, 0, len(sinks))
	for _, sk := range sinks {
		if sk != nil {
			out = append(out, sk)
		}
	}
	return out
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.History <= 0 {
		cfg.History = 20
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so a countdown burst isn't delayed.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSinks replaces the sink list and returns the previous one so the caller
// can close sinks that went away.
func (s *Service) SetSinks(sinks ...Sink) []Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.sinks
	s.sinks = compact(sinks)
	return old
}

func (s *Service) SinkNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

// Announce delivers text to all sinks. It returns ErrNoSinks when there is
// nowhere to send; the text is still logged.
func (s *Service) Announce(ctx context.Context, text string) error {
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	limiter := s.limiter
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	s.log.Info("announce", logx.String("text", text), logx.Int("sinks", len(sinks)))
	if len(sinks) == 0 {
		s.record(HistoryItem{At: time.Now(), Text: text})
		return ErrNoSinks
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("announce rate limit: %w", err)
	}

	var (
		errs   []error
		failed []string
	)
	for _, sk := range sinks {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := sk.Send(sctx, text)
		cancel()
		if err != nil {
			failed = append(failed, sk.Name())
			errs = append(errs, fmt.Errorf("%s: %w", sk.Name(), err))
			s.log.Warn("announce sink failed", logx.String("sink", sk.Name()), logx.Err(err))
		}
	}
	s.record(HistoryItem{At: time.Now(), Text: text, Failed: failed})
	return errors.Join(errs...)
}

func (s *Service) record(it HistoryItem) {
	s.mu.Lock()
	max := s.cfg.History
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - max; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}

// History returns recent announcements, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Close closes sinks that implement io.Closer.
func (s *Service) Close() error {
	return CloseSinks(s.SetSinks())
}

// CloseSinks closes every sink that implements io.Closer.
func CloseSinks(sinks []Sink) error {
	var errs []error
	for _, sk := range sinks {
		if c, ok := sk.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sk.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
