package notifier

import (
	"context"
	"time"
)

type Config struct {
	RatePerSec int           // default 2
	Timeout    time.Duration // per-sink send timeout, default 5s
	History    int           // default 20
}

// Sink is one announcement destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

type HistoryItem struct {
	At     time.Time
	Text   string
	Failed []string // sink names that failed
}
