package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "restartbot/pkg/logx"
)

type Config struct {
	Timezone    string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	HistorySize int    // default 50
}

type jobDef struct {
	name    string
	spec    string // "@every <d>"
	every   time.Duration
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	c    *cron.Cron
	defs []jobDef

	// runCtx is canceled on Stop so in-flight jobs unwind.
	runCtx    context.Context
	runCancel context.CancelFunc

	hmu     sync.Mutex
	histMax int
	history []HistoryItem
	next    int
}

type HistoryItem struct {
	Name    string
	Started time.Time
	Took    time.Duration
	Err     string
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem // newest first
}
