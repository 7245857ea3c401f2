package timedrestart

import (
	"context"
	"encoding/json"
	"time"

	"restartbot/internal/storage"
	logx "restartbot/pkg/logx"
)

type readOnlyDocs struct{ Documents }

func (readOnlyDocs) WriteDocument(context.Context, string, []byte) error { return storage.ErrDisabled }

// Preview loads the schedule the plugin config points at and lists its
// firings within horizon of now. The stored document is never written,
// not even when it is missing.
func Preview(ctx context.Context, docs Documents, raw json.RawMessage, now time.Time, horizon time.Duration) (Schedule, []Firing, error) {
	s, err := decodeSettings(raw)
	if err != nil {
		return Schedule{}, nil, err
	}
	if docs != nil {
		docs = readOnlyDocs{docs}
	}
	sched, err := NewStore(docs, s.document, logx.Nop()).Load(ctx)
	if err != nil {
		return sched, nil, err
	}
	return sched, Upcoming(now.UTC(), sched, s.evalOptions(), horizon), nil
}
