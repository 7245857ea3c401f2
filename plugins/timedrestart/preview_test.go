package timedrestart

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestPreviewDoesNotWrite(t *testing.T) {
	t.Parallel()

	docs, fs := newMemStore(t)
	sched, firings, err := Preview(context.Background(), docs, nil, day().Add(3*time.Hour+50*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, DefaultSchedule(), sched)
	require.NotEmpty(t, firings)

	ok, err := afero.Exists(fs, docFile())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreviewUsesStoredScheduleAndConfig(t *testing.T) {
	t.Parallel()

	docs, fs := newMemStore(t)
	require.NoError(t, afero.WriteFile(fs, docFile(),
		[]byte(`{"restart_times":["01:00"],"warning_minutes":[5,0],"timezone":0}`), 0o600))

	_, firings, err := Preview(context.Background(), docs, []byte(`{"zero_warning":false}`), day().Add(50*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, firings, 2)
	require.Equal(t, Warning, firings[0].Kind)
	require.Equal(t, 5, firings[0].Minutes)
	require.Equal(t, Restart, firings[1].Kind)

	_, _, err = Preview(context.Background(), docs, []byte(`{"poll_interval":"5m"}`), day(), time.Hour)
	require.Error(t, err)
}

func TestPreviewCorruptDocument(t *testing.T) {
	t.Parallel()

	docs, fs := newMemStore(t)
	require.NoError(t, afero.WriteFile(fs, docFile(), []byte(`{not json`), 0o600))

	_, _, err := Preview(context.Background(), docs, nil, day(), time.Hour)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}
