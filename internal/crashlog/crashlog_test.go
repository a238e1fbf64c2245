package crashlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/browserd/internal/db"
)

func TestLogWithoutInit(t *testing.T) {
	Init(nil)
	LogPanic("test", "boom", nil)
	LogError("test", errors.New("bad"), nil)
	LogWarn("test", "careful", nil)
}

func TestLogPersists(t *testing.T) {
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	Init(store)
	t.Cleanup(func() {
		Init(nil)
		store.Close()
	})

	LogPanic("dispatch", "nil map", map[string]string{"command": "NewPage"})
	LogError("server", errors.New("listen failed"), nil)
	LogError("server", nil, nil)

	logs, err := store.ListErrorLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, "error", logs[0].Level)
	assert.Equal(t, "listen failed", logs[0].Message)

	assert.Equal(t, "panic", logs[1].Level)
	assert.Equal(t, "nil map", logs[1].Message)
	assert.Contains(t, logs[1].Stacktrace, "goroutine")
	assert.JSONEq(t, `{"command":"NewPage"}`, logs[1].Context)
}

type failingSink struct{ calls int }

func (f *failingSink) InsertErrorLog(context.Context, db.InsertErrorLogParams) error {
	f.calls++
	return errors.New("disk full")
}

func TestSinkFailureIsSwallowed(t *testing.T) {
	sink := &failingSink{}
	active.Store(&holder{sink: sink})
	t.Cleanup(func() { Init(nil) })

	LogWarn("journal", "slow write", map[string]string{"command": "GoTo"})
	LogPanic("rpc", 42, nil)
	assert.Equal(t, 2, sink.calls)
}
