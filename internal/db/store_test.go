package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCommandsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, c := range []Command{
		{SessionID: "a", Command: "OpenBrowser", OK: true, Log: "opened chromium"},
		{SessionID: "b", Command: "NewPage", Payload: `{"url":"https://example.com"}`, OK: true},
		{SessionID: "a", Command: "SwitchActivePage", Kind: "IndexOutOfRange", Error: "index out of range", DurationMs: 3},
	} {
		_, err := store.InsertCommand(ctx, c)
		require.NoError(t, err)
	}

	all, err := store.ListCommands(ctx, ListCommandsParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "SwitchActivePage", all[0].Command)
	assert.False(t, all[0].OK)
	assert.Equal(t, "IndexOutOfRange", all[0].Kind)
	assert.Equal(t, int64(3), all[0].DurationMs)
	assert.Equal(t, `{"url":"https://example.com"}`, all[1].Payload)
	assert.False(t, all[2].CreatedAt.IsZero())

	onlyA, err := store.ListCommands(ctx, ListCommandsParams{SessionID: "a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "SwitchActivePage", onlyA[0].Command)
}

func TestErrorLogs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.InsertErrorLog(ctx, InsertErrorLogParams{
		Level:      "panic",
		Module:     "dispatch",
		Message:    "boom",
		Stacktrace: sql.NullString{String: "goroutine 1", Valid: true},
	}))

	logs, err := store.ListErrorLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "dispatch", logs[0].Module)
	assert.Equal(t, "goroutine 1", logs[0].Stacktrace)
	assert.Empty(t, logs[0].Context)
}

func TestMigrationsAreRerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestOpenReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	_, err := OpenReadOnly(path)
	require.Error(t, err)

	store, err := NewSQLite(path)
	require.NoError(t, err)
	_, err = store.InsertCommand(ctx, Command{SessionID: "a", Command: "NewPage", OK: true})
	require.NoError(t, err)

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()
	entries, err := ro.ListCommands(ctx, ListCommandsParams{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NewPage", entries[0].Command)

	_, err = ro.InsertCommand(ctx, Command{SessionID: "a", Command: "ClosePage"})
	assert.Error(t, err)
	require.NoError(t, store.Close())
}
