package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/browserd/internal/lifecycle"
)

func newTestManager(t *testing.T, opts ManagerOptions) (*Manager, *fakeDriver) {
	t.Helper()
	d := newFakeDriver()
	if opts.Events == nil {
		opts.Events = lifecycle.NewManager()
	}
	m := NewManager(testConfig(), d, opts)
	t.Cleanup(func() {
		require.NoError(t, m.Shutdown(context.Background()))
	})
	return m, d
}

func TestManagerSessionGetOrCreate(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})

	a, err := m.Session("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionID, a.ID)

	again, err := m.Session(DefaultSessionID)
	require.NoError(t, err)
	assert.Same(t, a, again)

	b, err := m.Session("other")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, ok := m.Lookup("missing")
	assert.False(t, ok)

	infos := m.Sessions()
	require.Len(t, infos, 2)
	assert.Equal(t, DefaultSessionID, infos[0].ID)
	assert.Equal(t, "other", infos[1].ID)
}

func TestManagerReplacesClosedSession(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})

	s, err := m.Session("a")
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))

	_, ok := m.Lookup("a")
	assert.False(t, ok)

	fresh, err := m.Session("a")
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	assert.False(t, fresh.IsClosed())
}

func TestManagerSessionLimit(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{MaxSessions: 2})

	_, err := m.Session("a")
	require.NoError(t, err)
	_, err = m.Session("b")
	require.NoError(t, err)
	_, err = m.Session("c")
	assert.ErrorIs(t, err, ErrSessionLimit)

	// Existing sessions are still reachable at the cap.
	_, err = m.Session("a")
	assert.NoError(t, err)

	require.NoError(t, m.CloseSession(context.Background(), "a"))
	_, err = m.Session("c")
	assert.NoError(t, err)

	m.SetLimits(0, 0)
	_, err = m.Session("d")
	assert.NoError(t, err)
}

func TestManagerCloseSession(t *testing.T) {
	m, d := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	s, err := m.Session("a")
	require.NoError(t, err)
	_, err = s.NewPage(ctx, "https://example.com")
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(ctx, "a"))
	assert.True(t, s.IsClosed())
	assert.True(t, d.last().isClosed())

	// Unknown ids are a no-op.
	assert.NoError(t, m.CloseSession(ctx, "a"))
}

func TestManagerReapIdle(t *testing.T) {
	events := lifecycle.NewManager()
	var reaped []string
	events.On(lifecycle.EventSessionReaped, func(_ lifecycle.Event, data any) {
		reaped = append(reaped, data.(lifecycle.SessionEventData).SessionID)
	})
	m, d := newTestManager(t, ManagerOptions{IdleTimeout: time.Minute, Events: events})
	ctx := context.Background()

	idle, err := m.Session("idle")
	require.NoError(t, err)
	_, err = idle.NewPage(ctx, "")
	require.NoError(t, err)
	busy, err := m.Session("busy")
	require.NoError(t, err)

	now := time.Now().Add(2 * time.Minute)
	busy.lastUsed.Store(now.Add(-time.Second).UnixNano())

	assert.Equal(t, []string{"idle"}, m.ReapIdle(ctx, now))
	assert.Equal(t, []string{"idle"}, reaped)
	assert.True(t, idle.IsClosed())
	assert.True(t, d.last().isClosed())
	assert.False(t, busy.IsClosed())

	m.SetLimits(0, 0)
	assert.Empty(t, m.ReapIdle(ctx, now.Add(time.Hour)))
}

func TestManagerStats(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	s, err := m.Session("a")
	require.NoError(t, err)
	_, err = s.NewPage(ctx, "")
	require.NoError(t, err)
	_, err = s.NewPage(ctx, "")
	require.NoError(t, err)
	_, err = m.Session("b")
	require.NoError(t, err)

	assert.Equal(t, Stats{Sessions: 2, Browsers: 1, Contexts: 1, Pages: 2}, m.Stats())
}

func TestManagerScheduleAndShutdown(t *testing.T) {
	d := newFakeDriver()
	m := NewManager(testConfig(), d, ManagerOptions{
		IdleTimeout:  time.Minute,
		ReapSchedule: "@every 1h",
		Events:       lifecycle.NewManager(),
	})
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	require.NoError(t, m.Reschedule("@every 30m"))
	assert.Error(t, m.Reschedule("every now and then"))
	require.NoError(t, m.Reschedule(""))
	require.NoError(t, m.Reschedule("@every 2h"))

	s, err := m.Session("a")
	require.NoError(t, err)
	_, err = s.NewPage(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, s.IsClosed())
	assert.True(t, d.closed)

	_, err = m.Session("b")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestManagerBadSchedule(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{ReapSchedule: "sometimes"})
	assert.Error(t, m.Start())
}

func TestManagerLookupDoesNotWaitOnBusySession(t *testing.T) {
	m, d := newTestManager(t, ManagerOptions{})
	d.setDelay(time.Second)

	a, err := m.Session("a")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := a.NewPage(context.Background(), "")
		done <- err
	}()
	require.Eventually(t, func() bool { return d.launches.Load() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	again, err := m.Session("a")
	require.NoError(t, err)
	assert.Same(t, a, again)
	_, ok := m.Lookup("a")
	assert.True(t, ok)
	_, err = m.Session("b")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	require.NoError(t, <-done)
}
