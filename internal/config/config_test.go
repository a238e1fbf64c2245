package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoadFromBytesDefaults(t *testing.T) {
	c, err := LoadFromBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadFromBytesOverlay(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")
	c, err := LoadFromBytes([]byte(`
server:
  httpPort: 9000
  maxSessions: 4
auth:
  accessSecret: ${TEST_SECRET}
browser:
  defaultEngine: firefox
  launchTimeout: 5s
reaper:
  idleTimeout: 2m
`))
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Server.HTTPPort)
	assert.Equal(t, 17770, c.Server.GRPCPort)
	assert.Equal(t, 4, c.Server.MaxSessions)
	assert.Equal(t, "s3cret", c.Auth.AccessSecret)
	assert.Equal(t, "firefox", c.Browser.DefaultEngine)
	assert.Equal(t, 5*time.Second, c.Browser.LaunchTimeout)
	assert.True(t, c.Browser.Headless)
	assert.Equal(t, 2*time.Minute, c.Reaper.IdleTimeout)
	assert.Equal(t, "@every 1m", c.Reaper.Schedule)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BROWSERD_SERVER_HTTP_PORT", "9100")
	t.Setenv("BROWSERD_BROWSER_HEADLESS", "false")
	t.Setenv("BROWSERD_REAPER_SCHEDULE", "@every 5m")
	t.Setenv("BROWSERD_LOGGING_LEVEL", "debug")

	c, err := LoadFromBytes([]byte("server:\n  httpPort: 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 9100, c.Server.HTTPPort)
	assert.False(t, c.Browser.Headless)
	assert.Equal(t, "@every 5m", c.Reaper.Schedule)
	assert.Equal(t, "debug", c.Logging.Level)
	// Bare names must not leak in.
	assert.Empty(t, c.Journal.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "server:\n  colour: blue\n"},
		{"bad port", "server:\n  httpPort: 70000\n"},
		{"bad schedule", "reaper:\n  schedule: sometimes\n"},
		{"bad engine", "browser:\n  defaultEngine: netscape\n"},
		{"bad driver", "browser:\n  driver: selenium\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad duration", "reaper:\n  idleTimeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "browserd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  maxSessions: 2\n"), 0644))

	base, err := LoadFromBytes([]byte("server:\n  httpPort: 9000\n"))
	require.NoError(t, err)

	c, err := LoadFile(base, path)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Server.HTTPPort)
	assert.Equal(t, 2, c.Server.MaxSessions)

	_, err = LoadFile(base, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchAppliesValidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "browserd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  maxSessions: 2\n"), 0644))

	var (
		mu      sync.Mutex
		applied []Reloadable
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, Default(), path, func(c Config) {
			mu.Lock()
			defer mu.Unlock()
			applied = append(applied, c.Reloadable())
		})
	}()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	last := func() (Reloadable, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(applied) == 0 {
			return Reloadable{}, false
		}
		return applied[len(applied)-1], true
	}

	// The watcher may start after the first write; keep writing until seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("server:\n  maxSessions: 7\nlogging:\n  level: warn\n"), 0644)
		r, ok := last()
		return ok && r.MaxSessions == 7 && r.LogLevel == "warn"
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  maxSessions: -1\n"), 0644))
	time.Sleep(100 * time.Millisecond)
	r, _ := last()
	assert.Equal(t, 7, r.MaxSessions)
}
