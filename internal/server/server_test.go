package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/browserd/internal/browser/browsertest"
	"github.com/neboloop/browserd/internal/config"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/httputil"
	"github.com/neboloop/browserd/internal/lifecycle"
	"github.com/neboloop/browserd/internal/middleware"
	"github.com/neboloop/browserd/internal/rpc"
	"github.com/neboloop/browserd/internal/svc"
	"github.com/neboloop/browserd/internal/types"
)

const testSecret = "server-secret"

func newServiceContext(t *testing.T, mutate func(*config.Config)) *svc.ServiceContext {
	t.Helper()
	c := config.Default()
	c.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	c.Server.RateLimit = 0
	if mutate != nil {
		mutate(&c)
	}
	svcCtx, err := svc.NewServiceContext(c,
		svc.WithDriver(browsertest.NewDriver()),
		svc.WithEvents(lifecycle.NewManager()),
		svc.WithVersion("test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svcCtx.Close(context.Background()) })
	return svcCtx
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(newServiceContext(t, mutate), ServerOptions{Quiet: true})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return srv, ts
}

func do(t *testing.T, method, url, token, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var health types.HealthResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", "", "", &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 0, health.Sessions)
	assert.True(t, health.Journal)
}

func TestSessionAPI(t *testing.T) {
	_, ts := newTestServer(t, nil)
	api := ts.URL + "/api/v1"

	var resp dispatch.Response
	code := do(t, http.MethodPost, api+"/sessions/s1/commands/NewPage", "", `{"url":"https://example.com"}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Successfully initialized new page object and opened url: https://example.com", resp.Log)
	require.NotNil(t, resp.Result)
	require.NotNil(t, resp.Result.Index)
	assert.Equal(t, 0, *resp.Result.Index)

	tests := []struct {
		name    string
		command string
		body    string
		code    int
		kind    string
	}{
		{"unknown command", "Fly", "", http.StatusNotFound, "UnknownCommand"},
		{"malformed", "SwitchActivePage", `{"index":"zero"}`, http.StatusBadRequest, "MalformedPayload"},
		{"out of range", "SwitchActivePage", `{"index":4}`, http.StatusConflict, "IndexOutOfRange"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e httputil.ErrorResponse
			assert.Equal(t, tt.code, do(t, http.MethodPost, api+"/sessions/s1/commands/"+tt.command, "", tt.body, &e))
			assert.Equal(t, tt.kind, e.Kind)
		})
	}

	var list types.ListSessionsResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/sessions", "", "", &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "s1", list.Sessions[0].ID)
	assert.Equal(t, 1, list.Stats.Pages)

	var journal types.ListJournalResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/journal?session=s1", "", "", &journal))
	require.Len(t, journal.Entries, 4)
	var ok int
	for _, e := range journal.Entries {
		if e.OK {
			ok++
			assert.Equal(t, "NewPage", e.Command)
		}
	}
	assert.Equal(t, 1, ok)

	var closed types.CloseSessionResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, api+"/sessions/s1", "", "", &closed))
	assert.True(t, closed.Closed)
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, api+"/sessions/s1", "", "", &closed))
	assert.False(t, closed.Closed)
}

func TestJournalDisabled(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) { c.Journal.Enabled = false })
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/api/v1/journal", "", "", nil))
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) { c.Auth.AccessSecret = testSecret })
	api := ts.URL + "/api/v1"

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", "", "", nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, api+"/sessions", "", "", nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, api+"/sessions", "garbage", "", nil))

	open, err := middleware.IssueToken(testSecret, "tester", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, api+"/sessions/a/commands/AutoActivatePages", open, "", nil))

	pinned, err := middleware.IssueToken(testSecret, "tester", "b", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(t, http.MethodPost, api+"/sessions/a/commands/AutoActivatePages", pinned, "", nil))
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, api+"/sessions/b/commands/AutoActivatePages", pinned, "", nil))

	var list types.ListSessionsResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/sessions", pinned, "", &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "b", list.Sessions[0].ID)

	assert.Equal(t, http.StatusForbidden, do(t, http.MethodGet, api+"/journal?session=a", pinned, "", nil))
	var journal types.ListJournalResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/journal", pinned, "", &journal))
	for _, e := range journal.Entries {
		assert.Equal(t, "b", e.SessionID)
	}
}

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimit = 0.001
		c.Server.RateBurst = 1
	})
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/sessions", "", "", nil))
	// A different route shares the same bucket.
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodGet, ts.URL+"/api/v1/journal", "", "", nil))
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", "", "", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)
	do(t, http.MethodPost, ts.URL+"/api/v1/sessions/m/commands/NewPage", "", "", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(b)
	assert.Contains(t, body, `browserd_commands_total{command="NewPage",kind="ok"} 1`)
	assert.Contains(t, body, `route="/api/v1/sessions/{sessionID}/commands/{command}"`)
	assert.Contains(t, body, "browserd_pages_active 1")
}

func TestMCPEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"browserd"`)
}

func TestServeAndShutdown(t *testing.T) {
	svcCtx := newServiceContext(t, nil)

	var mu sync.Mutex
	var events []lifecycle.Event
	svcCtx.Events.Subscribe(func(e lifecycle.Event, _ any) {
		if e == lifecycle.EventServerStarted || e == lifecycle.EventShutdownStarted {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	})

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(svcCtx, ServerOptions{Quiet: true}).Serve(ctx, httpLn, grpcLn) }()

	client, err := rpc.Dial(grpcLn.Addr().String(), rpc.WithSession("grpc"))
	require.NoError(t, err)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	reply, err := client.NewPage(callCtx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", reply.Result.URL)

	var health types.HealthResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, "http://"+httpLn.Addr().String()+"/health", "", "", &health))
	assert.Equal(t, 1, health.Sessions)
	assert.Equal(t, 1, health.Pages)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []lifecycle.Event{lifecycle.EventServerStarted, lifecycle.EventShutdownStarted}, events)
}
