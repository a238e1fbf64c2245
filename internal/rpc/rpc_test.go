package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/browser/browsertest"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/lifecycle"
	"github.com/neboloop/browserd/internal/middleware"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSecret = "rpc-secret"

type harness struct {
	manager *browser.Manager
	driver  *browsertest.Driver
	lis     *bufconn.Listener
}

func newHarness(t *testing.T, secret string) *harness {
	t.Helper()
	m, drv := browsertest.NewManager(t, browser.ManagerOptions{})
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(dispatch.New(m), secret)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return &harness{manager: m, driver: drv, lis: lis}
}

func (h *harness) client(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return h.lis.DialContext(ctx) }
	opts = append(opts, WithDialOptions(grpc.WithContextDialer(dialer)))
	c, err := Dial("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestKeywordsRoundTrip(t *testing.T) {
	h := newHarness(t, "")
	c := h.client(t, WithSession("kw"))
	ctx := testContext(t)

	reply, err := c.OpenBrowser(ctx, "https://example.com", browser.Firefox, true)
	require.NoError(t, err)
	assert.Equal(t, "Successfully opened browser firefox and navigated to https://example.com", reply.Log)
	require.NotNil(t, reply.Result)
	assert.Equal(t, "firefox", reply.Result.Engine)

	reply, err = c.AutoActivatePages(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Auto activation of new pages is off", reply.Log)

	_, err = c.NewPage(ctx, "https://example.org")
	require.NoError(t, err)

	reply, err = c.SwitchActivePage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Changed active page to 1: https://example.org", reply.Log)

	reply, err = c.NewContext(ctx, map[string]any{"viewport": map[string]any{"width": 800, "height": 600}})
	require.NoError(t, err)
	assert.Contains(t, reply.Log, "Successfully created context with options: ")

	reply, err = c.NewBrowser(ctx, browser.Chromium, map[string]any{"headless": false})
	require.NoError(t, err)
	assert.Contains(t, reply.Log, "Successfully created browser chromium with options: ")

	reply, err = c.CloseBrowser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Closed browser", reply.Log)

	s, ok := h.manager.Lookup("kw")
	require.True(t, ok)
	assert.Nil(t, s.State().Browser)
	_, ok = h.manager.Lookup(browser.DefaultSessionID)
	assert.False(t, ok)
}

func TestErrorCodeMapping(t *testing.T) {
	h := newHarness(t, "")
	h.driver.SetUnavailable(browser.WebKit)
	c := h.client(t)
	ctx := testContext(t)
	_, err := c.OpenBrowser(ctx, "", browser.Chromium, true)
	require.NoError(t, err)

	tests := []struct {
		name    string
		command string
		payload string
		code    codes.Code
		kind    browser.Kind
	}{
		{"malformed", "NewPage", `{"nope":1}`, codes.InvalidArgument, browser.KindMalformedPayload},
		{"unknown method", "Fly", "", codes.Unimplemented, browser.KindUnknownCommand},
		{"index out of range", "SwitchActivePage", `{"index":3}`, codes.OutOfRange, browser.KindIndexOutOfRange},
		{"engine unavailable", "NewBrowser", `{"browser":"webkit"}`, codes.FailedPrecondition, browser.KindEngineUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload []byte
			if tt.payload != "" {
				payload = []byte(tt.payload)
			}
			_, err := c.Call(ctx, tt.command, payload)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(errorsCause(err)))
			assert.True(t, IsKind(err, tt.kind), err)
			assert.Equal(t, tt.kind, browser.KindOf(err))
		})
	}
}

func errorsCause(err error) error {
	if ce, ok := err.(*CallError); ok {
		return ce.Status.Err()
	}
	return err
}

func TestCrashMapsToAborted(t *testing.T) {
	h := newHarness(t, "")
	c := h.client(t)
	ctx := testContext(t)

	crashed := make(chan struct{}, 1)
	h.manager.Events().OnBrowserCrashed(func(lifecycle.SessionEventData) { crashed <- struct{}{} })

	_, err := c.OpenBrowser(ctx, "", browser.Chromium, true)
	require.NoError(t, err)
	h.driver.Last().Crash()
	select {
	case <-crashed:
	case <-ctx.Done():
		t.Fatal("crash was not detected")
	}

	_, err = c.NewPage(ctx, "")
	require.Error(t, err)
	assert.Equal(t, codes.Aborted, status.Code(errorsCause(err)))
	assert.ErrorIs(t, err, browser.ErrProcessCrashed)

	_, err = c.NewPage(ctx, "")
	assert.NoError(t, err)
}

func TestAuthInterceptor(t *testing.T) {
	h := newHarness(t, testSecret)
	ctx := testContext(t)

	_, err := h.client(t).AutoActivatePages(ctx)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(errorsCause(err)))

	bad, err := middleware.IssueToken("other", "robot", "", time.Hour)
	require.NoError(t, err)
	_, err = h.client(t, WithToken(bad)).AutoActivatePages(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(errorsCause(err)))

	good, err := middleware.IssueToken(testSecret, "robot", "", time.Hour)
	require.NoError(t, err)
	_, err = h.client(t, WithToken(good)).AutoActivatePages(ctx)
	assert.NoError(t, err)

	pinned, err := middleware.IssueToken(testSecret, "robot", "mine", time.Hour)
	require.NoError(t, err)
	_, err = h.client(t, WithToken(pinned), WithSession("theirs")).AutoActivatePages(ctx)
	assert.Equal(t, codes.PermissionDenied, status.Code(errorsCause(err)))
	_, err = h.client(t, WithToken(pinned), WithSession("mine")).AutoActivatePages(ctx)
	assert.NoError(t, err)
}

func TestCodeForKindCoversEveryKind(t *testing.T) {
	for _, k := range []browser.Kind{
		browser.KindEngineUnavailable, browser.KindLaunchTimeout, browser.KindNoBrowserOpen,
		browser.KindIndexOutOfRange, browser.KindUnknownCommand, browser.KindMalformedPayload,
		browser.KindProcessCrashed, browser.KindNavigation, browser.KindSessionLimit,
		browser.KindSessionClosed, browser.KindCanceled,
	} {
		assert.NotEqual(t, codes.Internal, CodeForKind(k), k)
	}
	assert.Equal(t, codes.Internal, CodeForKind(browser.KindInternal))
}

func TestServiceDescListsEveryCommand(t *testing.T) {
	require.Len(t, ServiceDesc.Methods, len(dispatch.Commands))
	for i, c := range dispatch.Commands {
		assert.Equal(t, string(c), ServiceDesc.Methods[i].MethodName)
	}
}
