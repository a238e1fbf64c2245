package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/browser/browsertest"
	"github.com/neboloop/browserd/internal/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds map[string][]browser.Kind
}

func (o *recordingObserver) Observe(command string, kind browser.Kind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = make(map[string][]browser.Kind)
	}
	o.kinds[command] = append(o.kinds[command], kind)
}

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *browser.Manager, *browsertest.Driver) {
	t.Helper()
	m, d := browsertest.NewManager(t, browser.ManagerOptions{})
	return New(m, opts...), m, d
}

func call(t *testing.T, d *Dispatcher, command string, payload string) (*Response, error) {
	t.Helper()
	req := Request{Command: command}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	return d.Dispatch(context.Background(), "", req)
}

func TestEveryCommandIsRouted(t *testing.T) {
	require.Len(t, routes, len(Commands))
	for _, c := range Commands {
		rt, ok := routes[c]
		require.True(t, ok, c)
		assert.NotNil(t, rt.handle, c)

		parsed, err := ParseCommand(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCommand("openBrowser")
	assert.ErrorIs(t, err, browser.ErrUnknownCommand)
}

func TestNewPageScenario(t *testing.T) {
	d, m, _ := newTestDispatcher(t)

	resp, err := call(t, d, "OpenBrowser", `{"browser": "chromium", "headless": true}`)
	require.NoError(t, err)
	assert.Equal(t, "Successfully opened browser chromium", resp.Log)

	resp, err = call(t, d, "NewPage", `{"url": "https://example.com"}`)
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "https://example.com", resp.Result.URL)
	assert.Equal(t, 0, *resp.Result.Index)
	assert.Contains(t, resp.Log, "https://example.com")

	resp, err = call(t, d, "GetSessionState", "")
	require.NoError(t, err)
	st := resp.Result.State
	require.NotNil(t, st.Browser)
	require.Len(t, st.Browser.Contexts, 1)
	require.Len(t, st.Browser.Contexts[0].Pages, 1)
	assert.Equal(t, st.Browser.Contexts[0].Pages[0].ID, st.ActivePageID)

	s, ok := m.Lookup(browser.DefaultSessionID)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", s.ActivePage().URL())
}

func TestSwitchActivePageScenario(t *testing.T) {
	d, m, _ := newTestDispatcher(t)

	resp, err := call(t, d, "AutoActivatePages", "")
	require.NoError(t, err)
	assert.False(t, *resp.Result.AutoActivate)
	assert.Equal(t, "Auto activation of new pages is off", resp.Log)

	first, err := call(t, d, "NewPage", `{"url": "https://example.com/1"}`)
	require.NoError(t, err)
	_, err = call(t, d, "NewPage", `{"url": "https://example.com/2"}`)
	require.NoError(t, err)

	resp, err = call(t, d, "SwitchActivePage", `{"index": 0}`)
	require.NoError(t, err)
	assert.Equal(t, first.Result.PageID, resp.Result.PageID)

	s, _ := m.Lookup(browser.DefaultSessionID)
	assert.Equal(t, first.Result.PageID, s.ActivePage().ID)
}

func TestValidationErrorsHaveNoSideEffects(t *testing.T) {
	d, m, drv := newTestDispatcher(t)

	tests := []struct {
		command string
		payload string
		want    error
	}{
		{"Frobnicate", "", browser.ErrUnknownCommand},
		{"openbrowser", "", browser.ErrUnknownCommand},
		{"OpenBrowser", `{"browser": "Chromium"}`, browser.ErrMalformedPayload},
		{"OpenBrowser", `{"index": 1}`, browser.ErrMalformedPayload},
		{"NewBrowser", `{"rawOptions": "{\"headles\": true}"}`, browser.ErrMalformedPayload},
		{"NewBrowser", `{"rawOptions": "not json"}`, browser.ErrMalformedPayload},
		{"NewContext", `{"rawOptions": "{\"viewport\": {\"width\": -1, \"height\": 1}}"}`, browser.ErrMalformedPayload},
		{"NewPage", `{"url": 42}`, browser.ErrMalformedPayload},
		{"NewPage", `[]`, browser.ErrMalformedPayload},
		{"SwitchActivePage", "", browser.ErrMalformedPayload},
		{"SwitchActivePage", `{"index": "0"}`, browser.ErrMalformedPayload},
		{"GoTo", `{}`, browser.ErrMalformedPayload},
		{"CloseBrowser", `{"url": "x"}`, browser.ErrMalformedPayload},
		{"NewPage", `{"url": "a", "url": "b"}`, browser.ErrMalformedPayload},
		{"NewPage", `{"URL": "a"}`, browser.ErrMalformedPayload},
		{"NewBrowser", `{"rawOptions": "{\"HEADLESS\": false}"}`, browser.ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.command+" "+tt.payload, func(t *testing.T) {
			resp, err := call(t, d, tt.command, tt.payload)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, resp)
			assert.True(t, browser.IsValidation(err))
		})
	}

	assert.Empty(t, drv.Launched())
	assert.Empty(t, m.Sessions())
}

func TestSwitchActivePageOutOfRange(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	_, err := call(t, d, "NewPage", "")
	require.NoError(t, err)

	for _, index := range []string{"1", "-1", "7"} {
		_, err := call(t, d, "SwitchActivePage", `{"index": `+index+`}`)
		assert.ErrorIs(t, err, browser.ErrIndexOutOfRange, index)
	}
}

func TestCloseBrowserTwice(t *testing.T) {
	d, _, drv := newTestDispatcher(t)

	_, err := call(t, d, "NewPage", `{"url": "https://example.com"}`)
	require.NoError(t, err)

	resp, err := call(t, d, "CloseBrowser", "")
	require.NoError(t, err)
	assert.True(t, *resp.Result.Closed)
	assert.True(t, drv.Last().Closed())

	resp, err = call(t, d, "CloseBrowser", "")
	require.NoError(t, err)
	assert.False(t, *resp.Result.Closed)
	assert.Equal(t, "No browser was open", resp.Log)
}

func TestEngineUnavailable(t *testing.T) {
	d, _, drv := newTestDispatcher(t)
	drv.SetUnavailable(browser.WebKit)

	_, err := call(t, d, "NewBrowser", `{"browser": "webkit"}`)
	assert.ErrorIs(t, err, browser.ErrEngineUnavailable)
	assert.Equal(t, browser.KindEngineUnavailable, browser.KindOf(err))
}

func TestCrashIsReportedOnce(t *testing.T) {
	d, m, drv := newTestDispatcher(t)

	_, err := call(t, d, "NewPage", "")
	require.NoError(t, err)
	s, _ := m.Lookup(browser.DefaultSessionID)
	b := s.Browser()
	drv.Last().Crash()
	require.Eventually(t, b.Crashed, time.Second, 5*time.Millisecond)

	_, err = call(t, d, "NewPage", "")
	assert.ErrorIs(t, err, browser.ErrProcessCrashed)

	resp, err := call(t, d, "GetSessionState", "")
	require.NoError(t, err)
	assert.Nil(t, resp.Result.State.Browser)
}

func TestCommandsRoundTrip(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	resp, err := call(t, d, "NewBrowser", `{"browser": "firefox", "rawOptions": "{\"headless\": false, \"slowMo\": 10}"}`)
	require.NoError(t, err)
	assert.Equal(t, "firefox", resp.Result.Engine)

	resp, err = call(t, d, "NewContext", `{"rawOptions": "{\"locale\": \"fr-FR\"}"}`)
	require.NoError(t, err)
	contextID := resp.Result.ContextID
	assert.NotEmpty(t, contextID)

	resp, err = call(t, d, "GoTo", `{"url": "https://example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, contextID, resp.Result.ContextID)
	pageID := resp.Result.PageID

	resp, err = call(t, d, "GoTo", `{"url": "https://example.org"}`)
	require.NoError(t, err)
	assert.Equal(t, pageID, resp.Result.PageID)
	assert.Equal(t, "Navigated to https://example.org", resp.Log)

	_, err = call(t, d, "GoTo", `{"url": "https://`+browsertest.UnreachableHost+`"}`)
	assert.ErrorIs(t, err, browser.ErrNavigation)

	resp, err = call(t, d, "ClosePage", "")
	require.NoError(t, err)
	assert.Equal(t, pageID, resp.Result.PageID)

	resp, err = call(t, d, "CloseContext", "")
	require.NoError(t, err)
	assert.Equal(t, contextID, resp.Result.ContextID)

	_, err = call(t, d, "CloseContext", "")
	assert.ErrorIs(t, err, browser.ErrIndexOutOfRange)
}

type panicSessions struct{}

func (panicSessions) Session(string) (*browser.Session, error) {
	panic("session table corrupted")
}

func TestPanicIsRecoveredAndJournaled(t *testing.T) {
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	obs := &recordingObserver{}
	d := New(panicSessions{}, WithRecorder(NewJournalRecorder(store)), WithObserver(obs))

	resp, err := d.Dispatch(context.Background(), "s1", Request{Command: "NewPage"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, browser.KindInternal, browser.KindOf(err))
	assert.Contains(t, err.Error(), "session table corrupted")

	rows, err := store.ListCommands(context.Background(), db.ListCommandsParams{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].OK)
	assert.Equal(t, string(browser.KindInternal), rows[0].Kind)
	assert.Equal(t, []browser.Kind{browser.KindInternal}, obs.kinds["NewPage"])
}

func TestJournalRecordsOutcome(t *testing.T) {
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d, _, _ := newTestDispatcher(t, WithRecorder(NewJournalRecorder(store)))

	_, err = call(t, d, "NewPage", `{"url": "https://example.com"}`)
	require.NoError(t, err)
	_, err = call(t, d, "SwitchActivePage", `{"index": 3}`)
	require.Error(t, err)
	_, err = call(t, d, "Nope", "")
	require.Error(t, err)

	rows, err := store.ListCommands(context.Background(), db.ListCommandsParams{SessionID: browser.DefaultSessionID})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Nope", rows[0].Command)
	assert.Equal(t, string(browser.KindUnknownCommand), rows[0].Kind)

	assert.Equal(t, "SwitchActivePage", rows[1].Command)
	assert.False(t, rows[1].OK)
	assert.Equal(t, string(browser.KindIndexOutOfRange), rows[1].Kind)
	assert.JSONEq(t, `{"index": 3}`, rows[1].Payload)

	assert.Equal(t, "NewPage", rows[2].Command)
	assert.True(t, rows[2].OK)
	assert.Empty(t, rows[2].Kind)
	assert.Contains(t, rows[2].Log, "https://example.com")
}
