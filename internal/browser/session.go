package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/browserd/internal/lifecycle"
)

// Session owns one client's Browser/Context/Page tree. All operations are
// serialized by mu; the tree moves NoBrowser -> BrowserOpen -> contexts ->
// pages and back down on close.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu sync.Mutex

	supervisor *Supervisor
	cfg        *ResolvedConfig
	events     *lifecycle.Manager
	audit      *auditLogger

	browser *Browser

	// current is the context that NewPage and SwitchActivePage target.
	current *Context

	// active is the Active Page Pointer; nil means undefined.
	active *Page

	autoActivate bool

	// closed and lastUsed are read by the manager without mu, so a lookup
	// never waits behind an in-flight launch or navigation.
	closed   atomic.Bool
	lastUsed atomic.Int64
}

func newSession(id string, sup *Supervisor, cfg *ResolvedConfig, events *lifecycle.Manager, audit *auditLogger) *Session {
	s := &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		supervisor:   sup,
		cfg:          cfg,
		events:       events,
		audit:        audit,
		autoActivate: cfg.AutoActivate,
	}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed is the time of the most recent operation.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) emit(event lifecycle.Event, data lifecycle.SessionEventData) {
	if s.events == nil {
		return
	}
	data.SessionID = s.ID
	s.events.Emit(event, data)
}

// ready must be called with mu held at the start of every operation. It
// surfaces a crash that happened since the last call exactly once.
func (s *Session) ready() error {
	s.touch()
	if s.closed.Load() {
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	return s.takeCrash()
}

func (s *Session) takeCrash() error {
	if s.browser == nil || !s.browser.Crashed() {
		return nil
	}
	b := s.browser
	s.dropBrowser()
	b.crashed.Store(true)
	b.markClosed()
	s.audit.log(s.ID, "crash", zap.String("browser", b.ID))
	return fmt.Errorf("%w: %s browser %s exited unexpectedly", ErrProcessCrashed, b.Engine, b.ID)
}

// remoteErr converts an engine error into ProcessCrashed when the browser
// died underneath the operation.
func (s *Session) remoteErr(err error) error {
	if err == nil {
		return nil
	}
	if crash := s.takeCrash(); crash != nil {
		return fmt.Errorf("%w (%v)", crash, err)
	}
	return err
}

func (s *Session) dropBrowser() {
	s.browser = nil
	s.current = nil
	s.active = nil
}

func (s *Session) onCrash(b *Browser) {
	s.emit(lifecycle.EventBrowserCrashed, lifecycle.SessionEventData{
		BrowserID: b.ID,
		Engine:    string(b.Engine),
		Error:     ErrProcessCrashed.Error(),
	})
}

func (s *Session) launch(ctx context.Context, engine Engine, headless bool, opts LaunchOptions) (*Browser, error) {
	b, err := s.supervisor.Launch(ctx, LaunchRequest{
		Engine:   engine,
		Headless: headless,
		Options:  opts,
		OnCrash:  s.onCrash,
	})
	if err != nil {
		return nil, err
	}
	s.browser = b
	s.current = nil
	s.active = nil
	s.emit(lifecycle.EventBrowserLaunched, lifecycle.SessionEventData{BrowserID: b.ID, Engine: string(engine)})
	return b, nil
}

func (s *Session) closeBrowser(ctx context.Context) error {
	b := s.browser
	if b == nil {
		return nil
	}
	s.dropBrowser()
	err := s.supervisor.Close(ctx, b)
	s.emit(lifecycle.EventBrowserClosed, lifecycle.SessionEventData{BrowserID: b.ID, Engine: string(b.Engine)})
	return err
}

// replaceBrowser closes the current browser before a new launch. A failed
// close is logged; the session is in NoBrowser either way.
func (s *Session) replaceBrowser(ctx context.Context) {
	if err := s.closeBrowser(ctx); err != nil {
		s.audit.logger.Warn("closing replaced browser failed", zap.String("session", s.ID), zap.Error(err))
	}
}

// ensureBrowser auto-launches the configured default browser when none is open.
func (s *Session) ensureBrowser(ctx context.Context) (*Browser, error) {
	if s.browser != nil {
		return s.browser, nil
	}
	return s.launch(ctx, s.cfg.DefaultEngine, s.cfg.Headless, LaunchOptions{})
}

// ensureContext returns the current context. Without one it falls back to
// the newest open context, and creates a default context (launching a
// default browser if needed) when there is none.
func (s *Session) ensureContext(ctx context.Context) (*Context, error) {
	if s.current != nil && !s.current.IsClosed() {
		return s.current, nil
	}
	b, err := s.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}
	if contexts := b.Contexts(); len(contexts) > 0 {
		s.current = contexts[len(contexts)-1]
		return s.current, nil
	}
	return s.createContext(ctx, b, ContextOptions{})
}

func (s *Session) createContext(ctx context.Context, b *Browser, opts ContextOptions) (*Context, error) {
	c, err := b.createContext(ctx, opts)
	if err != nil {
		return nil, s.remoteErr(err)
	}
	s.current = c
	s.emit(lifecycle.EventContextCreated, lifecycle.SessionEventData{BrowserID: b.ID, ContextID: c.ID})
	return c, nil
}

func (s *Session) openPage(ctx context.Context, c *Context, url string) (*Page, error) {
	p, err := c.openPage(ctx, url, s.cfg.NavigationTimeout)
	if err != nil {
		return nil, s.remoteErr(err)
	}
	index := p.Index()
	s.emit(lifecycle.EventPageOpened, lifecycle.SessionEventData{
		BrowserID: c.browser.ID,
		ContextID: c.ID,
		PageID:    p.ID,
		Index:     index,
		URL:       p.URL(),
	})
	if s.autoActivate {
		s.setActive(p)
	}
	s.audit.log(s.ID, "new_page", zap.String("page", p.ID), zap.Int("index", index), zap.String("url", p.URL()))
	return p, nil
}

func (s *Session) setActive(p *Page) {
	if s.active == p {
		return
	}
	s.active = p
	data := lifecycle.SessionEventData{}
	if p != nil {
		data.ContextID = p.context.ID
		data.PageID = p.ID
		data.Index = p.Index()
	}
	s.emit(lifecycle.EventActivePageChange, data)
}

// OpenBrowser replaces the current browser with a new one. With a URL it
// also opens a context and a page navigated there.
func (s *Session) OpenBrowser(ctx context.Context, url string, engine Engine, headless bool) (*Browser, *Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, nil, err
	}
	s.audit.log(s.ID, "open_browser", zap.String("engine", string(engine)), zap.Bool("headless", headless), zap.String("url", url))

	s.replaceBrowser(ctx)
	b, err := s.launch(ctx, engine, headless, LaunchOptions{})
	if err != nil {
		return nil, nil, err
	}
	if url == "" {
		return b, nil, nil
	}
	c, err := s.createContext(ctx, b, ContextOptions{})
	if err != nil {
		return b, nil, err
	}
	p, err := s.openPage(ctx, c, url)
	if err != nil {
		return b, nil, err
	}
	return b, p, nil
}

// NewBrowser replaces the current browser. Headless comes from opts, falling
// back to the configured default.
func (s *Session) NewBrowser(ctx context.Context, engine Engine, opts LaunchOptions) (*Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	if err := s.supervisor.CheckLaunchOptions(opts); err != nil {
		return nil, err
	}

	headless := s.cfg.Headless
	if opts.Headless != nil {
		headless = *opts.Headless
	}
	s.audit.log(s.ID, "new_browser", zap.String("engine", string(engine)), zap.Bool("headless", headless))

	s.replaceBrowser(ctx)
	return s.launch(ctx, engine, headless, opts)
}

// CloseBrowser returns the session to NoBrowser, cascading to every context
// and page. It is a no-op without a browser; a crash is reported through
// crashed instead of an error.
func (s *Session) CloseBrowser(ctx context.Context) (closed, crashed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.closed.Load() {
		return false, false, fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	s.audit.log(s.ID, "close_browser")

	if s.takeCrash() != nil {
		return false, true, nil
	}
	if s.browser == nil {
		return false, false, nil
	}
	return true, false, s.closeBrowser(ctx)
}

// NewContext creates a context in the current browser, auto-launching the
// default browser when none is open. The new context becomes current.
func (s *Session) NewContext(ctx context.Context, opts ContextOptions) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.audit.log(s.ID, "new_context")

	b, err := s.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}
	return s.createContext(ctx, b, opts)
}

// CloseContext closes the context at index in the browser's context list, or
// the current context when index is nil. Its pages go with it, and the
// session is left without a current context.
func (s *Session) CloseContext(ctx context.Context, index *int) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.browser == nil {
		return nil, fmt.Errorf("%w: no browser open, so no contexts", ErrIndexOutOfRange)
	}

	c := s.current
	if index != nil {
		contexts := s.browser.Contexts()
		if *index < 0 || *index >= len(contexts) {
			return nil, fmt.Errorf("%w: no context at index %d (browser has %d)", ErrIndexOutOfRange, *index, len(contexts))
		}
		c = contexts[*index]
	}
	if c == nil {
		return nil, fmt.Errorf("%w: no current context", ErrIndexOutOfRange)
	}
	s.audit.log(s.ID, "close_context", zap.String("context", c.ID))

	err := s.browser.closeContext(ctx, c)
	if s.active != nil && s.active.context == c {
		s.setActive(nil)
	}
	if s.current == c {
		s.current = nil
	}
	s.emit(lifecycle.EventContextClosed, lifecycle.SessionEventData{BrowserID: c.browser.ID, ContextID: c.ID})
	return c, s.remoteErr(err)
}

// NewPage appends a page to the current context, creating a default context
// (and browser) first when needed.
func (s *Session) NewPage(ctx context.Context, url string) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	c, err := s.ensureContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.openPage(ctx, c, url)
}

// ClosePage closes the page at index in the current context, or the active
// page when index is nil. Closing the active page leaves the pointer undefined.
func (s *Session) ClosePage(ctx context.Context, index *int) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.browser == nil {
		return nil, fmt.Errorf("%w: no browser open, so no pages", ErrIndexOutOfRange)
	}

	p := s.active
	if index != nil {
		if s.current == nil {
			return nil, fmt.Errorf("%w: no current context", ErrIndexOutOfRange)
		}
		var err error
		if p, err = s.current.PageAt(*index); err != nil {
			return nil, err
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no active page", ErrIndexOutOfRange)
	}
	s.audit.log(s.ID, "close_page", zap.String("page", p.ID))

	err := p.context.closePage(ctx, p)
	if s.active == p {
		s.setActive(nil)
	}
	s.emit(lifecycle.EventPageClosed, lifecycle.SessionEventData{
		BrowserID: p.context.browser.ID,
		ContextID: p.context.ID,
		PageID:    p.ID,
	})
	return p, s.remoteErr(err)
}

// SwitchActivePage points the Active Page Pointer at the page at ordinal
// index of the current context and brings it to the front.
func (s *Session) SwitchActivePage(ctx context.Context, index int) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.browser == nil {
		return nil, fmt.Errorf("%w: no browser open, so no pages", ErrIndexOutOfRange)
	}
	if s.current == nil || s.current.IsClosed() {
		return nil, fmt.Errorf("%w: no current context", ErrIndexOutOfRange)
	}

	p, err := s.current.PageAt(index)
	if err != nil {
		return nil, err
	}
	if err := p.remote.Activate(ctx); err != nil {
		return nil, s.remoteErr(fmt.Errorf("activate page %s: %w", p.ID, err))
	}
	s.audit.log(s.ID, "switch_page", zap.String("page", p.ID), zap.Int("index", index))
	s.setActive(p)
	return p, nil
}

// ToggleAutoActivate flips the Auto-Activate flag and returns the new value.
func (s *Session) ToggleAutoActivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.autoActivate = !s.autoActivate
	s.audit.log(s.ID, "auto_activate", zap.Bool("enabled", s.autoActivate))
	return s.autoActivate
}

// GoTo navigates the active page. Without an active page it opens one, the
// same way NewPage does.
func (s *Session) GoTo(ctx context.Context, url string) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrMalformedPayload)
	}
	s.audit.log(s.ID, "goto", zap.String("url", url))

	p := s.active
	if p == nil || p.IsClosed() {
		c, err := s.ensureContext(ctx)
		if err != nil {
			return nil, err
		}
		return s.openPage(ctx, c, url)
	}

	if err := p.navigate(ctx, url, s.cfg.NavigationTimeout); err != nil {
		return p, s.remoteErr(err)
	}
	s.emit(lifecycle.EventPageNavigated, lifecycle.SessionEventData{
		BrowserID: p.context.browser.ID,
		ContextID: p.context.ID,
		PageID:    p.ID,
		Index:     p.Index(),
		URL:       p.URL(),
	})
	return p, nil
}

// ActivePage returns the Active Page Pointer, or nil when undefined.
func (s *Session) ActivePage() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// AutoActivate reports the Auto-Activate flag.
func (s *Session) AutoActivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoActivate
}

// Browser returns the current browser, or nil in NoBrowser state.
func (s *Session) Browser() *Browser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser
}

// CurrentContext returns the context NewPage targets, or nil.
func (s *Session) CurrentContext() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close closes the browser and rejects further operations. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeCrash() != nil {
		return nil
	}
	return s.closeBrowser(ctx)
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}
