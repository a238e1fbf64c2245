package browser

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeDriver is an in-memory Driver. URLs containing "unreachable" fail to
// navigate.
type fakeDriver struct {
	mu          sync.Mutex
	launchDelay time.Duration
	launchErr   error
	unavailable map[Engine]bool
	browsers    []*fakeBrowser
	closed      bool

	launches atomic.Int32
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{unavailable: make(map[Engine]bool)}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Launch(ctx context.Context, engine Engine, opts LaunchOptions) (RemoteBrowser, error) {
	d.launches.Add(1)
	d.mu.Lock()
	delay, launchErr, unavailable := d.launchDelay, d.launchErr, d.unavailable[engine]
	d.mu.Unlock()

	if unavailable {
		return nil, ErrEngineUnavailable
	}
	if launchErr != nil {
		return nil, launchErr
	}
	if delay > 0 {
		// Ignores ctx on purpose to model an engine that finishes late.
		time.Sleep(delay)
	}

	b := &fakeBrowser{engine: engine, opts: opts, disconnected: make(chan struct{})}
	d.mu.Lock()
	d.browsers = append(d.browsers, b)
	d.mu.Unlock()
	return b, nil
}

func (d *fakeDriver) Check(ctx context.Context, engine Engine) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable[engine] {
		return ErrEngineUnavailable
	}
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) setDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launchDelay = delay
}

func (d *fakeDriver) all() []*fakeBrowser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeBrowser(nil), d.browsers...)
}

func (d *fakeDriver) last() *fakeBrowser {
	all := d.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

type fakeBrowser struct {
	engine Engine
	opts   LaunchOptions

	mu       sync.Mutex
	contexts []*fakeContext
	closed   bool

	disconnected chan struct{}
	once         sync.Once
}

func (b *fakeBrowser) NewContext(ctx context.Context, opts ContextOptions) (RemoteContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("target closed")
	}
	c := &fakeContext{browser: b, opts: opts}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.once.Do(func() { close(b.disconnected) })
	return nil
}

// crash simulates the process exiting on its own.
func (b *fakeBrowser) crash() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.once.Do(func() { close(b.disconnected) })
}

func (b *fakeBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBrowser) Disconnected() <-chan struct{} { return b.disconnected }

func (b *fakeBrowser) Version() string { return string(b.engine) + "/1.0" }

type fakeContext struct {
	browser *fakeBrowser
	opts    ContextOptions

	mu     sync.Mutex
	pages  []*fakePage
	closed bool
}

func (c *fakeContext) NewPage(ctx context.Context) (RemotePage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.browser.isClosed() {
		return nil, errors.New("target closed")
	}
	p := &fakePage{url: BlankURL}
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *fakeContext) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakePage struct {
	mu        sync.Mutex
	url       string
	closed    bool
	activated int
	deadline  time.Time
}

func (p *fakePage) Goto(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadline, _ = ctx.Deadline()
	if strings.Contains(url, "unreachable") {
		return p.url, errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	p.url = url
	return p.url, nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activated++
	return nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func testConfig() *ResolvedConfig {
	cfg, err := ResolveConfig(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newTestSession(d Driver, cfg *ResolvedConfig) (*Session, *Supervisor) {
	sup := NewSupervisor(d, cfg)
	return newSession("test", sup, cfg, nil, newAuditLogger()), sup
}

func intPtr(i int) *int { return &i }
