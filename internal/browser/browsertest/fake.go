// Package browsertest provides an in-memory browser.Driver for tests of
// packages that sit on top of the session manager.
package browsertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/lifecycle"
)

// UnreachableHost makes navigation fail when it appears in a URL.
const UnreachableHost = "unreachable.invalid"

// Driver is a browser.Driver that launches fake engines.
type Driver struct {
	mu          sync.Mutex
	unavailable map[browser.Engine]bool
	launchDelay time.Duration
	browsers    []*Browser
}

func NewDriver() *Driver {
	return &Driver{unavailable: make(map[browser.Engine]bool)}
}

// SetUnavailable makes Launch and Check fail for engine.
func (d *Driver) SetUnavailable(engine browser.Engine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unavailable[engine] = true
}

// SetLaunchDelay makes launches take at least delay, ignoring ctx.
func (d *Driver) SetLaunchDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launchDelay = delay
}

func (d *Driver) Name() string { return "fake" }

func (d *Driver) Launch(ctx context.Context, engine browser.Engine, opts browser.LaunchOptions) (browser.RemoteBrowser, error) {
	d.mu.Lock()
	unavailable, delay := d.unavailable[engine], d.launchDelay
	d.mu.Unlock()
	if unavailable {
		return nil, browser.ErrEngineUnavailable
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	b := &Browser{engine: engine, disconnected: make(chan struct{})}
	d.mu.Lock()
	d.browsers = append(d.browsers, b)
	d.mu.Unlock()
	return b, nil
}

func (d *Driver) Check(ctx context.Context, engine browser.Engine) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable[engine] {
		return browser.ErrEngineUnavailable
	}
	return nil
}

func (d *Driver) Close() error { return nil }

// Launched returns every browser launched so far.
func (d *Driver) Launched() []*Browser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Browser(nil), d.browsers...)
}

// Last returns the most recently launched browser, or nil.
func (d *Driver) Last() *Browser {
	all := d.Launched()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// Browser is a fake engine process.
type Browser struct {
	engine browser.Engine

	mu     sync.Mutex
	closed bool

	disconnected chan struct{}
	once         sync.Once
}

func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.RemoteContext, error) {
	if b.Closed() {
		return nil, errors.New("target closed")
	}
	return &fakeContext{browser: b}, nil
}

func (b *Browser) Close(ctx context.Context) error {
	b.exit()
	return nil
}

// Crash simulates the process exiting on its own.
func (b *Browser) Crash() {
	b.exit()
}

func (b *Browser) exit() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.once.Do(func() { close(b.disconnected) })
}

func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) Disconnected() <-chan struct{} { return b.disconnected }

func (b *Browser) Version() string { return string(b.engine) + "/fake" }

type fakeContext struct {
	browser *Browser
}

func (c *fakeContext) NewPage(ctx context.Context) (browser.RemotePage, error) {
	if c.browser.Closed() {
		return nil, errors.New("target closed")
	}
	return &fakePage{url: browser.BlankURL}, nil
}

func (c *fakeContext) Close(ctx context.Context) error { return nil }

type fakePage struct {
	mu  sync.Mutex
	url string
}

func (p *fakePage) Goto(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.Contains(url, UnreachableHost) {
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

func (p *fakePage) Activate(ctx context.Context) error { return nil }

func (p *fakePage) Close(ctx context.Context) error { return nil }

// NewManager returns a manager over a fresh fake driver, shut down when the
// test ends.
func NewManager(t testing.TB, opts browser.ManagerOptions) (*browser.Manager, *Driver) {
	t.Helper()
	cfg, err := browser.ResolveConfig(browser.DefaultConfig())
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if opts.Events == nil {
		opts.Events = lifecycle.NewManager()
	}
	d := NewDriver()
	m := browser.NewManager(cfg, d, opts)
	t.Cleanup(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return m, d
}
