package browser

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

// Browser is a running engine process. Its context list is the Context
// Registry for that browser and is only mutated under mu.
type Browser struct {
	ID        string
	Engine    Engine
	Headless  bool
	Options   LaunchOptions
	StartedAt time.Time

	remote RemoteBrowser

	mu       sync.Mutex
	contexts []*Context
	closed   bool

	closing atomic.Bool
	crashed atomic.Bool
}

// Version is the engine product string reported at launch.
func (b *Browser) Version() string {
	return b.remote.Version()
}

// Contexts returns the open contexts in creation order.
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.contexts)
}

func (b *Browser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Crashed reports whether the process went away without being closed.
func (b *Browser) Crashed() bool {
	if b.crashed.Load() {
		return true
	}
	if b.closing.Load() {
		return false
	}
	select {
	case <-b.remote.Disconnected():
		return true
	default:
		return false
	}
}

func (b *Browser) createContext(ctx context.Context, opts ContextOptions) (*Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: browser %s is closed", ErrNoBrowserOpen, b.ID)
	}
	rc, err := b.remote.NewContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	c := &Context{
		ID:        newID("context"),
		Options:   opts,
		CreatedAt: time.Now(),
		browser:   b,
		remote:    rc,
	}
	b.contexts = append(b.contexts, c)
	return c, nil
}

// closeContext removes c and closes all of its pages.
func (b *Browser) closeContext(ctx context.Context, c *Context) error {
	b.mu.Lock()
	if i := slices.Index(b.contexts, c); i >= 0 {
		b.contexts = slices.Delete(b.contexts, i, i+1)
	}
	b.mu.Unlock()
	return c.close(ctx, true)
}

// markClosed detaches every context and page without touching the engine.
func (b *Browser) markClosed() {
	b.mu.Lock()
	contexts := b.contexts
	b.contexts = nil
	b.closed = true
	b.mu.Unlock()

	for _, c := range contexts {
		_ = c.close(context.Background(), false)
	}
}

// Context is an isolated profile inside a Browser. Its page list is the
// Page Registry for that context and is only mutated under mu.
type Context struct {
	ID        string
	Options   ContextOptions
	CreatedAt time.Time

	browser *Browser
	remote  RemoteContext

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

func (c *Context) Browser() *Browser {
	return c.browser
}

// Pages returns the open pages in opening order.
func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pages)
}

func (c *Context) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// PageAt returns the page at ordinal position i.
func (c *Context) PageAt(i int) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.pages) {
		return nil, fmt.Errorf("%w: no page at index %d (context %s has %d)", ErrIndexOutOfRange, i, c.ID, len(c.pages))
	}
	return c.pages[i], nil
}

func (c *Context) indexOf(p *Page) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Index(c.pages, p)
}

// openPage creates a tab, navigates it when url is set, and appends it.
// A page whose navigation fails is closed and never appended.
func (c *Context) openPage(ctx context.Context, url string, navTimeout time.Duration) (*Page, error) {
	if c.IsClosed() {
		return nil, fmt.Errorf("%w: context %s is closed", ErrNoBrowserOpen, c.ID)
	}
	rp, err := c.remote.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	p := &Page{
		ID:       newID("page"),
		OpenedAt: time.Now(),
		context:  c,
		remote:   rp,
		url:      BlankURL,
	}
	if url != "" {
		if err := p.navigate(ctx, url, navTimeout); err != nil {
			_ = rp.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = rp.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%w: context %s closed while opening page", ErrNoBrowserOpen, c.ID)
	}
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *Context) closePage(ctx context.Context, p *Page) error {
	c.mu.Lock()
	if i := slices.Index(c.pages, p); i >= 0 {
		c.pages = slices.Delete(c.pages, i, i+1)
	}
	c.mu.Unlock()

	if !p.markClosed() {
		return nil
	}
	if err := p.remote.Close(ctx); err != nil {
		return fmt.Errorf("close page %s: %w", p.ID, err)
	}
	return nil
}

// close marks c and its pages closed. With remote set the engine context is
// closed too, which takes its tabs with it.
func (c *Context) close(ctx context.Context, remote bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := c.pages
	c.pages = nil
	c.mu.Unlock()

	for _, p := range pages {
		p.markClosed()
	}
	if !remote {
		return nil
	}
	if err := c.remote.Close(ctx); err != nil {
		return fmt.Errorf("close context %s: %w", c.ID, err)
	}
	return nil
}

// Page is a single tab inside a Context.
type Page struct {
	ID       string
	OpenedAt time.Time

	context *Context
	remote  RemotePage

	mu     sync.Mutex
	url    string
	closed bool
}

func (p *Page) Context() *Context {
	return p.context
}

// Index is the page's current position in its context, or -1 once closed.
func (p *Page) Index() int {
	return p.context.indexOf(p)
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	final, err := p.remote.Goto(navCtx, url)
	p.mu.Lock()
	if final != "" {
		p.url = final
	}
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	return nil
}

// markClosed reports whether this call closed the page.
func (p *Page) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}
