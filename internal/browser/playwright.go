package browser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver drives all three engines through a shared playwright
// driver process, started lazily on the first launch.
type PlaywrightDriver struct {
	install bool

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightDriver returns a driver. With install set, missing engines are
// downloaded on first use.
func NewPlaywrightDriver(install bool) *PlaywrightDriver {
	return &PlaywrightDriver{install: install}
}

func (d *PlaywrightDriver) Name() string { return DriverPlaywright }

// start returns the shared playwright instance. A failed start is retried on
// the next call so that an `install` run in between can fix it.
func (d *PlaywrightDriver) start() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw != nil {
		return d.pw, nil
	}

	opts := &playwright.RunOptions{
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
		SkipInstallBrowsers: !d.install,
	}
	if d.install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("%w: install playwright: %v", ErrEngineUnavailable, err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: start playwright: %v", ErrEngineUnavailable, err)
	}
	d.pw = pw
	return pw, nil
}

func (d *PlaywrightDriver) browserType(pw *playwright.Playwright, engine Engine) (playwright.BrowserType, error) {
	switch engine {
	case Chromium:
		return pw.Chromium, nil
	case Firefox:
		return pw.Firefox, nil
	case WebKit:
		return pw.WebKit, nil
	}
	return nil, fmt.Errorf("%w: unsupported browser %q", ErrMalformedPayload, engine)
}

func (d *PlaywrightDriver) Launch(ctx context.Context, engine Engine, opts LaunchOptions) (RemoteBrowser, error) {
	pw, err := d.start()
	if err != nil {
		return nil, err
	}
	bt, err := d.browserType(pw, engine)
	if err != nil {
		return nil, err
	}

	launchOpts := playwrightLaunchOptions(opts)
	launchOpts.Timeout = timeoutMillis(ctx, 0)

	b, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, classifyPlaywrightError(engine, err)
	}

	rb := &pwBrowser{browser: b, disconnected: make(chan struct{})}
	b.OnDisconnected(func(playwright.Browser) {
		rb.once.Do(func() { close(rb.disconnected) })
	})
	return rb, nil
}

func (d *PlaywrightDriver) Check(ctx context.Context, engine Engine) error {
	pw, err := d.start()
	if err != nil {
		return err
	}
	bt, err := d.browserType(pw, engine)
	if err != nil {
		return err
	}
	if path := bt.ExecutablePath(); path == "" || !fileExists(path) {
		return fmt.Errorf("%w: %s is not installed (run `browserd install`)", ErrEngineUnavailable, engine)
	}
	return nil
}

func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

// Install downloads the playwright driver and the given engines.
func Install(engines []Engine, verbose bool) error {
	names := make([]string, 0, len(engines))
	for _, e := range engines {
		names = append(names, string(e))
	}
	return playwright.Install(&playwright.RunOptions{
		Browsers: names,
		Verbose:  verbose,
	})
}

func classifyPlaywrightError(engine Engine, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Executable doesn't exist"),
		strings.Contains(msg, "Looks like Playwright"),
		strings.Contains(msg, "please install"):
		return fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, engine, err)
	case strings.Contains(msg, "Timeout"):
		return fmt.Errorf("%w: %s: %v", ErrLaunchTimeout, engine, err)
	}
	return fmt.Errorf("launch %s: %w", engine, err)
}

func playwrightLaunchOptions(opts LaunchOptions) playwright.BrowserTypeLaunchOptions {
	lo := playwright.BrowserTypeLaunchOptions{
		Headless:        opts.Headless,
		Args:            opts.Args,
		Env:             opts.Env,
		ChromiumSandbox: opts.ChromiumSandbox,
	}
	if opts.ExecutablePath != "" {
		lo.ExecutablePath = playwright.String(opts.ExecutablePath)
	}
	if opts.Channel != "" {
		lo.Channel = playwright.String(opts.Channel)
	}
	if opts.SlowMo > 0 {
		lo.SlowMo = playwright.Float(opts.SlowMo)
	}
	if opts.DownloadsPath != "" {
		lo.DownloadsPath = playwright.String(opts.DownloadsPath)
	}
	if p := opts.Proxy; p != nil {
		lo.Proxy = &playwright.Proxy{Server: p.Server}
		if p.Bypass != "" {
			lo.Proxy.Bypass = playwright.String(p.Bypass)
		}
		if p.Username != "" {
			lo.Proxy.Username = playwright.String(p.Username)
			lo.Proxy.Password = playwright.String(p.Password)
		}
	}
	return lo
}

func playwrightContextOptions(opts ContextOptions) playwright.BrowserNewContextOptions {
	vp := opts.ViewportOrDefault()
	co := playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: vp.Width, Height: vp.Height},
		JavaScriptEnabled: opts.JavaScriptEnabled,
		AcceptDownloads:   opts.AcceptDownloads,
		ExtraHttpHeaders:  opts.ExtraHTTPHeaders,
		Permissions:       opts.Permissions,
	}
	if opts.UserAgent != "" {
		co.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		co.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		co.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.IgnoreHTTPSErrors {
		co.IgnoreHttpsErrors = playwright.Bool(true)
	}
	if opts.BypassCSP {
		co.BypassCSP = playwright.Bool(true)
	}
	if opts.Offline {
		co.Offline = playwright.Bool(true)
	}
	if opts.IsMobile {
		co.IsMobile = playwright.Bool(true)
	}
	if opts.HasTouch {
		co.HasTouch = playwright.Bool(true)
	}
	if opts.DeviceScaleFactor > 0 {
		co.DeviceScaleFactor = playwright.Float(opts.DeviceScaleFactor)
	}
	if opts.BaseURL != "" {
		co.BaseURL = playwright.String(opts.BaseURL)
	}
	switch opts.ColorScheme {
	case "light":
		co.ColorScheme = playwright.ColorSchemeLight
	case "dark":
		co.ColorScheme = playwright.ColorSchemeDark
	case "no-preference":
		co.ColorScheme = playwright.ColorSchemeNoPreference
	}
	if g := opts.Geolocation; g != nil {
		co.Geolocation = &playwright.Geolocation{Latitude: g.Latitude, Longitude: g.Longitude}
		if g.Accuracy > 0 {
			co.Geolocation.Accuracy = playwright.Float(g.Accuracy)
		}
	}
	if c := opts.HTTPCredentials; c != nil {
		co.HttpCredentials = &playwright.HttpCredentials{Username: c.Username, Password: c.Password}
	}
	return co
}

// timeoutMillis converts the ctx deadline into a playwright timeout.
// Playwright calls take no context, so the deadline is the only way to bound them.
func timeoutMillis(ctx context.Context, fallback time.Duration) *float64 {
	if deadline, ok := ctx.Deadline(); ok {
		ms := float64(time.Until(deadline).Milliseconds())
		if ms < 1 {
			ms = 1
		}
		return playwright.Float(ms)
	}
	if fallback > 0 {
		return playwright.Float(float64(fallback.Milliseconds()))
	}
	return nil
}

type pwBrowser struct {
	browser      playwright.Browser
	disconnected chan struct{}
	once         sync.Once
}

func (b *pwBrowser) NewContext(ctx context.Context, opts ContextOptions) (RemoteContext, error) {
	bc, err := b.browser.NewContext(playwrightContextOptions(opts))
	if err != nil {
		return nil, err
	}
	return &pwContext{context: bc}, nil
}

func (b *pwBrowser) Close(ctx context.Context) error {
	if !b.browser.IsConnected() {
		return nil
	}
	return b.browser.Close()
}

func (b *pwBrowser) Disconnected() <-chan struct{} { return b.disconnected }

func (b *pwBrowser) Version() string { return b.browser.Version() }

type pwContext struct {
	context playwright.BrowserContext
}

func (c *pwContext) NewPage(ctx context.Context) (RemotePage, error) {
	p, err := c.context.NewPage()
	if err != nil {
		return nil, err
	}
	return &pwPage{page: p}, nil
}

func (c *pwContext) Close(ctx context.Context) error {
	return c.context.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(ctx context.Context, url string) (string, error) {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeoutMillis(ctx, DefaultNavigationTimeout),
	})
	if err != nil {
		return p.page.URL(), err
	}
	return p.page.URL(), nil
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Activate(ctx context.Context) error { return p.page.BringToFront() }

func (p *pwPage) Close(ctx context.Context) error {
	if p.page.IsClosed() {
		return nil
	}
	return p.page.Close()
}
