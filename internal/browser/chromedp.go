package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver drives a locally installed Chromium over CDP. It serves
// only the chromium engine.
type ChromedpDriver struct {
	executablePath string
	noSandbox      bool
}

func NewChromedpDriver(executablePath string, noSandbox bool) *ChromedpDriver {
	return &ChromedpDriver{executablePath: executablePath, noSandbox: noSandbox}
}

func (d *ChromedpDriver) Name() string { return DriverCDP }

func (d *ChromedpDriver) executable(opts LaunchOptions) (string, error) {
	custom := opts.ExecutablePath
	if custom == "" {
		custom = d.executablePath
	}
	exe, err := FindChromeExecutable(custom)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if exe == nil {
		return "", fmt.Errorf("%w: no supported browser found (Chrome/Brave/Edge/Chromium)", ErrEngineUnavailable)
	}
	return exe.Path, nil
}

func (d *ChromedpDriver) Check(ctx context.Context, engine Engine) error {
	if engine != Chromium {
		return fmt.Errorf("%w: the cdp driver only serves chromium", ErrEngineUnavailable)
	}
	_, err := d.executable(LaunchOptions{})
	return err
}

// CheckLaunchOptions rejects slowMo, which CDP has no equivalent for.
func (d *ChromedpDriver) CheckLaunchOptions(opts LaunchOptions) error {
	if opts.SlowMo != 0 {
		return fmt.Errorf("%w: rawOptions: slowMo is not supported by the cdp driver", ErrMalformedPayload)
	}
	return nil
}

func (d *ChromedpDriver) Launch(ctx context.Context, engine Engine, opts LaunchOptions) (RemoteBrowser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.CheckLaunchOptions(opts); err != nil {
		return nil, err
	}
	if engine != Chromium {
		return nil, fmt.Errorf("%w: the cdp driver only serves chromium, not %s", ErrEngineUnavailable, engine)
	}
	exe, err := d.executable(opts)
	if err != nil {
		return nil, err
	}

	headless := opts.Headless == nil || *opts.Headless
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(exe),
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("no-first-run", true),
	)
	sandbox := opts.ChromiumSandbox != nil && *opts.ChromiumSandbox
	if d.noSandbox || !sandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if p := opts.Proxy; p != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(p.Server))
		if p.Bypass != "" {
			allocOpts = append(allocOpts, chromedp.Flag("proxy-bypass-list", p.Bypass))
		}
	}
	if len(opts.Env) > 0 {
		env := make([]string, 0, len(opts.Env))
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		allocOpts = append(allocOpts, chromedp.Env(env...))
	}
	for _, arg := range opts.Args {
		name, value := splitFlag(arg)
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}

	// The process outlives the launch ctx, so it hangs off Background.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	var version string
	go func() {
		started <- chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, product, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
			version = product
			return err
		}))
	}()

	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	rb := &cdpBrowser{
		ctx:           browserCtx,
		cancel:        browserCancel,
		allocCancel:   allocCancel,
		version:       version,
		downloadsPath: opts.DownloadsPath,
		disconnected:  make(chan struct{}),
	}
	go rb.watch(chromedp.FromContext(browserCtx).Browser.LostConnection)
	return rb, nil
}

func (d *ChromedpDriver) Close() error { return nil }

// splitFlag turns "--name=value" into a chromedp flag; bare flags become true.
func splitFlag(arg string) (string, any) {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:]
		}
	}
	return arg, true
}

type cdpBrowser struct {
	ctx           context.Context
	cancel        context.CancelFunc
	allocCancel   context.CancelFunc
	version       string
	downloadsPath string

	disconnected chan struct{}
	once         sync.Once
}

func (b *cdpBrowser) watch(lost <-chan struct{}) {
	select {
	case <-lost:
	case <-b.ctx.Done():
	}
	b.once.Do(func() { close(b.disconnected) })
}

func (b *cdpBrowser) NewContext(ctx context.Context, opts ContextOptions) (RemoteContext, error) {
	return &cdpContext{browser: b, opts: opts}, nil
}

func (b *cdpBrowser) Close(ctx context.Context) error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	<-b.disconnected
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *cdpBrowser) Disconnected() <-chan struct{} { return b.disconnected }

func (b *cdpBrowser) Version() string { return b.version }

// cdpContext maps to a CDP browser context. The first page creates it.
type cdpContext struct {
	browser *cdpBrowser
	opts    ContextOptions

	mu     sync.Mutex
	root   context.Context
	cancel context.CancelFunc
}

func (c *cdpContext) NewPage(ctx context.Context) (RemotePage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		tabCtx context.Context
		cancel context.CancelFunc
	)
	if c.root == nil {
		c.root, c.cancel = chromedp.NewContext(c.browser.ctx, chromedp.WithNewBrowserContext())
		tabCtx, cancel = c.root, func() {}
	} else {
		tabCtx, cancel = chromedp.NewContext(c.root)
	}

	if creds := c.opts.HTTPCredentials; creds != nil {
		answerAuth(tabCtx, *creds)
	}
	if err := runBounded(ctx, tabCtx, pageActions(c.opts, c.browser.downloadsPath)...); err != nil {
		cancel()
		return nil, err
	}
	return &cdpPage{ctx: tabCtx, cancel: cancel, url: BlankURL, baseURL: c.opts.BaseURL}, nil
}

// pageActions turns context options into the CDP calls that apply them to a
// new tab. Permission and download settings belong to the browser context
// and are sent to the browser target.
func pageActions(opts ContextOptions, downloadsPath string) []chromedp.Action {
	vp := opts.ViewportOrDefault()
	scale := opts.DeviceScaleFactor
	if scale == 0 {
		scale = 1
	}
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), scale, opts.IsMobile),
	}
	if opts.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	if opts.TimezoneID != "" {
		actions = append(actions, emulation.SetTimezoneOverride(opts.TimezoneID))
	}
	if opts.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.HasTouch {
		actions = append(actions, emulation.SetTouchEmulationEnabled(true))
	}
	if opts.ColorScheme != "" {
		actions = append(actions, emulation.SetEmulatedMedia().WithFeatures([]*emulation.MediaFeature{
			{Name: "prefers-color-scheme", Value: opts.ColorScheme},
		}))
	}
	if opts.JavaScriptEnabled != nil && !*opts.JavaScriptEnabled {
		actions = append(actions, emulation.SetScriptExecutionDisabled(true))
	}
	if g := opts.Geolocation; g != nil {
		accuracy := g.Accuracy
		if accuracy == 0 {
			// CDP reports the position as unavailable without an accuracy.
			accuracy = 1
		}
		actions = append(actions, emulation.SetGeolocationOverride().
			WithLatitude(g.Latitude).
			WithLongitude(g.Longitude).
			WithAccuracy(accuracy))
	}
	if opts.BypassCSP {
		actions = append(actions, page.SetBypassCSP(true))
	}
	if opts.IgnoreHTTPSErrors {
		actions = append(actions, security.SetIgnoreCertificateErrors(true))
	}
	if len(opts.ExtraHTTPHeaders) > 0 || opts.Offline {
		actions = append(actions, network.Enable())
	}
	if len(opts.ExtraHTTPHeaders) > 0 {
		headers := make(network.Headers, len(opts.ExtraHTTPHeaders))
		for k, v := range opts.ExtraHTTPHeaders {
			headers[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	if opts.Offline {
		actions = append(actions, network.EmulateNetworkConditions(true, 0, -1, -1))
	}
	if opts.HTTPCredentials != nil {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	if len(opts.Permissions) > 0 {
		perms := make([]cdpbrowser.PermissionType, 0, len(opts.Permissions))
		for _, name := range opts.Permissions {
			perms = append(perms, permissionType(name))
		}
		actions = append(actions, contextScoped{
			name: "Browser.grantPermissions",
			do: func(ctx context.Context, id cdp.BrowserContextID) error {
				return cdpbrowser.GrantPermissions(perms).WithBrowserContextID(id).Do(ctx)
			},
		})
	}
	if opts.AcceptDownloads != nil || downloadsPath != "" {
		behavior := cdpbrowser.SetDownloadBehaviorBehaviorAllow
		if opts.AcceptDownloads != nil && !*opts.AcceptDownloads {
			behavior = cdpbrowser.SetDownloadBehaviorBehaviorDeny
		}
		actions = append(actions, contextScoped{
			name: "Browser.setDownloadBehavior",
			do: func(ctx context.Context, id cdp.BrowserContextID) error {
				p := cdpbrowser.SetDownloadBehavior(behavior).WithBrowserContextID(id)
				if downloadsPath != "" && behavior == cdpbrowser.SetDownloadBehaviorBehaviorAllow {
					p = p.WithDownloadPath(downloadsPath)
				}
				return p.Do(ctx)
			},
		})
	}
	return actions
}

// contextScoped runs a Browser domain call against the browser target for
// the tab's browser context.
type contextScoped struct {
	name string
	do   func(ctx context.Context, id cdp.BrowserContextID) error
}

func (a contextScoped) Do(ctx context.Context) error {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Browser == nil {
		return fmt.Errorf("%s: no browser in context", a.name)
	}
	return a.do(cdp.WithExecutor(ctx, c.Browser), c.BrowserContextID)
}

// permissionType maps web permission names to their CDP spelling.
func permissionType(name string) cdpbrowser.PermissionType {
	switch name {
	case "camera":
		return cdpbrowser.PermissionTypeVideoCapture
	case "microphone":
		return cdpbrowser.PermissionTypeAudioCapture
	case "clipboard-read", "clipboard-write":
		return cdpbrowser.PermissionTypeClipboardReadWrite
	case "background-sync":
		return cdpbrowser.PermissionTypeBackgroundSync
	case "payment-handler":
		return cdpbrowser.PermissionTypePaymentHandler
	}
	return cdpbrowser.PermissionType(name)
}

// answerAuth continues paused requests and answers auth challenges with
// creds. fetch.Enable with auth handling pauses every request.
func answerAuth(tab context.Context, creds HTTPCredentials) {
	chromedp.ListenTarget(tab, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go chromedp.Run(tab, fetch.ContinueRequest(e.RequestID))
		case *fetch.EventAuthRequired:
			go chromedp.Run(tab, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: creds.Username,
				Password: creds.Password,
			}))
		}
	})
}

func (c *cdpContext) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

type cdpPage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	baseURL string

	mu  sync.Mutex
	url string
}

func (p *cdpPage) Goto(ctx context.Context, target string) (string, error) {
	target = resolveURL(p.baseURL, target)
	var loc string
	err := runBounded(ctx, p.ctx, chromedp.Navigate(target), chromedp.Location(&loc))
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != "" {
		p.url = loc
	}
	return p.url, err
}

// resolveURL resolves a relative target against base; absolute targets and
// unparsable input pass through.
func resolveURL(base, target string) string {
	if base == "" {
		return target
	}
	b, err := url.Parse(base)
	if err != nil {
		return target
	}
	t, err := url.Parse(target)
	if err != nil || t.IsAbs() {
		return target
	}
	return b.ResolveReference(t).String()
}

func (p *cdpPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *cdpPage) Activate(ctx context.Context) error {
	return runBounded(ctx, p.ctx, page.BringToFront())
}

func (p *cdpPage) Close(ctx context.Context) error {
	err := runBounded(ctx, p.ctx, page.Close())
	p.cancel()
	return err
}

// runBounded runs actions on a tab while honoring the caller's deadline and
// cancellation. Cancelling a derived context leaves the tab open.
func runBounded(caller, tab context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	if deadline, ok := caller.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(caller, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}
