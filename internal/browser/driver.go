package browser

import (
	"context"
	"fmt"
)

// Driver launches engine processes. Implementations must be safe for
// concurrent use by multiple sessions.
type Driver interface {
	Name() string

	// Launch starts an engine process. opts.Headless is always set by the caller.
	Launch(ctx context.Context, engine Engine, opts LaunchOptions) (RemoteBrowser, error)

	// Check reports whether the engine can be launched, wrapping ErrEngineUnavailable if not.
	Check(ctx context.Context, engine Engine) error

	// Close releases driver-wide resources after all browsers are closed.
	Close() error
}

// LaunchOptionChecker is implemented by drivers that cannot honor every
// launch option. CheckLaunchOptions wraps ErrMalformedPayload and runs before
// the session's current browser is touched.
type LaunchOptionChecker interface {
	CheckLaunchOptions(opts LaunchOptions) error
}

// RemoteBrowser is a launched engine process.
type RemoteBrowser interface {
	NewContext(ctx context.Context, opts ContextOptions) (RemoteContext, error)
	Close(ctx context.Context) error

	// Disconnected is closed when the process exits or the connection drops,
	// including after Close.
	Disconnected() <-chan struct{}

	Version() string
}

// RemoteContext is an isolated profile inside a RemoteBrowser.
type RemoteContext interface {
	NewPage(ctx context.Context) (RemotePage, error)
	Close(ctx context.Context) error
}

// RemotePage is a single tab.
type RemotePage interface {
	// Goto navigates and returns the URL the page ended up on.
	Goto(ctx context.Context, url string) (string, error)
	URL() string

	// Activate brings the tab to the front.
	Activate(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewDriver builds the driver named by cfg.Driver.
func NewDriver(cfg *ResolvedConfig) (Driver, error) {
	switch cfg.Driver {
	case DriverPlaywright, "":
		return NewPlaywrightDriver(cfg.InstallDrivers), nil
	case DriverCDP:
		return NewChromedpDriver(cfg.ExecutablePath, cfg.NoSandbox), nil
	}
	return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
}
