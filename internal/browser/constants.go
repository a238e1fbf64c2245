// Package browser manages per-session Browser, Context and Page trees on top of
// an engine driver (playwright or chromedp).
package browser

import "time"

// Driver names accepted by Config.Driver.
const (
	// DriverPlaywright drives chromium, firefox and webkit through playwright.
	DriverPlaywright = "playwright"

	// DriverCDP drives a locally installed Chromium over the DevTools protocol.
	DriverCDP = "cdp"
)

const (
	DefaultLaunchTimeout     = 30 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultCloseTimeout      = 10 * time.Second

	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720

	// BlankURL is the URL of a page opened without navigation.
	BlankURL = "about:blank"
)
