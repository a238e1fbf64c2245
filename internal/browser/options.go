package browser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// LaunchOptions are the recognized NewBrowser options.
type LaunchOptions struct {
	// Headless runs the engine without a window. Nil falls back to the command or config default.
	Headless *bool `json:"headless,omitempty"`

	// Args are extra command-line flags passed to the engine.
	Args []string `json:"args,omitempty"`

	// ExecutablePath overrides the bundled or discovered engine binary.
	ExecutablePath string `json:"executablePath,omitempty"`

	// Channel selects a branded Chromium build such as "chrome" or "msedge".
	Channel string `json:"channel,omitempty"`

	// SlowMo delays every engine operation by this many milliseconds.
	SlowMo float64 `json:"slowMo,omitempty"`

	// Timeout bounds the launch in milliseconds. Zero uses browser.launchTimeout.
	Timeout float64 `json:"timeout,omitempty"`

	// Env replaces the engine process environment.
	Env map[string]string `json:"env,omitempty"`

	// ChromiumSandbox enables the Chromium sandbox.
	ChromiumSandbox *bool `json:"chromiumSandbox,omitempty"`

	// DownloadsPath is where accepted downloads are stored.
	DownloadsPath string `json:"downloadsPath,omitempty"`

	Proxy *ProxyOptions `json:"proxy,omitempty"`
}

// ProxyOptions routes browser traffic through a proxy.
type ProxyOptions struct {
	Server   string `json:"server"`
	Bypass   string `json:"bypass,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ContextOptions are the recognized NewContext options.
type ContextOptions struct {
	// Viewport defaults to 1280x720.
	Viewport *ViewportSize `json:"viewport,omitempty"`

	UserAgent         string            `json:"userAgent,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	TimezoneID        string            `json:"timezoneId,omitempty"`
	IgnoreHTTPSErrors bool              `json:"ignoreHTTPSErrors,omitempty"`
	JavaScriptEnabled *bool             `json:"javaScriptEnabled,omitempty"`
	BypassCSP         bool              `json:"bypassCSP,omitempty"`
	AcceptDownloads   *bool             `json:"acceptDownloads,omitempty"`
	ExtraHTTPHeaders  map[string]string `json:"extraHTTPHeaders,omitempty"`
	Offline           bool              `json:"offline,omitempty"`
	IsMobile          bool              `json:"isMobile,omitempty"`
	HasTouch          bool              `json:"hasTouch,omitempty"`
	DeviceScaleFactor float64           `json:"deviceScaleFactor,omitempty"`

	// ColorScheme is "light", "dark" or "no-preference".
	ColorScheme string `json:"colorScheme,omitempty"`

	// BaseURL resolves relative navigation targets.
	BaseURL string `json:"baseURL,omitempty"`

	Permissions     []string         `json:"permissions,omitempty"`
	Geolocation     *Geolocation     `json:"geolocation,omitempty"`
	HTTPCredentials *HTTPCredentials `json:"httpCredentials,omitempty"`
}

// ViewportSize is a page viewport in CSS pixels.
type ViewportSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

type HTTPCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DecodeLaunchOptions decodes a serialized option map. Empty input yields zero options.
func DecodeLaunchOptions(raw string) (LaunchOptions, error) {
	var opts LaunchOptions
	if err := decodeStrict(raw, &opts); err != nil {
		return LaunchOptions{}, err
	}
	if err := opts.Validate(); err != nil {
		return LaunchOptions{}, err
	}
	return opts, nil
}

// DecodeContextOptions decodes a serialized option map. Empty input yields zero options.
func DecodeContextOptions(raw string) (ContextOptions, error) {
	var opts ContextOptions
	if err := decodeStrict(raw, &opts); err != nil {
		return ContextOptions{}, err
	}
	if err := opts.Validate(); err != nil {
		return ContextOptions{}, err
	}
	return opts, nil
}

func decodeStrict(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	if err := CheckKeys([]byte(raw), v); err != nil {
		return fmt.Errorf("rawOptions: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: rawOptions: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: rawOptions: trailing data after object", ErrMalformedPayload)
	}
	return nil
}

// Validate checks value ranges that JSON decoding cannot express.
func (o LaunchOptions) Validate() error {
	if o.SlowMo < 0 {
		return fmt.Errorf("%w: slowMo must not be negative", ErrMalformedPayload)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrMalformedPayload)
	}
	if o.Proxy != nil && o.Proxy.Server == "" {
		return fmt.Errorf("%w: proxy.server is required", ErrMalformedPayload)
	}
	return nil
}

// LaunchTimeout returns the option timeout, or def when unset.
func (o LaunchOptions) LaunchTimeout(def time.Duration) time.Duration {
	if o.Timeout > 0 {
		return time.Duration(o.Timeout * float64(time.Millisecond))
	}
	return def
}

// Validate checks value ranges that JSON decoding cannot express.
func (o ContextOptions) Validate() error {
	if o.Viewport != nil && (o.Viewport.Width <= 0 || o.Viewport.Height <= 0) {
		return fmt.Errorf("%w: viewport width and height must be positive", ErrMalformedPayload)
	}
	switch o.ColorScheme {
	case "", "light", "dark", "no-preference":
	default:
		return fmt.Errorf("%w: colorScheme %q (want light, dark or no-preference)", ErrMalformedPayload, o.ColorScheme)
	}
	if o.DeviceScaleFactor < 0 {
		return fmt.Errorf("%w: deviceScaleFactor must not be negative", ErrMalformedPayload)
	}
	if g := o.Geolocation; g != nil {
		if g.Latitude < -90 || g.Latitude > 90 || g.Longitude < -180 || g.Longitude > 180 {
			return fmt.Errorf("%w: geolocation out of range", ErrMalformedPayload)
		}
	}
	return nil
}

// ViewportOrDefault returns the configured viewport or 1280x720.
func (o ContextOptions) ViewportOrDefault() ViewportSize {
	if o.Viewport != nil {
		return *o.Viewport
	}
	return ViewportSize{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
}
