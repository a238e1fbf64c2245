package browser

import (
	"fmt"
	"time"
)

// Config is the browser section of the browserd config.
type Config struct {
	// Driver is "playwright" (default) or "cdp".
	Driver string `json:"driver,omitempty" yaml:"driver" split_words:"true"`

	// DefaultEngine is launched when a command needs a browser and none is open.
	DefaultEngine string `json:"defaultEngine,omitempty" yaml:"defaultEngine" split_words:"true"`

	// Engines restricts which engines may be launched. Empty means all.
	Engines []string `json:"engines,omitempty" yaml:"engines" split_words:"true"`

	// Headless is the default for auto-launched browsers and NewBrowser without a headless option.
	Headless bool `json:"headless" yaml:"headless" split_words:"true"`

	// NoSandbox disables the Chromium sandbox (needed in some containers).
	NoSandbox bool `json:"noSandbox,omitempty" yaml:"noSandbox" split_words:"true"`

	// AutoActivate is the initial Auto-Activate flag of new sessions.
	AutoActivate bool `json:"autoActivate" yaml:"autoActivate" split_words:"true"`

	// ExecutablePath overrides Chromium auto-detection for the cdp driver.
	ExecutablePath string `json:"executablePath,omitempty" yaml:"executablePath" split_words:"true"`

	// InstallDrivers lets the playwright driver download its engines on first use.
	InstallDrivers bool `json:"installDrivers,omitempty" yaml:"installDrivers" split_words:"true"`

	LaunchTimeout     time.Duration `json:"launchTimeout,omitempty" yaml:"launchTimeout" split_words:"true"`
	NavigationTimeout time.Duration `json:"navigationTimeout,omitempty" yaml:"navigationTimeout" split_words:"true"`
	CloseTimeout      time.Duration `json:"closeTimeout,omitempty" yaml:"closeTimeout" split_words:"true"`
}

// ResolvedConfig is the fully resolved browser configuration.
type ResolvedConfig struct {
	Driver            string
	DefaultEngine     Engine
	Engines           map[Engine]bool
	Headless          bool
	NoSandbox         bool
	AutoActivate      bool
	ExecutablePath    string
	InstallDrivers    bool
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	CloseTimeout      time.Duration
}

// DefaultConfig returns the default browser configuration.
func DefaultConfig() Config {
	return Config{
		Driver:            DriverPlaywright,
		DefaultEngine:     string(Chromium),
		Headless:          true,
		AutoActivate:      true,
		LaunchTimeout:     DefaultLaunchTimeout,
		NavigationTimeout: DefaultNavigationTimeout,
		CloseTimeout:      DefaultCloseTimeout,
	}
}

// ResolveConfig resolves a browser config with defaults applied.
func ResolveConfig(cfg Config) (*ResolvedConfig, error) {
	resolved := &ResolvedConfig{
		Driver:            cfg.Driver,
		Engines:           make(map[Engine]bool),
		Headless:          cfg.Headless,
		NoSandbox:         cfg.NoSandbox,
		AutoActivate:      cfg.AutoActivate,
		ExecutablePath:    cfg.ExecutablePath,
		InstallDrivers:    cfg.InstallDrivers,
		LaunchTimeout:     cfg.LaunchTimeout,
		NavigationTimeout: cfg.NavigationTimeout,
		CloseTimeout:      cfg.CloseTimeout,
	}

	switch resolved.Driver {
	case "":
		resolved.Driver = DriverPlaywright
	case DriverPlaywright, DriverCDP:
	default:
		return nil, fmt.Errorf("browser.driver: unknown driver %q", cfg.Driver)
	}

	engine, err := ParseEngine(cfg.DefaultEngine, Chromium)
	if err != nil {
		return nil, fmt.Errorf("browser.defaultEngine: %w", err)
	}
	resolved.DefaultEngine = engine

	if len(cfg.Engines) == 0 {
		for _, e := range Engines {
			resolved.Engines[e] = true
		}
	}
	for _, name := range cfg.Engines {
		e, err := ParseEngine(name, "")
		if err != nil {
			return nil, fmt.Errorf("browser.engines: %w", err)
		}
		resolved.Engines[e] = true
	}
	if !resolved.Engines[resolved.DefaultEngine] {
		return nil, fmt.Errorf("browser.defaultEngine %q is not in browser.engines", engine)
	}

	if resolved.LaunchTimeout <= 0 {
		resolved.LaunchTimeout = DefaultLaunchTimeout
	}
	if resolved.NavigationTimeout <= 0 {
		resolved.NavigationTimeout = DefaultNavigationTimeout
	}
	if resolved.CloseTimeout <= 0 {
		resolved.CloseTimeout = DefaultCloseTimeout
	}

	return resolved, nil
}
