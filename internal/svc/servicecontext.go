package svc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/config"
	"github.com/neboloop/browserd/internal/crashlog"
	"github.com/neboloop/browserd/internal/db"
	"github.com/neboloop/browserd/internal/defaults"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/lifecycle"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/metrics"
)

// ServiceContext holds everything the transports share.
type ServiceContext struct {
	Config  config.Config
	Version string // Build version (e.g. "v0.2.0" or "dev")

	DB         *db.Store // nil when the journal is disabled
	Metrics    *metrics.Metrics
	Events     *lifecycle.Manager
	Manager    *browser.Manager
	Dispatcher *dispatch.Dispatcher

	ownsDB      bool
	unsubscribe func()
}

type options struct {
	driver  browser.Driver
	store   *db.Store
	events  *lifecycle.Manager
	version string
}

// Option overrides a dependency NewServiceContext would otherwise build.
type Option func(*options)

// WithDriver replaces the configured driver, e.g. with a fake in tests.
func WithDriver(d browser.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithStore reuses an open journal. The caller keeps ownership.
func WithStore(s *db.Store) Option {
	return func(o *options) { o.store = s }
}

func WithEvents(e *lifecycle.Manager) Option {
	return func(o *options) { o.events = e }
}

func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// NewServiceContext builds the driver, session manager, journal, metrics and
// dispatcher from c and starts the idle reaper.
func NewServiceContext(c config.Config, opts ...Option) (*ServiceContext, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	resolved, err := browser.ResolveConfig(c.Browser)
	if err != nil {
		return nil, err
	}

	driver := o.driver
	if driver == nil {
		driver, err = browser.NewDriver(resolved)
		if err != nil {
			return nil, err
		}
	}

	svc := &ServiceContext{
		Config:  c,
		Version: o.version,
		Events:  o.events,
		DB:      o.store,
	}
	if svc.Events == nil {
		svc.Events = lifecycle.Default()
	}

	if svc.DB == nil && c.Journal.Enabled {
		path, err := journalPath(c.Journal)
		if err != nil {
			return nil, err
		}
		svc.DB, err = db.NewSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		svc.ownsDB = true
	}
	if svc.DB != nil {
		crashlog.Init(svc.DB)
	}

	svc.Metrics = metrics.New(func() browser.Stats { return svc.Manager.Stats() })
	svc.Manager = browser.NewManager(resolved, driver, browser.ManagerOptions{
		MaxSessions:  c.Server.MaxSessions,
		IdleTimeout:  c.Reaper.IdleTimeout,
		ReapSchedule: c.Reaper.Schedule,
		Events:       svc.Events,
	})
	svc.unsubscribe = svc.Events.Subscribe(func(e lifecycle.Event, _ any) {
		if e == lifecycle.EventBrowserCrashed {
			svc.Metrics.BrowserCrashes.Inc()
		}
	})

	dopts := []dispatch.Option{dispatch.WithObserver(svc.Metrics)}
	if svc.DB != nil {
		dopts = append(dopts, dispatch.WithRecorder(dispatch.NewJournalRecorder(svc.DB)))
	}
	svc.Dispatcher = dispatch.New(svc.Manager, dopts...)

	if err := svc.Manager.Start(); err != nil {
		svc.Close(context.Background())
		return nil, err
	}
	return svc, nil
}

func journalPath(c config.JournalConfig) (string, error) {
	if c.Path != "" {
		return c.Path, nil
	}
	dir, err := defaults.EnsureDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaults.JournalFile), nil
}

// Reload applies the hot-reloadable settings of c.
func (svc *ServiceContext) Reload(c config.Config) error {
	r := c.Reloadable()
	var errs []error
	if err := logging.SetLevel(r.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	svc.Manager.SetLimits(r.MaxSessions, r.Reaper.IdleTimeout)
	if err := svc.Manager.Reschedule(r.Reaper.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("reaper.schedule: %w", err))
	}
	return errors.Join(errs...)
}

// Close shuts every session down and releases the journal.
func (svc *ServiceContext) Close(ctx context.Context) error {
	var errs []error
	if err := svc.Manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if svc.unsubscribe != nil {
		svc.unsubscribe()
	}
	if svc.ownsDB {
		crashlog.Init(nil)
		if err := svc.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
