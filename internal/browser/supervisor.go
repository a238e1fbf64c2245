package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/browserd/internal/logging"
)

// Supervisor launches and stops engine processes and watches them for
// unexpected exits.
type Supervisor struct {
	driver Driver
	cfg    *ResolvedConfig
	log    *zap.Logger

	wg sync.WaitGroup
}

type launchResult struct {
	remote RemoteBrowser
	err    error
}

// LaunchRequest describes one engine launch.
type LaunchRequest struct {
	Engine   Engine
	Headless bool
	Options  LaunchOptions

	// OnCrash runs on the watcher goroutine when the process exits without Close.
	OnCrash func(*Browser)
}

func NewSupervisor(driver Driver, cfg *ResolvedConfig) *Supervisor {
	return &Supervisor{
		driver: driver,
		cfg:    cfg,
		log:    logging.Named("supervisor"),
	}
}

// Check reports whether engine can be launched.
// CheckLaunchOptions rejects options the driver would otherwise ignore.
func (s *Supervisor) CheckLaunchOptions(opts LaunchOptions) error {
	if c, ok := s.driver.(LaunchOptionChecker); ok {
		return c.CheckLaunchOptions(opts)
	}
	return nil
}

func (s *Supervisor) Check(ctx context.Context, engine Engine) error {
	if !s.cfg.Engines[engine] {
		return fmt.Errorf("%w: %s is disabled by configuration", ErrEngineUnavailable, engine)
	}
	return s.driver.Check(ctx, engine)
}

// Launch starts an engine process and waits at most the launch timeout for
// it. A launch that completes after the timeout is closed in the background.
func (s *Supervisor) Launch(ctx context.Context, req LaunchRequest) (*Browser, error) {
	if !s.cfg.Engines[req.Engine] {
		return nil, fmt.Errorf("%w: %s is disabled by configuration", ErrEngineUnavailable, req.Engine)
	}

	opts := req.Options
	headless := req.Headless
	opts.Headless = &headless
	if s.cfg.NoSandbox {
		sandbox := false
		opts.ChromiumSandbox = &sandbox
	}

	timeout := opts.LaunchTimeout(s.cfg.LaunchTimeout)
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan launchResult, 1)
	go func() {
		rb, err := s.driver.Launch(lctx, req.Engine, opts)
		done <- launchResult{rb, err}
	}()

	start := time.Now()
	var r launchResult
	select {
	case r = <-done:
	case <-lctx.Done():
		s.wg.Add(1)
		go s.discardLate(done)
		return nil, s.launchError(ctx, req.Engine, timeout)
	}

	if r.err != nil {
		if lctx.Err() != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, s.launchError(ctx, req.Engine, timeout)
		}
		s.log.Warn("browser launch failed", zap.String("engine", string(req.Engine)), zap.Error(r.err))
		return nil, r.err
	}

	b := &Browser{
		ID:        newID("browser"),
		Engine:    req.Engine,
		Headless:  headless,
		Options:   opts,
		StartedAt: time.Now(),
		remote:    r.remote,
	}
	s.log.Info("browser launched",
		zap.String("browser", b.ID),
		zap.String("engine", string(b.Engine)),
		zap.Bool("headless", headless),
		zap.Duration("took", time.Since(start)),
	)

	s.wg.Add(1)
	go s.watch(b, req.OnCrash)
	return b, nil
}

func (s *Supervisor) launchError(ctx context.Context, engine Engine, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("launch %s: %w", engine, ctx.Err())
	}
	s.log.Warn("browser launch timed out", zap.String("engine", string(engine)), zap.Duration("timeout", timeout))
	return fmt.Errorf("%w: %s did not start within %s", ErrLaunchTimeout, engine, timeout)
}

// discardLate closes a browser whose launch finished after its caller gave up.
func (s *Supervisor) discardLate(done <-chan launchResult) {
	defer s.wg.Done()
	r := <-done
	if r.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	defer cancel()
	if err := r.remote.Close(ctx); err != nil {
		s.log.Warn("closing late browser failed", zap.Error(err))
	}
}

func (s *Supervisor) watch(b *Browser, onCrash func(*Browser)) {
	defer s.wg.Done()

	<-b.remote.Disconnected()
	if b.closing.Load() {
		return
	}
	b.crashed.Store(true)
	b.markClosed()
	s.log.Warn("browser process exited unexpectedly",
		zap.String("browser", b.ID),
		zap.String("engine", string(b.Engine)),
	)
	if onCrash != nil {
		onCrash(b)
	}
}

// Close stops the browser process. Closing a closed or crashed browser is a no-op.
func (s *Supervisor) Close(ctx context.Context, b *Browser) error {
	if b == nil || !b.closing.CompareAndSwap(false, true) {
		return nil
	}
	b.markClosed()
	if b.crashed.Load() {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CloseTimeout)
	defer cancel()
	if err := b.remote.Close(cctx); err != nil {
		s.log.Warn("browser close failed", zap.String("browser", b.ID), zap.Error(err))
		return fmt.Errorf("close browser %s: %w", b.ID, err)
	}
	s.log.Info("browser closed", zap.String("browser", b.ID))
	return nil
}

// Wait blocks until every watcher goroutine has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
