package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/config"
	"github.com/neboloop/browserd/internal/defaults"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/server"
	"github.com/neboloop/browserd/internal/svc"
)

// configPath returns the file to overlay on BaseConfig: --config when set,
// otherwise the data dir copy if it exists. An empty result means none.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	path, err := defaults.ConfigPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return path, nil
}

func resolveConfig() error {
	path, err := configPath()
	if err != nil || path == "" {
		return err
	}
	c, err := config.LoadFile(*BaseConfig, path)
	if err != nil {
		return err
	}
	ServerConfig = &c
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Printf("\n\033[33mReceived signal: %v - Shutting down...\033[0m\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func ServeCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC, HTTP, WebSocket and MCP server",
		Long: `Start browserd. The config file is watched while the server runs; the
logging level, reaper settings and session limit are applied on save.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(quiet)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress startup messages and request logs")
	return cmd
}

func runServe(quiet bool) error {
	// Ensure data directory exists with default files
	if _, err := defaults.EnsureDataDir(); err != nil {
		return fmt.Errorf("initialize data directory: %w", err)
	}
	if err := resolveConfig(); err != nil {
		return err
	}
	c := *ServerConfig

	if verbose {
		c.Logging.Level = "debug"
	}
	if err := logging.Setup(c.Logging); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logging.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	svcCtx, err := svc.NewServiceContext(c, svc.WithVersion(Version))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
		defer done()
		if err := svcCtx.Close(shutdownCtx); err != nil {
			logging.Warnf("Shutdown: %v", err)
		}
	}()

	if path, _ := configPath(); path != "" {
		go func() {
			err := config.Watch(ctx, *BaseConfig, path, func(next config.Config) {
				if err := svcCtx.Reload(next); err != nil {
					logging.Warnf("[config] Reload: %v", err)
				}
			})
			if err != nil {
				logging.Warnf("[config] Not watching %s: %v", path, err)
			}
		}()
	}

	if !quiet {
		fmt.Printf("\033[1mbrowserd %s\033[0m (driver: %s, default engine: %s)\n",
			Version, svcCtx.Manager.Config().Driver, svcCtx.Manager.Config().DefaultEngine)
	}
	return server.Run(ctx, svcCtx, server.ServerOptions{Quiet: quiet})
}
