package cli

import (
	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile    string
	sessionKey string
	addr       string
	token      string
	verbose    bool
	jsonOutput bool
)

// BaseConfig is the embedded config with environment overrides applied (set by main).
var BaseConfig *config.Config

// ServerConfig is BaseConfig with the config file applied. It is resolved
// before any subcommand runs.
var ServerConfig *config.Config

// Version is the build version reported by /health and the MCP server.
var Version = "dev"

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	BaseConfig = c
	ServerConfig = c

	rootCmd := &cobra.Command{
		Use:   "browserd",
		Short: "browserd - browser session server",
		Long: `browserd keeps Playwright browsers, contexts and pages alive per session
and exposes them over gRPC, HTTP, WebSocket and MCP.

Run 'browserd serve' to start the server, then drive it with the keyword
commands (open-browser, new-page, switch-page, ...) or any gRPC client.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return resolveConfig()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data_dir>/browserd.yaml)")
	rootCmd.PersistentFlags().StringVarP(&sessionKey, "session", "s", "default", "session to run commands against")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "gRPC address of a running server (default: server.host:server.grpcPort)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default: $BROWSERD_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	// Add commands
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(InitCmd())
	rootCmd.AddCommand(CallCmd())
	for _, kw := range KeywordCmds() {
		rootCmd.AddCommand(kw)
	}
	rootCmd.AddCommand(JournalCmd())
	rootCmd.AddCommand(DoctorCmd())
	rootCmd.AddCommand(InstallCmd())
	rootCmd.AddCommand(MCPCmd())
	rootCmd.AddCommand(TokenCmd())

	return rootCmd
}
