package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/mcp"
	"github.com/neboloop/browserd/internal/svc"
)

// MCPCmd serves the browser tool over stdio, owning its own sessions.
func MCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP browser tool on stdin/stdout",
		Long: `Run an MCP server on stdio with a single "browser" tool. Browsers are
launched in this process; no running server is needed. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *ServerConfig
			// stdout carries the protocol.
			c.Logging.OutputPaths = []string{"stderr"}
			if err := logging.Setup(c.Logging); err != nil {
				return err
			}
			defer logging.Sync()

			mcp.Version = Version
			svcCtx, err := svc.NewServiceContext(c, svc.WithVersion(Version))
			if err != nil {
				return err
			}
			defer svcCtx.Close(context.Background())

			ctx, cancel := signalContext()
			defer cancel()
			return mcp.RunStdio(ctx, svcCtx.Dispatcher)
		},
	}
}
