package mcp

import (
	"context"

	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/mcp/mcpctx"
	"github.com/neboloop/browserd/internal/mcp/tools"
	"github.com/neboloop/browserd/internal/middleware"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
var Version = "1.0.0"

// NewServer creates an MCP server with the browser tool registered. claims
// may be nil.
func NewServer(d *dispatch.Dispatcher, claims *middleware.Claims, userAgent string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "browserd",
		Version: Version,
	}, nil)

	toolCtx := mcpctx.NewToolContext(d, claims, uuid.New().String(), userAgent)
	tools.RegisterBrowserTool(server, toolCtx)
	return server
}

// RunStdio serves the tool over stdin/stdout until the client disconnects or
// ctx is cancelled.
func RunStdio(ctx context.Context, d *dispatch.Dispatcher) error {
	return NewServer(d, nil, "stdio").Run(ctx, &mcp.StdioTransport{})
}
