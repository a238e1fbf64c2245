package mcp

import (
	"net/http"

	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/middleware"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewHandler returns the streamable HTTP endpoint. Authentication is done by
// the router's JWT middleware; the validated claims scope each server.
func NewHandler(d *dispatch.Dispatcher) http.Handler {
	// Stateless: browser sessions live in the manager, not in MCP sessions.
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		claims, _ := middleware.ClaimsFrom(r.Context())
		logging.Debugf("[MCP] %s %s | Accept: %s", r.Method, r.URL.Path, r.Header.Get("Accept"))
		return NewServer(d, claims, r.UserAgent())
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})
}
