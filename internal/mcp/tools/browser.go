package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/mcp/mcpctx"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// BrowserInput defines input for the browser MCP tool.
type BrowserInput struct {
	Command string `json:"command" jsonschema:"Command name, e.g. OpenBrowser, NewPage, SwitchActivePage, GoTo, GetSessionState."`
	Session string `json:"session,omitempty" jsonschema:"Session id. Defaults to the token's session or 'default'."`

	Payload map[string]any `json:"payload,omitempty" jsonschema:"Command parameters: url, browser, headless, rawOptions, index."`
}

// BrowserOutput is the structured body of a successful call.
type BrowserOutput struct {
	Session string           `json:"session"`
	Log     string           `json:"log"`
	Result  *dispatch.Result `json:"result,omitempty"`
}

func commandNames() string {
	names := make([]string, len(dispatch.Commands))
	for i, c := range dispatch.Commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// RegisterBrowserTool registers the browser MCP tool.
func RegisterBrowserTool(server *mcp.Server, toolCtx *mcpctx.ToolContext) {
	mcp.AddTool(server, &mcp.Tool{
		Name:  "browser",
		Title: "Browser Sessions",
		Description: `Drive a browser session: one browser per session, holding contexts and their pages.

Commands: ` + commandNames() + `

Payload fields:
- url: OpenBrowser, NewPage, GoTo
- browser: chromium, firefox or webkit (OpenBrowser, NewBrowser)
- headless: OpenBrowser
- rawOptions: JSON string of launch options (NewBrowser) or context options (NewContext)
- index: 0-based page index in the current context (SwitchActivePage)

Commands that need a browser, context or page create one when missing.

Examples:
  browser(command: "NewPage", payload: {url: "https://example.com"})
  browser(command: "AutoActivatePages")
  browser(command: "SwitchActivePage", payload: {index: 0})
  browser(command: "GetSessionState", session: "robot-1")`,
	}, browserHandler(toolCtx))
}

func browserHandler(toolCtx *mcpctx.ToolContext) func(ctx context.Context, req *mcp.CallToolRequest, input BrowserInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input BrowserInput) (*mcp.CallToolResult, any, error) {
		logging.Debugf("[MCP browser] Handler called - Command: %q, Session: %q, Request: %s", input.Command, input.Session, toolCtx.RequestID())

		if input.Command == "" {
			return errorResult(mcpctx.NewValidationError("command is required, must be one of: "+commandNames(), "command")), nil, nil
		}

		session, err := toolCtx.Session(input.Session)
		if err != nil {
			return errorResult(err), nil, nil
		}

		var payload json.RawMessage
		if len(input.Payload) > 0 {
			payload, err = json.Marshal(input.Payload)
			if err != nil {
				return errorResult(mcpctx.NewValidationError(err.Error(), "payload")), nil, nil
			}
		}

		resp, err := toolCtx.Dispatch(ctx, session, input.Command, payload)
		if err != nil {
			return errorResult(mcpctx.FromError(err)), nil, nil
		}
		return jsonResult(BrowserOutput{Session: session, Log: resp.Log, Result: resp.Result})
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

func errorResult(err error) *mcp.CallToolResult {
	text := err.Error()
	if te, ok := err.(*mcpctx.ToolError); ok {
		if b, merr := json.Marshal(te); merr == nil {
			text = string(b)
		}
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
