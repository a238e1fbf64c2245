package mcpctx

import (
	"context"
	"encoding/json"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/middleware"
)

// ToolContext carries context for all MCP tools.
type ToolContext struct {
	dispatcher *dispatch.Dispatcher
	requestID  string
	userAgent  string

	// claims is nil when authentication is disabled or the transport is stdio.
	claims *middleware.Claims
}

// NewToolContext creates a tool context for one MCP server instance.
func NewToolContext(d *dispatch.Dispatcher, claims *middleware.Claims, requestID, userAgent string) *ToolContext {
	return &ToolContext{
		dispatcher: d,
		claims:     claims,
		requestID:  requestID,
		userAgent:  userAgent,
	}
}

// RequestID returns the request ID for tracing.
func (t *ToolContext) RequestID() string {
	return t.requestID
}

// UserAgent returns the client's user agent string.
func (t *ToolContext) UserAgent() string {
	return t.userAgent
}

// Session resolves the session a tool call runs against. A token pinned to
// a session defaults to it and refuses any other.
func (t *ToolContext) Session(requested string) (string, error) {
	pinned := ""
	if t.claims != nil {
		pinned = t.claims.Session
	}
	switch {
	case requested == "" && pinned != "":
		return pinned, nil
	case requested == "":
		return browser.DefaultSessionID, nil
	case pinned != "" && requested != pinned:
		return "", &ToolError{Code: "forbidden", Message: "token is not valid for session " + requested, Field: "session"}
	}
	return requested, nil
}

// Dispatch runs a command through the shared dispatcher.
func (t *ToolContext) Dispatch(ctx context.Context, session, command string, payload json.RawMessage) (*dispatch.Response, error) {
	return t.dispatcher.Dispatch(ctx, session, dispatch.Request{Command: command, Payload: payload})
}

// ToolError represents a structured error for MCP tool responses.
type ToolError struct {
	Code    string `json:"code"`            // an error kind, "validation" or "forbidden"
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // For validation errors
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return e.Code + ": " + e.Message + " (field: " + e.Field + ")"
	}
	return e.Code + ": " + e.Message
}

// NewValidationError creates a validation error for a specific field.
func NewValidationError(message, field string) *ToolError {
	return &ToolError{Code: "validation", Message: message, Field: field}
}

// FromError classifies a dispatcher error by its kind.
func FromError(err error) *ToolError {
	return &ToolError{Code: string(browser.KindOf(err)), Message: err.Error()}
}
