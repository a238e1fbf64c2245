// Package httputil holds the small request and response helpers shared by
// the HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/neboloop/browserd/internal/browser"
)

// StatusClientClosedRequest is used when the caller went away mid-command.
const StatusClientClosedRequest = 499

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

var kindStatus = map[browser.Kind]int{
	browser.KindMalformedPayload:  http.StatusBadRequest,
	browser.KindUnknownCommand:    http.StatusNotFound,
	browser.KindIndexOutOfRange:   http.StatusConflict,
	browser.KindNoBrowserOpen:     http.StatusConflict,
	browser.KindEngineUnavailable: http.StatusServiceUnavailable,
	browser.KindLaunchTimeout:     http.StatusGatewayTimeout,
	browser.KindProcessCrashed:    http.StatusBadGateway,
	browser.KindNavigation:        http.StatusBadGateway,
	browser.KindSessionLimit:      http.StatusTooManyRequests,
	browser.KindSessionClosed:     http.StatusGone,
	browser.KindCanceled:          StatusClientClosedRequest,
}

// StatusForKind maps an error kind to an HTTP status, 500 if unmapped.
func StatusForKind(kind browser.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// PathVar returns a chi URL parameter.
func PathVar(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// QueryInt returns the named query parameter, or def when it is absent or
// not an integer.
func QueryInt(r *http.Request, name string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return n
	}
	return def
}

func QueryString(r *http.Request, name, def string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return def
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func OkJSON(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// Error writes err under the status of its browser.Kind.
func Error(w http.ResponseWriter, err error) {
	kind := browser.KindOf(err)
	code := StatusForKind(kind)
	WriteJSON(w, code, ErrorResponse{Code: code, Kind: string(kind), Message: err.Error()})
}

// ErrorWithCode writes message under code. An empty message becomes the
// lowercased status text.
func ErrorWithCode(w http.ResponseWriter, code int, message string) {
	if message == "" {
		message = statusText(code)
	}
	WriteJSON(w, code, ErrorResponse{Code: code, Message: message})
}

func statusText(code int) string {
	switch code {
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case StatusClientClosedRequest:
		return "client closed request"
	}
	return strings.ToLower(http.StatusText(code))
}

func Unauthorized(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusUnauthorized, message)
}

func Forbidden(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusForbidden, message)
}

func NotFound(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusNotFound, message)
}

func TooManyRequests(w http.ResponseWriter) {
	ErrorWithCode(w, http.StatusTooManyRequests, "")
}

func InternalError(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusInternalServerError, message)
}
