package session

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/httputil"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/middleware"
	"github.com/neboloop/browserd/internal/svc"
	"github.com/neboloop/browserd/internal/types"
)

// MaxPayloadBytes bounds a command body.
const MaxPayloadBytes = 1 << 20

// CommandHandler dispatches the command named in the path with the request
// body as its payload.
func CommandHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := httputil.PathVar(r, "sessionID")
		if !middleware.SessionAllowed(r.Context(), sessionID) {
			httputil.Forbidden(w, "token is not valid for this session")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.ErrorWithCode(w, http.StatusRequestEntityTooLarge, "payload too large")
				return
			}
			httputil.ErrorWithCode(w, http.StatusBadRequest, "failed to read payload")
			return
		}

		resp, err := svcCtx.Dispatcher.Dispatch(r.Context(), sessionID, dispatch.Request{
			Command: httputil.PathVar(r, "command"),
			Payload: json.RawMessage(body),
		})
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, resp)
	}
}

// ListSessionsHandler returns the open sessions visible to the caller.
func ListSessionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := svcCtx.Manager.Sessions()
		visible := make([]browser.SessionInfo, 0, len(all))
		for _, s := range all {
			if middleware.SessionAllowed(r.Context(), s.ID) {
				visible = append(visible, s)
			}
		}
		httputil.OkJSON(w, &types.ListSessionsResponse{
			Sessions: visible,
			Stats:    svcCtx.Manager.Stats(),
		})
	}
}

// CloseSessionHandler closes a session and its browser.
func CloseSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := httputil.PathVar(r, "sessionID")
		if !middleware.SessionAllowed(r.Context(), sessionID) {
			httputil.Forbidden(w, "token is not valid for this session")
			return
		}

		_, existed := svcCtx.Manager.Lookup(sessionID)
		if err := svcCtx.Manager.CloseSession(r.Context(), sessionID); err != nil {
			logging.Errorf("Failed to close session %s: %v", sessionID, err)
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, &types.CloseSessionResponse{SessionID: sessionID, Closed: existed})
	}
}
