package journal

import (
	"net/http"

	"github.com/neboloop/browserd/internal/db"
	"github.com/neboloop/browserd/internal/httputil"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/middleware"
	"github.com/neboloop/browserd/internal/svc"
	"github.com/neboloop/browserd/internal/types"
)

const maxLimit = 1000

// ListJournalHandler returns journaled commands, newest first.
func ListJournalHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svcCtx.DB == nil {
			httputil.NotFound(w, "journal is disabled")
			return
		}

		session := httputil.QueryString(r, "session", "")
		if claims, ok := middleware.ClaimsFrom(ctx); ok && claims.Session != "" {
			if session != "" && session != claims.Session {
				httputil.Forbidden(w, "token is not valid for this session")
				return
			}
			session = claims.Session
		}

		limit := httputil.QueryInt(r, "limit", db.DefaultListLimit)
		if limit > maxLimit {
			limit = maxLimit
		}

		entries, err := svcCtx.DB.ListCommands(ctx, db.ListCommandsParams{
			SessionID: session,
			Limit:     limit,
		})
		if err != nil {
			logging.Errorf("Failed to list journal: %v", err)
			httputil.InternalError(w, "failed to list journal")
			return
		}
		if entries == nil {
			entries = []db.Command{}
		}
		httputil.OkJSON(w, &types.ListJournalResponse{Entries: entries})
	}
}
