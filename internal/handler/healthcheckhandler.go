package handler

import (
	"net/http"
	"time"

	"github.com/neboloop/browserd/internal/httputil"
	"github.com/neboloop/browserd/internal/svc"
	"github.com/neboloop/browserd/internal/types"
)

// HealthCheckHandler reports liveness plus live browser counts.
func HealthCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := svcCtx.Manager.Stats()
		httputil.OkJSON(w, &types.HealthResponse{
			Status:    "healthy",
			Version:   svcCtx.Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Driver:    svcCtx.Manager.Config().Driver,
			Sessions:  st.Sessions,
			Browsers:  st.Browsers,
			Pages:     st.Pages,
			Journal:   svcCtx.DB != nil,
		})
	}
}
