package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/tenantrouter/internal/api/response"
)

// Pinger is anything the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleCounter reports how many tenant handles are open.
type HandleCounter interface {
	Len() int
}

// Health checks database and cache connectivity and reports open tenant handles.
func Health(db, cache Pinger, handles HandleCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":         "ok",
			"services":       checks,
			"tenant_handles": handles.Len(),
		})
	}
}
