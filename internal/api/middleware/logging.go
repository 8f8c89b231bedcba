package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/tenantrouter/internal/scope"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fields := &logFields{}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logFieldsKey, fields)))

		attrs := []any{
			"method", r.Method,
			"host", r.Host,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		slog.Info("request", append(attrs, fields.snapshot()...)...)
	})
}

// TenantLogField records the bound tenant on the request log line. It must run inside
// the scope middleware.
func TenantLogField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b, ok := scope.FromContext(r.Context()); ok {
			AddLogField(r.Context(), "tenant", b.Identifier())
		}
		next.ServeHTTP(w, r)
	})
}
