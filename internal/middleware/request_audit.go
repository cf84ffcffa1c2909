package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestRecorder receives one entry per served request. Implementations
// must not block the caller.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, entry models.RequestLog)
}

var unauditedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// AuditRequests records every request except health and metrics scrapes.
// The endpoint is the chi route pattern so path parameters group together.
func AuditRequests(recorder RequestRecorder, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unauditedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(pkghttp.WithActorSlot(r.Context()))

			next.ServeHTTP(wrapped, r)

			endpoint := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}

			recorder.RecordRequest(r.Context(), models.RequestLog{
				PrincipalID: pkghttp.ActorFrom(r.Context()),
				ClientID:    pkghttp.ExtractClientIP(r, ipConfig),
				Method:      r.Method,
				Endpoint:    endpoint,
				Path:        r.URL.Path,
				StatusCode:  status,
				DurationMs:  time.Since(start).Milliseconds(),
			})
		})
	}
}
