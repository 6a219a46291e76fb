package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/model_provisioner/internal/logctx"
)

// responseRecorder captures the status and body size of a metrics response.
type responseRecorder struct {
	http.ResponseWriter

	status int
	bytes  int
	sent   bool
}

func (rw *responseRecorder) WriteHeader(code int) {
	if rw.sent {
		return
	}

	rw.status = code
	rw.sent = true

	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	if !rw.sent {
		rw.WriteHeader(http.StatusOK)
	}

	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n

	return n, err
}

// HTTPLogging logs every request served by the metrics server with the
// matched route, the response size and a running scrape count. Scrapes are
// frequent during a long download, so successful ones go to DEBUG.
func HTTPLogging(next http.Handler) http.Handler {
	var served atomic.Int64

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		attrs := []any{
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"bytes", rec.bytes,
			"scrape", served.Add(1),
			"duration_ms", time.Since(start).Milliseconds(),
		}

		logger := logctx.LoggerFromContext(ctx)

		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "metrics request failed", attrs...)
		case rec.status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "metrics request rejected", attrs...)
		default:
			logger.DebugContext(ctx, "metrics request served", attrs...)
		}
	})
}
