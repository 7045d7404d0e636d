package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/metrics"
)

// responseRecorder wraps http.ResponseWriter to capture the status code for
// the access log line, the same shape as the teacher's middleware/logging.go.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLog emits one structured access-log line per request, rewritten
// against zerolog from the teacher's slog-based RequestLog.
func requestLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			dur := time.Since(start)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", dur).
				Msg("http")
			metrics.HTTPRequests.WithLabelValues(routeLabel(r), itoa(rec.status)).Inc()
			metrics.HTTPDuration.WithLabelValues(routeLabel(r)).Observe(dur.Seconds())
		})
	}
}

// recoverPanic converts an unhandled panic into a generic 500 INTERNAL
// response, never leaking a Go stack trace to the client (§7).
func recoverPanic(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic")
					writeErr(w, apperr.Internal("an internal error occurred"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
