// ABOUTME: HTTP middleware for trace ids, response timing and request logging
// ABOUTME: Applied around every route together with rate limiting and metrics

package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/ratelimit"
)

// ResponseTimeHeader carries the handling time in milliseconds.
const ResponseTimeHeader = "X-Response-Time"

type traceKey struct{}

// TraceID returns the trace id assigned to the request carried by ctx.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// middleware wraps h in the full chain, outermost first.
func (s *Server) middleware(h http.Handler) http.Handler {
	if s.limiter != nil {
		h = ratelimit.Middleware(s.limiter)(h)
	}
	h = s.metrics.Instrument(h)
	h = requestLogger(s.logger)(h)
	return traceMiddleware(h)
}

// traceMiddleware keeps a well-formed incoming X-Trace-ID or assigns a new one.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(apierr.TraceHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(apierr.TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, id)))
	})
}

// requestLogger logs every request and stamps X-Response-Time before the
// header is flushed.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, start: time.Now(), status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(rec.start),
				"client_ip", ratelimit.ClientIP(r),
				"trace_id", TraceID(r.Context()),
			)
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	start  time.Time
	status int
	wrote  bool
}

func (w *responseRecorder) WriteHeader(code int) {
	if !w.wrote {
		w.wrote = true
		w.status = code
		w.Header().Set(ResponseTimeHeader, elapsedMillis(time.Since(w.start)))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func elapsedMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}
