package logger

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID assigns every request an id, reusing a well-formed incoming
// X-Request-ID header, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// HTTPMiddleware logs the start and end of every request with its outcome.
func HTTPMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	log = OrDefault(log).With("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			logEntry := log.With(
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", truncateString(r.URL.Path, 128),
				"remote_addr", r.RemoteAddr,
			)
			logEntry.DebugContext(r.Context(), "Processing request")

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logEntry.InfoContext(r.Context(), "Finished processing request",
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(startTime))
		})
	}
}
