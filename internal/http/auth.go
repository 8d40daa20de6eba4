package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

// contextKey is used for storing values in request context
type contextKey string

const requestIDKey contextKey = "requestID"

// checkSecret rejects webhook calls whose secret header does not match the
// configured secret. With no secret configured every call passes.
func (s *Server) checkSecret(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" {
			got := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
				L_warn("http: webhook secret mismatch",
					"ip", getClientIP(r),
					"present", got != "",
					"request", RequestID(r.Context()))
				http.Error(w, "invalid secret token", http.StatusForbidden)
				return
			}
		}
		handler(w, r)
	}
}

// withRequestID tags the request with a short id for log correlation.
func (s *Server) withRequestID(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
		handler(w, r)
	}
}

// RequestID returns the id assigned by withRequestID, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// getClientIP extracts the client IP from the request, for logging only.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// logRequest wraps an HTTP handler to log and count requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		s.metrics.ObserveHTTP(r.URL.Path, lw.statusCode)
		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}
