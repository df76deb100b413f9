package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ExtractClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (for proxied requests), then X-Real-IP, finally RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first hop is the original client
		if before, _, ok := strings.Cut(xff, ","); ok {
			return before
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach Flush on the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// AccessLog logs one line per request with the client IP, status and duration. The logger
// is also attached to the request context for handlers further down.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			reqLogger := logger.With().
				Str("client_ip", ExtractClientIP(r)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			next.ServeHTTP(rec, r.WithContext(reqLogger.WithContext(r.Context())))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			evt := reqLogger.Debug()
			if rec.status >= http.StatusInternalServerError {
				evt = reqLogger.Warn()
			}
			evt.Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(started)).
				Msg("request")
		})
	}
}
