package httpapi

import (
	"bufio"
	"errors"
	"expvar"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack keeps WebSocket upgrades working behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// LoggingMiddleware assigns a request id when the caller sent none, counts
// requests and logs one line per request.
func LoggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := requestIDFromRequest(r)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)
		requestsTotal.Add(1)
		if writer.status >= http.StatusBadRequest {
			requestsErrors.Add(1)
		}

		evt := logger.Info()
		if writer.status >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", duration).
			Str("clinic_id", clinicIDFromRequest(r)).
			Str("request_id", requestID).
			Msg("request")
	})
}

// clinicIDFromRequest reads the clinic from /api/clinics/{id}/... paths or
// the X-Clinic-ID header.
func clinicIDFromRequest(r *http.Request) string {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/clinics/"); ok {
		if id, _, _ := strings.Cut(rest, "/"); id != "" {
			return id
		}
	}
	if id := strings.TrimSpace(r.Header.Get("X-Clinic-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("clinic_id"))
}
