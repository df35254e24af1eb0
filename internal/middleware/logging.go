package middleware

import (
	"log"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder captures the status and size a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// LoggingMiddleware writes one line per request tagged with the request id
// set by chi's RequestID middleware. Passing health and metrics polls are
// not logged. logger may be nil.
func LoggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	logf := log.Printf
	if logger != nil {
		logf = logger.Printf
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < http.StatusBadRequest && (isHealthPath(r.URL.Path) || r.URL.Path == "/metrics") {
				return
			}
			logf("request_id=%s method=%s path=%s status=%d duration_ms=%d bytes=%d ip=%s",
				chimw.GetReqID(r.Context()), r.Method, r.URL.Path, rec.status,
				time.Since(start).Milliseconds(), rec.bytes, clientIP(r))
		})
	}
}

// clientIP is the remote host without its port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
