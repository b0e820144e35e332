package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// responseWriter captures the status code for metrics. Hijack and Flush
// are forwarded so WebSocket upgrades and streaming responses still work
// through the middleware chain.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestMiddleware returns chi-compatible middleware that records request
// count and error count (status >= 400) in the given Metrics.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			m.IncRequests()
			if wrap.status >= 400 {
				m.IncErrors()
			}
		})
	}
}
