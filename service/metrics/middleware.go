package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware wraps a JSON API handler and records request
// count and latency under the given route label. The wrapper does not
// forward Flush, so streaming handlers (the SSE routes) must be
// registered unwrapped.
func HTTPMetricsMiddleware(m *Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if m != nil {
				m.RecordHTTPRequest(route, r.Method, sw.status, time.Since(start).Seconds())
			}
		})
	}
}

// statusWriter captures the response status for the metrics label.
// Handlers that never call WriteHeader implicitly answer 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
