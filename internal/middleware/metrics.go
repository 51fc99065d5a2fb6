package middleware

import (
	"net/http"
	"strconv"

	"github.com/mlorentedev/icdcoder/internal/metrics"
)

var knownRoutes = map[string]bool{
	"/api/health":           true,
	"/api/models":           true,
	"/api/process-feedback": true,
	"/metrics":              true,
}

// Metrics counts requests by method, route, and status, and tracks how many
// are in flight. Unknown paths share the "other" label.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.InFlight.Inc()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		status := "aborted"
		defer func() {
			metrics.InFlight.Dec()
			metrics.RequestsTotal.WithLabelValues(r.Method, routeLabel(r.URL.Path), status).Inc()
		}()
		next.ServeHTTP(sw, r)
		status = strconv.Itoa(sw.status)
	})
}

func routeLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}
