package middleware

import (
	"net/http"
)

// Options configures the middleware stack.
type Options struct {
	// RateLimiter is nil when rate limiting is disabled.
	RateLimiter  *RateLimiter
	MaxBodyBytes int64
	CORSOrigin   string
	// CORSPrefix restricts CORS headers to matching paths; empty means all.
	CORSPrefix string
}

// Chain wraps the handler with the full middleware stack.
// Order: CORS → RequestID → Logging → Recover → Metrics → RateLimit → MaxBytes → mux
func Chain(handler http.Handler, opts Options) http.Handler {
	h := handler
	h = MaxBytes(opts.MaxBodyBytes)(h)
	h = RateLimit(opts.RateLimiter)(h)
	h = Metrics(h)
	h = Recover(h)
	h = Logging(h)
	h = RequestID(h)
	h = CORS(opts.CORSOrigin, opts.CORSPrefix)(h)
	return h
}
