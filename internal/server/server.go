package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlorentedev/icdcoder/internal/adapter"
	"github.com/mlorentedev/icdcoder/internal/handler"
	"github.com/mlorentedev/icdcoder/internal/middleware"
	"github.com/mlorentedev/icdcoder/internal/prompt"
)

// Deps is everything SetupMux needs to build the HTTP surface.
type Deps struct {
	Adapters     map[string]adapter.LLMAdapter
	Models       []adapter.ModelInfo
	DefaultModel string
	Composer     *prompt.Composer
	Feedback     handler.FeedbackOptions

	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit     int
	MaxBodyBytes  int64
	CORSOrigin    string
	CORSAllRoutes bool
}

// SetupMux wires handlers with the full middleware chain.
func SetupMux(d Deps) http.Handler {
	if d.Composer == nil {
		d.Composer = prompt.Default()
	}
	if d.Feedback.DefaultModel == "" {
		d.Feedback.DefaultModel = d.DefaultModel
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handler.Health())
	mux.HandleFunc("/api/models", handler.Models(d.Adapters, d.Models, d.DefaultModel))
	mux.HandleFunc("/api/process-feedback", handler.ProcessFeedback(d.Adapters, d.Composer, d.Feedback))
	mux.Handle("/metrics", promhttp.Handler())

	opts := middleware.Options{
		MaxBodyBytes: d.MaxBodyBytes,
		CORSOrigin:   d.CORSOrigin,
		CORSPrefix:   "/api/",
	}
	if d.CORSAllRoutes {
		opts.CORSPrefix = ""
	}
	if d.RateLimit > 0 {
		opts.RateLimiter = middleware.NewRateLimiter(d.RateLimit, time.Minute)
	}
	return middleware.Chain(mux, opts)
}
