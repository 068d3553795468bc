package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"dyad-reasoner/internal/handlers"
	"dyad-reasoner/internal/metrics"
	"dyad-reasoner/internal/middleware"
)

// Options are the HTTP surface knobs. Zero Token and RateLimitRPS disable
// authentication and rate limiting.
type Options struct {
	Token          string
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h *handlers.ReasonHandler, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 65 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 256 * 1024
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(opts.Token))
		r.Use(middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst))
		r.Post("/reason", h.Reason)
	})

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Get("/models", h.Models)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", h.CacheStats)
		r.With(middleware.RequireToken(opts.Token)).Post("/clear", h.CacheClear)
	})

	r.Handle("/metrics", metrics.Handler())
}
