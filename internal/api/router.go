package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealthCheck)

		r.With(middleware.Timeout(60 * time.Second)).Group(func(r chi.Router) {
			r.Post("/crawl/start", s.handleCrawlStart)
			r.Post("/crawl/stop", s.handleCrawlStop)
			r.Get("/crawl/status", s.handleCrawlStatus)
			r.Get("/crawl/stats", s.handleCrawlStats)

			r.Post("/resolution/start", s.handleResolutionStart)
			r.Get("/resolution/status", s.handleResolutionStatus)

			r.Post("/sources/{id}/cookies", s.handleSourceCookies)
			r.Get("/listings/{id}/price-history", s.handlePriceHistory)
		})

		// The event stream outlives any sane request timeout.
		r.Get("/resolution/events", s.handleResolutionEvents)
	})

	return r
}
