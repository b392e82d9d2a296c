package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/tollgate/pkg/server/middleware"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// Handler returns the configured HTTP handler.
//
// Routes:
//
//	GET    /health
//	GET    /ready
//	GET    /metrics
//	POST   /v1/admit
//	POST   /v1/admit/complete
//	GET    /v1/quota/{subjectID}
//	POST   /v1/quota/{subjectID}/consume/{feature}
//	POST   /v1/admin/sweep
//	DELETE /v1/admin/ratelimit/{limiter}
//	DELETE /v1/admin/ratelimit/{limiter}/{value}
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(s.logger))

	r.Get("/health", s.opts.Health.LivenessHandler())
	r.Head("/health", s.opts.Health.LivenessHandler())
	r.Get("/ready", s.opts.Health.ReadinessHandler())
	if s.opts.Metrics != nil {
		r.Handle(s.opts.MetricsPath, s.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(tracing.HTTPMiddleware)
		r.Use(middleware.TimeoutMiddleware(s.opts.Config.RequestTimeout))

		r.Post("/admit", s.handleAdmit)
		r.Post("/admit/complete", s.handleComplete)

		r.Get("/quota/{subjectID}", s.handleGetQuota)
		r.Post("/quota/{subjectID}/consume/{feature}", s.handleConsume)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", s.handleSweep)
			r.Delete("/ratelimit/{limiter}", s.handleResetRateLimit)
			r.Delete("/ratelimit/{limiter}/{value}", s.handleResetRateLimit)
		})
	})

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	return r
}
