// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Middleware MiddlewareConfig

	// Timeout bounds each request. Zero means no limit.
	Timeout time.Duration

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// DefaultRouterConfig returns the defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Middleware: DefaultMiddlewareConfig(),
		Timeout:    30 * time.Second,
	}
}

// NewRouter builds the HTTP handler for h.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg.Middleware))
	if cfg.Timeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.Timeout))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.Middleware))
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics)

		r.Post("/events", h.Events)
		r.Get("/stats", h.Stats)
		r.Get("/anomalies", h.Anomalies)
		r.Get("/anomalies/stream", h.Stream)

		r.Get("/detectors", h.Detectors)
		r.Put("/detectors/{kind}", h.SetDetector)

		r.Route("/exit-nodes", func(r chi.Router) {
			r.Post("/refresh", h.RefreshExitNodes)
			r.Get("/status", h.ExitNodeStatus)
		})
	})

	return r
}
