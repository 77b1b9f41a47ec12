package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsHandler())
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	if s.metrics.Enabled && s.gatherer != nil {
		path := s.metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/snapshot", s.handleGetSnapshot)
				r.Get("/entities", s.handleListEntities)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/fan", s.handleFan)
				r.Put("/leds", s.handleLEDs)
				r.Post("/filters/reset", s.handleFilterReset)
			})
		})

		r.Get("/audit", s.handleListAudit)
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// healthDevice is one device entry in the health response.
type healthDevice struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	State     string `json:"state"`
}

// handleHealth reports "ok" when every device is available and
// "degraded" otherwise. It always answers 200 so probes see the process.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	devices := make([]healthDevice, 0, len(s.order))
	for _, id := range s.order {
		dev := s.devices[id]
		available := dev.Poller.Available()
		if !available {
			status = "degraded"
		}
		devices = append(devices, healthDevice{
			ID:        id,
			Available: available,
			State:     dev.Poller.Status().State.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"devices": devices,
	})
}
