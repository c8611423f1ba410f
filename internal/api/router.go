package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.deps.HTTPObserver != nil {
		r.Use(s.metricsMiddleware)
	}
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	if s.deps.DeviceWS != nil && s.deps.DevicePath != "" {
		r.Handle(s.deps.DevicePath, s.deps.DeviceWS)
	}
	if s.deps.OperatorWS != nil && s.deps.OperatorPath != "" {
		r.Handle(s.deps.OperatorPath, s.deps.OperatorWS)
	}
	if s.deps.Metrics != nil && s.deps.MetricsPath != "" {
		r.Handle(s.deps.MetricsPath, s.deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices/{pk}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/connection", s.handleDeviceConnection)
				r.Post("/control", s.handleControl)
			})

			r.Route("/commands", func(r chi.Router) {
				r.Get("/", s.handleListCommands)
				r.Get("/{id}", s.handleGetCommand)
			})
		})
	})

	return r
}
