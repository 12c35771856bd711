package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-webthing/internal/auth"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.hostValidationMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Operational endpoints, outside authentication.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Use(s.authMiddleware)

		if s.registry.Single() {
			r.Group(s.thingRoutes)
			return
		}

		r.With(s.requirePermission(auth.PermThingRead)).Get("/things", s.handleListThings)
		r.Route("/things/{thing}", s.thingRoutes)
	})

	return r
}

// thingRoutes mounts the resources of one Thing. In multiple mode they sit
// under /things/{thing}; in single mode at the root.
func (s *Server) thingRoutes(r chi.Router) {
	read := s.requirePermission(auth.PermThingRead)
	write := s.requirePermission(auth.PermPropertyWrite)
	request := s.requirePermission(auth.PermActionRequest)
	cancel := s.requirePermission(auth.PermActionCancel)

	r.Use(s.thingMiddleware)

	r.With(read).Get("/", s.handleThing)

	r.With(read).Get("/properties", s.handleGetProperties)
	r.With(read).Get("/properties/{property}", s.handleGetProperty)
	r.With(write).Put("/properties/{property}", s.handleSetProperty)

	r.With(read).Get("/actions", s.handleListActions)
	r.With(request).Post("/actions", s.handleRequestAction)
	r.With(read).Get("/actions/{action}", s.handleListActions)
	r.With(request).Post("/actions/{action}", s.handleRequestAction)
	r.With(read).Get("/actions/{action}/{actionID}", s.handleGetAction)
	r.With(request).Put("/actions/{action}/{actionID}", s.handleUpdateAction)
	r.With(cancel).Delete("/actions/{action}/{actionID}", s.handleCancelAction)

	r.With(read).Get("/events", s.handleListEvents)
	r.With(read).Get("/events/{event}", s.handleListEvents)

	r.With(s.requirePermission(auth.PermHistoryRead)).Get("/history", s.handleHistory)
}

// handleHealth reports the server status and the status of each
// registered component. Any failing component answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	var uptime int64
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": uptime,
		"things":         len(s.registry.Things()),
		"websockets":     s.hub.ClientCount(),
		"components":     components,
	})
}

// urlParam returns a chi URL parameter.
func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
