package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/shadows", func(r chi.Router) {
			r.Get("/", s.handleListShadows)
			r.Post("/", s.handleCreateShadow)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetShadow)
				r.Delete("/", s.handleDeleteShadow)
				r.Patch("/reported", s.handleUpdateReported)
				r.Patch("/desired", s.handleUpdateDesired)
				r.Delete("/desired", s.handleClearDesired)
				r.Get("/delta", s.handleGetDelta)
				r.Get("/ws", s.handleWebSocket)
			})
		})
	})

	return r
}
