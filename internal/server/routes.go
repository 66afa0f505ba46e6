package server

import (
	"github.com/go-chi/chi/v5"
)

// SetupRoutes registers the API routes on router.
func (s *Server) SetupRoutes(router chi.Router) {
	router.Route("/api", func(r chi.Router) {
		r.Get("/map", s.getMap)
		r.Put("/map", s.putMap)
		r.Get("/export", s.getExport)
		r.Post("/validate", s.postValidate)
		r.Get("/render", s.getRender)
		r.Get("/pick", s.getPick)
		r.Get("/failures", s.getFailures)
		r.Get("/events", s.events)

		r.Route("/layers", func(r chi.Router) {
			r.Get("/", s.listLayers)
			r.Post("/", s.addLayer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getLayer)
				r.Patch("/", s.patchLayer)
				r.Delete("/", s.deleteLayer)
				r.Post("/visibility", s.setVisibility)
				r.Post("/move", s.moveLayer)
				r.Post("/sql", s.applySQL)
				r.Get("/geojson", s.getGeoJSON)
				r.Get("/colors/{prop}", s.getColors)
			})
		})

		if s.snapshots != nil {
			r.Route("/snapshots", func(r chi.Router) {
				r.Get("/", s.listSnapshots)
				r.Post("/", s.saveSnapshot)
				r.Get("/{id}", s.getSnapshot)
				r.Delete("/{id}", s.deleteSnapshot)
				r.Post("/{id}/restore", s.restoreSnapshot)
			})
		}
	})
}
