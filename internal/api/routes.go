package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/overlayforge/orchestrator/internal/config"
	"github.com/overlayforge/orchestrator/internal/events"
	"github.com/overlayforge/orchestrator/internal/preview"
)

func NewRouter(cfg *config.Config, mgr *preview.Manager, bus *events.Bus) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	h := NewHandlers(cfg, mgr, bus)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)

	// Preview job control
	r.Route("/preview", func(r chi.Router) {
		r.Post("/start", h.StartPreview)
		r.Post("/pause/{jobID}", h.PauseJob)
		r.Post("/resume/{jobID}", h.ResumeJob)
		r.Post("/cancel/{jobID}", h.CancelJob)
		r.Delete("/force/{jobID}", h.ForceDeleteJob)

		r.Get("/status/{jobID}", h.JobStatus)
		r.Get("/jobs", h.ListJobs)
		r.Get("/active", h.ActiveJob)

		r.Get("/events/{jobID}", h.Events)
		r.Get("/ws/{jobID}", h.EventsWS)

		r.Get("/artifacts/{jobID}", h.Artifacts)
		r.Get("/artifacts/{jobID}/*", h.ArtifactFile)
	})

	return r
}
