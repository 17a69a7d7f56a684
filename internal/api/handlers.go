package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/overlayforge/orchestrator/internal/config"
	"github.com/overlayforge/orchestrator/internal/events"
	"github.com/overlayforge/orchestrator/internal/job"
	"github.com/overlayforge/orchestrator/internal/preview"
)

var startTime = time.Now()

type Handlers struct {
	cfg *config.Config
	mgr *preview.Manager
	bus *events.Bus
}

func NewHandlers(cfg *config.Config, mgr *preview.Manager, bus *events.Bus) *Handlers {
	return &Handlers{cfg: cfg, mgr: mgr, bus: bus}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"version":        "0.1.0",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	counts := h.mgr.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"jobs": map[string]int{
			"pending":   counts[job.StatusPending],
			"running":   counts[job.StatusRunning],
			"paused":    counts[job.StatusPaused],
			"completed": counts[job.StatusCompleted],
			"failed":    counts[job.StatusFailed],
			"cancelled": counts[job.StatusCancelled],
		},
	})
}

type StartPreviewRequest struct {
	Config  map[string]any `json:"config"`
	Targets []job.Target   `json:"targets"`
}

func (h *Handlers) StartPreview(w http.ResponseWriter, r *http.Request) {
	var req StartPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := h.mgr.StartPreview(r.Context(), req.Config, req.Targets)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"jobId": jobID})
}

func (h *Handlers) PauseJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.mgr.Pause(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job paused"})
}

func (h *Handlers) ResumeJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.mgr.Resume(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job resumed"})
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.mgr.Cancel(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job cancelled"})
}

func (h *Handlers) ForceDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.mgr.ForceDelete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	j, err := h.mgr.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	status := r.URL.Query().Get("status")

	if limit <= 0 {
		limit = h.cfg.DefaultPageSize
	}
	if page <= 0 {
		page = 1
	}

	jobs, total := h.mgr.List(limit, (page-1)*limit, status)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *Handlers) ActiveJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.mgr.Active()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j == nil {
		writeJSON(w, http.StatusOK, map[string]any{"hasActiveJob": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hasActiveJob": true, "job": j})
}

func (h *Handlers) Artifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	list, err := h.mgr.Artifacts(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "targets": list})
}

func (h *Handlers) ArtifactFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	name := chi.URLParam(r, "*")

	path, err := h.mgr.ArtifactFile(id, name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	http.ServeFile(w, r, path)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, preview.ErrActiveJobExists):
		return http.StatusConflict
	case errors.Is(err, job.ErrMultipleActive):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
