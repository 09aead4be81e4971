package web

// handlers_jobs.go exposes the job table: status polling, listing by
// lifecycle state, and cancellation.

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"geobatch/internal/job"
	"geobatch/internal/logging"
)

// urlParam reads a chi URL parameter.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// handleJobStatus returns a snapshot of one job.
//
// GET /api/jobs/{jobID}
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.manager.GetJobStatus(urlParam(r, "jobID"))
	if err != nil {
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// handleListJobs lists jobs in one lifecycle state.
//
// GET /api/jobs?status=processing
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := job.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = job.StatusProcessing
	}
	if !job.ValidStatus(status) {
		respondError(w, r, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	jobs := s.manager.ListJobs(status)
	if jobs == nil {
		jobs = []job.Job{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleCancelJob cancels a job. Pending jobs cancel immediately; a
// processing job stops at its next chunk boundary and keeps the work of
// every chunk already committed.
//
// POST /api/jobs/{jobID}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "jobID")
	err := s.manager.CancelJob(id)
	switch {
	case errors.Is(err, job.ErrUnknownJob):
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, job.ErrNotCancellable):
		respondError(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	logging.FromContext(r.Context()).Info("job cancellation requested", "job_id", id)

	j, err := s.manager.GetJobStatus(id)
	if err != nil {
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, j)
}
