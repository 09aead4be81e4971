package web

// handlers_export.go submits export jobs and serves their output files.
// Files are only reachable through the job that produced them, which keeps
// path handling confined to names the exporter itself generated.

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"geobatch/internal/ingest"
	"geobatch/internal/job"
	"geobatch/internal/logging"
)

// exportRequestBody is the JSON payload for an export submission.
type exportRequestBody struct {
	Format   string      `json:"format"`
	BBox     *[4]float64 `json:"bbox,omitempty"` // [minLng, minLat, maxLng, maxLat]
	Compress bool        `json:"compress,omitempty"`
}

// handleExport creates an export job for a collection.
//
// POST /api/export/{collection}
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	collection := urlParam(r, "collection")
	if collection == "" {
		respondError(w, r, http.StatusBadRequest, "collection is required")
		return
	}

	var body exportRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	format := ingest.ExportFormat(strings.ToLower(body.Format))
	if !ingest.ValidExportFormat(format) {
		respondError(w, r, http.StatusBadRequest, "unsupported export format "+body.Format)
		return
	}

	req := &ingest.ExportRequest{
		Collection: collection,
		Format:     format,
		Compress:   body.Compress,
	}
	if body.BBox != nil {
		b := boundFromBBox(*body.BBox)
		req.Bound = &b
	}

	jobID, err := s.manager.CreateJob(job.TypeExport, req)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	logging.FromContext(r.Context()).Info("export job created",
		"job_id", jobID, "collection", collection, "format", format)
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// handleListExportFiles lists the output files of a completed export job.
//
// GET /api/export/{jobID}/files
func (s *Server) handleListExportFiles(w http.ResponseWriter, r *http.Request) {
	j, err := s.manager.GetJobStatus(urlParam(r, "jobID"))
	if err != nil {
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	}
	if j.Type != job.TypeExport {
		respondError(w, r, http.StatusBadRequest, "job is not an export")
		return
	}

	listed := make([]exportFileInfo, 0)
	if files, ok := j.Results.([]ingest.ExportFile); ok && j.Status == job.StatusCompleted {
		for _, f := range files {
			listed = append(listed, exportFileInfo{
				Name:         f.Name,
				Size:         f.Size,
				Features:     f.Features,
				DownloadPath: "/api/export/" + j.ID + "/files/" + f.Name,
			})
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": j.Status,
		"files":  listed,
	})
}

// exportFileInfo is one listing entry with its download location.
type exportFileInfo struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Features     int    `json:"features"`
	DownloadPath string `json:"downloadPath"`
}

// handleDownloadExportFile streams one output file of an export job.
//
// GET /api/export/{jobID}/files/{name}
func (s *Server) handleDownloadExportFile(w http.ResponseWriter, r *http.Request) {
	j, err := s.manager.GetJobStatus(urlParam(r, "jobID"))
	if err != nil {
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	}

	name := urlParam(r, "name")
	files, _ := j.Results.([]ingest.ExportFile)
	for _, f := range files {
		if f.Name != name {
			continue
		}
		if _, err := os.Stat(f.Path); err != nil {
			respondError(w, r, http.StatusNotFound, "export file no longer on disk")
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(f.Name))
		http.ServeFile(w, r, f.Path)
		return
	}
	respondError(w, r, http.StatusNotFound, "no such export file")
}

// handleTransform creates a transformation job copying one collection
// into another with property renames applied.
//
// POST /api/transform
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req ingest.TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SourceCollection == "" || req.TargetCollection == "" {
		respondError(w, r, http.StatusBadRequest, "sourceCollection and targetCollection are required")
		return
	}

	jobID, err := s.manager.CreateJob(job.TypeTransformation, &req)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// boundFromBBox converts a [minLng, minLat, maxLng, maxLat] array.
func boundFromBBox(b [4]float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{b[0], b[1]},
		Max: orb.Point{b[2], b[3]},
	}
}
