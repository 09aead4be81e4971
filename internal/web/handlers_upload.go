package web

// handlers_upload.go accepts multipart uploads, stages the files on disk,
// and submits import or validation jobs. The upload response carries only
// the job ID; callers poll the job endpoints for progress and results.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"geobatch/internal/ingest"
	"geobatch/internal/job"
	"geobatch/internal/logging"
	"geobatch/internal/mapping"
	"geobatch/internal/parser"
)

// suggestSampleRows bounds how much of a file the mapping suggester parses.
const suggestSampleRows = 50

// handleUpload stages the uploaded files and creates an import job.
//
// POST /api/upload/{collection}
// multipart form: one or more "files" parts plus a "mappings" JSON field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	collection := urlParam(r, "collection")
	if collection == "" {
		respondError(w, r, http.StatusBadRequest, "collection is required")
		return
	}

	files, mappings, ok := s.readUploadForm(w, r)
	if !ok {
		return
	}

	jobID, err := s.manager.CreateJob(job.TypeImport, &ingest.ImportRequest{
		Collection: collection,
		Files:      files,
		Mappings:   mappings,
	})
	if err != nil {
		cleanupStaged(files)
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	logging.FromContext(r.Context()).Info("import job created",
		"job_id", jobID, "collection", collection, "files", len(files))
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// handleValidate stages the uploaded files and creates a validation job:
// the full import pipeline runs without writing anything.
//
// POST /api/validate
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	files, mappings, ok := s.readUploadForm(w, r)
	if !ok {
		return
	}

	jobID, err := s.manager.CreateJob(job.TypeValidation, &ingest.ValidationRequest{
		Files:    files,
		Mappings: mappings,
	})
	if err != nil {
		cleanupStaged(files)
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// SuggestResponse is the mapping suggestion payload.
type SuggestResponse struct {
	Headers  []string                    `json:"headers"`
	Types    map[string]parser.FieldType `json:"types"`
	Mappings []mapping.FieldMapping      `json:"suggestedMappings"`
	Preview  []map[string]any            `json:"preview,omitempty"`
}

// handleSuggestMapping parses a sample of one uploaded file and returns
// detected field types plus a suggested mapping.
//
// POST /api/mapping/suggest
func (s *Server) handleSuggestMapping(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	format, err := parser.DetectFormat(header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		respondError(w, r, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	res, err := parser.Parse(header.Filename, data, format, parser.Options{MaxRows: suggestSampleRows})
	if err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	preview := make([]map[string]any, 0, 5)
	for i := 0; i < len(res.Records) && i < 5; i++ {
		preview = append(preview, res.Records[i].Fields)
	}

	respondJSON(w, http.StatusOK, SuggestResponse{
		Headers:  res.Headers,
		Types:    res.Types,
		Mappings: mapping.Suggest(res.Headers, res.Types),
		Preview:  preview,
	})
}

// readUploadForm stages every uploaded file under the upload directory and
// decodes the mappings field. On failure it responds and returns ok=false.
func (s *Server) readUploadForm(w http.ResponseWriter, r *http.Request) ([]ingest.ImportFile, []mapping.FieldMapping, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return nil, nil, false
	}

	var mappings []mapping.FieldMapping
	if raw := r.FormValue("mappings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mappings); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid mappings JSON: "+err.Error())
			return nil, nil, false
		}
	}
	if vr := mapping.Validate(mappings); !vr.Valid {
		respondValidationError(w, r, http.StatusUnprocessableEntity, "invalid field mapping", vr.Errors)
		return nil, nil, false
	}

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		respondError(w, r, http.StatusBadRequest, "at least one file is required")
		return nil, nil, false
	}

	files := make([]ingest.ImportFile, 0, len(parts))
	for _, part := range parts {
		format, err := parser.DetectFormat(part.Filename, part.Header.Get("Content-Type"))
		if err != nil {
			cleanupStaged(files)
			respondError(w, r, http.StatusUnsupportedMediaType,
				fmt.Sprintf("%s: %v", part.Filename, err))
			return nil, nil, false
		}

		path, err := s.stageFile(part)
		if err != nil {
			cleanupStaged(files)
			respondError(w, r, http.StatusInternalServerError, "stage upload: "+err.Error())
			return nil, nil, false
		}

		files = append(files, ingest.ImportFile{
			Path:   path,
			Name:   part.Filename,
			Format: format,
			Sheet:  r.FormValue("sheet"),
		})
	}

	return files, mappings, true
}

// stageFile copies one multipart part to the upload directory under a
// unique name.
func (s *Server) stageFile(part *multipart.FileHeader) (string, error) {
	src, err := part.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(s.cfg.Upload.Dir, 0o755); err != nil {
		return "", err
	}

	name := uuid.New().String() + "-" + filepath.Base(part.Filename)
	path := filepath.Join(s.cfg.Upload.Dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// cleanupStaged removes staged files after a failed submission.
func cleanupStaged(files []ingest.ImportFile) {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove staged file", "file", f.Path, "error", err)
		}
	}
}
