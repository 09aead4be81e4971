package ingest

// runner_import.go is the import job driver. Each file in the job is
// processed independently: a parse or import failure for one file is
// recorded against that file and the job moves on to the next, so a
// corrupt upload never sinks its siblings.

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"geobatch/internal/job"
	"geobatch/internal/mapping"
	"geobatch/internal/parser"
)

// ImportFile describes one uploaded file staged on disk.
type ImportFile struct {
	Path   string        `json:"path"`
	Name   string        `json:"name"`
	Format parser.Format `json:"format"`
	Sheet  string        `json:"sheet,omitempty"`
}

// ImportRequest is the import job payload.
type ImportRequest struct {
	Collection string                 `json:"collection"`
	Files      []ImportFile           `json:"files"`
	Mappings   []mapping.FieldMapping `json:"mappings"`

	// KeepSourceFiles disables deleting staged files after a successful
	// import.
	KeepSourceFiles bool `json:"keepSourceFiles,omitempty"`
}

// FileResult records the outcome for one file of an import job.
type FileResult struct {
	File    string        `json:"file"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Import  *ImportResult `json:"result,omitempty"`
}

// CacheInvalidator drops cached query results after a write. The spatial
// query service implements it.
type CacheInvalidator interface {
	InvalidateCache()
}

// ImportRunner executes import jobs.
type ImportRunner struct {
	importer *Importer
	cache    CacheInvalidator
}

// NewImportRunner creates the import job driver. The invalidator may be
// nil in tests.
func NewImportRunner(importer *Importer, cache CacheInvalidator) *ImportRunner {
	return &ImportRunner{importer: importer, cache: cache}
}

// Run implements job.Runner.
func (r *ImportRunner) Run(ctx context.Context, j job.Job, tracker *job.Tracker) error {
	req, ok := j.Metadata.(*ImportRequest)
	if !ok {
		return fmt.Errorf("import job %s has no request payload", j.ID)
	}

	if vr := mapping.Validate(req.Mappings); !vr.Valid {
		return fmt.Errorf("invalid field mapping: %w", vr.Err())
	}

	// Parse everything up front so TotalItems covers the whole job and
	// progress percentages stay meaningful across files.
	parsed := make([]*parser.Result, len(req.Files))
	results := make([]FileResult, len(req.Files))
	total := 0
	for i, f := range req.Files {
		res, err := parser.ParseFile(f.Path, parser.Options{
			IncludeGeometry: true,
			SheetName:       f.Sheet,
		})
		if err != nil {
			results[i] = FileResult{File: f.Name, Error: err.Error()}
			tracker.Warn(fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		parsed[i] = res
		results[i] = FileResult{File: f.Name}
		total += len(res.Records)
		tracker.Warn(prefixWarnings(f.Name, res.Warnings)...)
	}
	tracker.SetTotal(total)

	for i, f := range req.Files {
		if parsed[i] == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		imp, err := r.importer.importRecords(ctx, req.Collection, parsed[i].Records, req.Mappings,
			func(processed, succeeded, failed int) {
				tracker.Advance(processed, succeeded, failed)
			})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// File-scoped failure; the rest of the batch continues.
			results[i].Error = err.Error()
			results[i].Import = imp
			slog.Warn("import file failed", "job_id", j.ID, "file", f.Name, "error", err)
			continue
		}

		results[i].Success = true
		results[i].Import = imp

		if !req.KeepSourceFiles {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to delete source file", "file", f.Path, "error", err)
			}
		}
	}

	tracker.SetResults(results)
	if r.cache != nil {
		r.cache.InvalidateCache()
	}
	return nil
}

func prefixWarnings(file string, warnings []string) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = file + ": " + w
	}
	return out
}
