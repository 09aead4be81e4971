package ingest

// runner_validate.go is the validation job driver: a dry run of the import
// pipeline that shapes every row without writing anything, reporting how
// many rows would land and why the rest would not.

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"geobatch/internal/job"
	"geobatch/internal/mapping"
	"geobatch/internal/parser"
)

// maxValidationErrors caps how many row errors one file report carries.
const maxValidationErrors = 50

// ValidationRequest is the validation job payload.
type ValidationRequest struct {
	Files    []ImportFile           `json:"files"`
	Mappings []mapping.FieldMapping `json:"mappings"`
}

// ValidationFileResult reports the dry-run outcome for one file.
type ValidationFileResult struct {
	File        string     `json:"file"`
	ValidRows   int        `json:"validRows"`
	InvalidRows int        `json:"invalidRows"`
	Errors      []RowError `json:"errors,omitempty"`
	ParseError  string     `json:"parseError,omitempty"`
}

// ValidationRunner executes validation jobs.
type ValidationRunner struct{}

// NewValidationRunner creates the validation job driver.
func NewValidationRunner() *ValidationRunner {
	return &ValidationRunner{}
}

// Run implements job.Runner.
func (r *ValidationRunner) Run(ctx context.Context, j job.Job, tracker *job.Tracker) error {
	req, ok := j.Metadata.(*ValidationRequest)
	if !ok {
		return fmt.Errorf("validation job %s has no request payload", j.ID)
	}

	// Staged files exist only for the dry run.
	defer func() {
		for _, f := range req.Files {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to delete staged file", "file", f.Path, "error", err)
			}
		}
	}()

	if vr := mapping.Validate(req.Mappings); !vr.Valid {
		return fmt.Errorf("invalid field mapping: %w", vr.Err())
	}

	parsed := make([]*parser.Result, len(req.Files))
	results := make([]ValidationFileResult, len(req.Files))
	total := 0
	for i, f := range req.Files {
		results[i] = ValidationFileResult{File: f.Name}
		res, err := parser.ParseFile(f.Path, parser.Options{
			IncludeGeometry: true,
			SheetName:       f.Sheet,
		})
		if err != nil {
			results[i].ParseError = err.Error()
			tracker.Warn(fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		parsed[i] = res
		total += len(res.Records)
	}
	tracker.SetTotal(total)

	for i := range req.Files {
		res := parsed[i]
		if res == nil {
			continue
		}

		err := job.Chunks(ctx, len(res.Records), DefaultChunkSize, func(start, end int) error {
			var ok, failed int
			for row := start; row < end; row++ {
				if _, err := BuildFeature(res.Records[row], req.Mappings); err != nil {
					failed++
					if len(results[i].Errors) < maxValidationErrors {
						results[i].Errors = append(results[i].Errors, RowError{
							Row:     row + 1,
							Message: err.Error(),
						})
					}
					continue
				}
				ok++
			}
			results[i].ValidRows += ok
			results[i].InvalidRows += failed
			tracker.Advance(end-start, ok, failed)
			return nil
		})
		if err != nil {
			return err
		}
	}

	tracker.SetResults(results)
	return nil
}
