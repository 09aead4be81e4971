package ingest

// runner_transform.go is the transformation job driver: a chunked copy of
// one collection into another with property renames and drops applied per
// feature along the way.

import (
	"context"
	"fmt"

	"geobatch/internal/job"
	"geobatch/internal/store"
)

// TransformRequest is the transformation job payload.
type TransformRequest struct {
	SourceCollection string `json:"sourceCollection"`
	TargetCollection string `json:"targetCollection"`

	// RenameProperties maps old property names to new ones.
	RenameProperties map[string]string `json:"renameProperties,omitempty"`

	// DropProperties lists property names removed from every feature.
	DropProperties []string `json:"dropProperties,omitempty"`
}

// TransformResult summarizes a completed transformation.
type TransformResult struct {
	Copied int `json:"copied"`
}

// TransformRunner executes transformation jobs.
type TransformRunner struct {
	reader    FeatureReader
	writer    FeatureWriter
	cache     CacheInvalidator
	chunkSize int
}

// NewTransformRunner creates the transformation job driver.
func NewTransformRunner(reader FeatureReader, writer FeatureWriter, cache CacheInvalidator, chunkSize int) *TransformRunner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &TransformRunner{reader: reader, writer: writer, cache: cache, chunkSize: chunkSize}
}

// Run implements job.Runner.
func (r *TransformRunner) Run(ctx context.Context, j job.Job, tracker *job.Tracker) error {
	req, ok := j.Metadata.(*TransformRequest)
	if !ok {
		return fmt.Errorf("transformation job %s has no request payload", j.ID)
	}
	if req.SourceCollection == "" || req.TargetCollection == "" {
		return fmt.Errorf("transformation requires source and target collections")
	}
	if req.SourceCollection == req.TargetCollection {
		return fmt.Errorf("source and target collections must differ")
	}

	total, err := r.reader.Count(ctx, req.SourceCollection, nil)
	if err != nil {
		return err
	}
	tracker.SetTotal(total)

	drop := make(map[string]bool, len(req.DropProperties))
	for _, p := range req.DropProperties {
		drop[p] = true
	}

	copied := 0
	err = job.Chunks(ctx, total, r.chunkSize, func(start, end int) error {
		feats, err := r.reader.Page(ctx, req.SourceCollection, nil, start, end-start)
		if err != nil {
			return fmt.Errorf("read page at offset %d: %w", start, err)
		}

		out := make([]store.Feature, len(feats))
		for i, f := range feats {
			out[i] = store.Feature{
				Geometry:   f.Geometry,
				Properties: transformProperties(f.Properties, req.RenameProperties, drop),
			}
		}

		n, err := r.writer.InsertFeatures(ctx, req.TargetCollection, out)
		if err != nil {
			return fmt.Errorf("write page at offset %d: %w", start, err)
		}
		copied += n
		tracker.Advance(len(feats), n, 0)
		return nil
	})
	if err != nil {
		return err
	}

	tracker.SetResults(TransformResult{Copied: copied})
	if r.cache != nil {
		r.cache.InvalidateCache()
	}
	return nil
}

func transformProperties(props map[string]any, renames map[string]string, drop map[string]bool) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if drop[k] {
			continue
		}
		if newName, ok := renames[k]; ok {
			k = newName
		}
		out[k] = v
	}
	return out
}
