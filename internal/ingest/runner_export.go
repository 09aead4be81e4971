package ingest

// runner_export.go is the export job driver. A collection is walked page
// by page and every page becomes one output file under the job's own
// directory, so exports of any size stay bounded in memory and a cancelled
// job leaves a coherent prefix of the output behind.

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"geobatch/internal/job"
	"geobatch/internal/store"
)

// FeatureReader is the slice of the spatial store the exporter needs.
type FeatureReader interface {
	Count(ctx context.Context, collection string, bound *orb.Bound) (int, error)
	Page(ctx context.Context, collection string, bound *orb.Bound, offset, limit int) ([]store.Feature, error)
}

// ExportRequest is the export job payload.
type ExportRequest struct {
	Collection string       `json:"collection"`
	Format     ExportFormat `json:"format"`

	// Bound optionally restricts the export to a bounding box.
	Bound *orb.Bound `json:"bound,omitempty"`

	// Compress gzips text-format output files. Shapefile parts are
	// already zip archives and ignore it.
	Compress bool `json:"compress,omitempty"`
}

// ExportFile describes one produced output file.
// Path is the staging location on disk; clients download through the
// export files endpoint, so it never serializes.
type ExportFile struct {
	Name     string `json:"name"`
	Path     string `json:"-"`
	Size     int64  `json:"size"`
	Features int    `json:"features"`
}

// ExportRunner executes export jobs.
type ExportRunner struct {
	reader    FeatureReader
	exportDir string
	chunkSize int
}

// NewExportRunner creates the export job driver. Output lands under
// exportDir/<jobID>/.
func NewExportRunner(reader FeatureReader, exportDir string, chunkSize int) *ExportRunner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ExportRunner{reader: reader, exportDir: exportDir, chunkSize: chunkSize}
}

// Run implements job.Runner.
func (r *ExportRunner) Run(ctx context.Context, j job.Job, tracker *job.Tracker) error {
	req, ok := j.Metadata.(*ExportRequest)
	if !ok {
		return fmt.Errorf("export job %s has no request payload", j.ID)
	}
	if !ValidExportFormat(req.Format) {
		return fmt.Errorf("unsupported export format %q", req.Format)
	}

	total, err := r.reader.Count(ctx, req.Collection, req.Bound)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("collection %q has no features to export", req.Collection)
	}
	tracker.SetTotal(total)

	jobDir := filepath.Join(r.exportDir, j.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	var files []ExportFile
	part := 0
	for offset := 0; offset < total; offset += r.chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		feats, err := r.reader.Page(ctx, req.Collection, req.Bound, offset, r.chunkSize)
		if err != nil {
			return fmt.Errorf("read page at offset %d: %w", offset, err)
		}
		if len(feats) == 0 {
			break
		}

		part++
		file, err := r.writePart(jobDir, part, req, feats)
		if err != nil {
			return err
		}
		files = append(files, file)

		tracker.Advance(len(feats), len(feats), 0)
	}

	tracker.SetResults(files)
	return nil
}

// writePart serializes one page to disk and returns its descriptor.
func (r *ExportRunner) writePart(jobDir string, part int, req *ExportRequest, feats []store.Feature) (ExportFile, error) {
	name := fmt.Sprintf("%s-part-%05d%s", req.Collection, part, req.Format.Extension())
	path := filepath.Join(jobDir, name)

	if req.Format == ExportShapefile {
		if err := writeShapefilePart(path, feats); err != nil {
			return ExportFile{}, fmt.Errorf("write %s: %w", name, err)
		}
	} else {
		data, err := serialize(req.Format, feats)
		if err != nil {
			return ExportFile{}, fmt.Errorf("serialize %s: %w", name, err)
		}
		if req.Compress {
			name += ".gz"
			path += ".gz"
			if data, err = gzipBytes(data); err != nil {
				return ExportFile{}, fmt.Errorf("compress %s: %w", name, err)
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return ExportFile{}, fmt.Errorf("write %s: %w", name, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return ExportFile{}, err
	}
	return ExportFile{Name: name, Path: path, Size: info.Size(), Features: len(feats)}, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
