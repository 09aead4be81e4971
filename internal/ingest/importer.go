// Package ingest implements the chunked import and export engines and the
// job runners that drive them. Records flow in from the parsers, get
// shaped by a field mapping, and land in the spatial store in bounded
// batches; exports walk the store page by page and serialize each page to
// one output file.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"geobatch/internal/mapping"
	"geobatch/internal/metrics"
	"geobatch/internal/parser"
	"geobatch/internal/store"
)

// DefaultChunkSize bounds how many records one transactional batch holds.
const DefaultChunkSize = 500

// FeatureWriter is the slice of the spatial store the importer needs.
type FeatureWriter interface {
	InsertFeatures(ctx context.Context, collection string, feats []store.Feature) (int, error)
}

// RowError records one skipped row. Row numbers are 1-based data row
// positions within the source file.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult summarizes one file's import, including throughput metrics
// for the upload response.
type ImportResult struct {
	Imported      int        `json:"imported"`
	Failed        int        `json:"failed"`
	Errors        []RowError `json:"errors,omitempty"`
	Warnings      []string   `json:"warnings,omitempty"`
	RowsPerSecond float64    `json:"rowsPerSecond"`
	AvgRowMillis  float64    `json:"avgRowMillis"`
}

// Importer writes parsed, mapped records into the spatial store in
// bounded batches.
type Importer struct {
	writer    FeatureWriter
	chunkSize int
}

// NewImporter creates an importer with the given batch bound.
func NewImporter(writer FeatureWriter, chunkSize int) *Importer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Importer{writer: writer, chunkSize: chunkSize}
}

// chunkFunc is invoked after every completed chunk with that chunk's
// processed/succeeded/failed counts. Used for job progress reporting.
type chunkFunc func(processed, succeeded, failed int)

// importRecords writes all records through bounded batches. A row that
// cannot be shaped into a feature is recorded and skipped; the batch
// continues. The context is checked at every chunk boundary.
func (im *Importer) importRecords(ctx context.Context, collection string, records []parser.Record, mappings []mapping.FieldMapping, onChunk chunkFunc) (*ImportResult, error) {
	res := &ImportResult{}
	start := time.Now()

	for base := 0; base < len(records); base += im.chunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := base + im.chunkSize
		if end > len(records) {
			end = len(records)
		}

		feats := make([]store.Feature, 0, end-base)
		var chunkFailed int
		for i, rec := range records[base:end] {
			feat, err := BuildFeature(rec, mappings)
			if err != nil {
				chunkFailed++
				res.Errors = append(res.Errors, RowError{
					Row:     base + i + 1,
					Message: err.Error(),
				})
				continue
			}
			feats = append(feats, feat)
		}

		if len(feats) > 0 {
			if _, err := im.writer.InsertFeatures(ctx, collection, feats); err != nil {
				return res, fmt.Errorf("insert chunk at row %d: %w", base+1, err)
			}
		}

		res.Imported += len(feats)
		res.Failed += chunkFailed
		metrics.RowsImported.Add(float64(len(feats)))
		metrics.RowsFailed.Add(float64(chunkFailed))

		if onChunk != nil {
			onChunk(end-base, len(feats), chunkFailed)
		}
	}

	elapsed := time.Since(start)
	if total := res.Imported + res.Failed; total > 0 && elapsed > 0 {
		res.RowsPerSecond = float64(total) / elapsed.Seconds()
		res.AvgRowMillis = float64(elapsed.Milliseconds()) / float64(total)
	}
	return res, nil
}

// BuildFeature shapes one canonical record into a storable feature.
// Geometry comes from a geometry-typed mapping (parser-decoded geometry,
// WKT, or GeoJSON) when present, otherwise from the latitude/longitude
// coordinate pair. Remaining mapped fields become typed properties.
func BuildFeature(rec parser.Record, mappings []mapping.FieldMapping) (store.Feature, error) {
	geom, err := buildGeometry(rec, mappings)
	if err != nil {
		return store.Feature{}, err
	}

	props := make(map[string]any)
	for _, m := range mappings {
		switch {
		case m.Type == parser.TypeGeometry,
			m.TargetField == mapping.TargetLatitude,
			m.TargetField == mapping.TargetLongitude:
			continue
		}

		raw, ok := rec.Fields[m.SourceField]
		if !ok || raw == nil {
			continue
		}

		v, err := coerceValue(raw, m.Type)
		if err != nil {
			return store.Feature{}, fmt.Errorf("field %q: %w", m.SourceField, err)
		}
		if v != nil {
			props[m.TargetField] = v
		}
	}

	return store.Feature{Properties: props, Geometry: geom}, nil
}

// buildGeometry resolves the record's geometry per the mapping.
func buildGeometry(rec parser.Record, mappings []mapping.FieldMapping) (orb.Geometry, error) {
	for _, m := range mappings {
		if m.Type != parser.TypeGeometry && m.TargetField != mapping.TargetGeometry {
			continue
		}

		// Parser-decoded geometry wins over any textual column.
		if rec.Geometry != nil {
			return rec.Geometry, nil
		}

		raw, ok := rec.Fields[m.SourceField]
		if !ok || raw == nil {
			return nil, fmt.Errorf("geometry field %q is empty", m.SourceField)
		}
		return parseGeometryValue(raw)
	}

	if rec.Geometry != nil {
		return rec.Geometry, nil
	}

	lat, err := coordinateValue(rec, mappings, mapping.TargetLatitude)
	if err != nil {
		return nil, err
	}
	lng, err := coordinateValue(rec, mappings, mapping.TargetLongitude)
	if err != nil {
		return nil, err
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("coordinates out of range: %f, %f", lat, lng)
	}

	return orb.Point{lng, lat}, nil
}

// parseGeometryValue decodes a textual geometry column: GeoJSON when it
// looks like a JSON object, WKT otherwise.
func parseGeometryValue(raw any) (orb.Geometry, error) {
	switch v := raw.(type) {
	case orb.Geometry:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, fmt.Errorf("geometry value is empty")
		}
		if strings.HasPrefix(s, "{") {
			g, err := geojson.UnmarshalGeometry([]byte(s))
			if err != nil {
				return nil, fmt.Errorf("invalid GeoJSON geometry: %w", err)
			}
			return g.Geometry(), nil
		}
		g, err := wkt.Unmarshal(s)
		if err != nil {
			return nil, fmt.Errorf("invalid WKT geometry: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported geometry value type %T", raw)
	}
}

// coordinateValue extracts one named coordinate from the record.
func coordinateValue(rec parser.Record, mappings []mapping.FieldMapping, target string) (float64, error) {
	for _, m := range mappings {
		if m.TargetField != target {
			continue
		}
		raw, ok := rec.Fields[m.SourceField]
		if !ok || raw == nil {
			return 0, fmt.Errorf("%s field %q is empty", target, m.SourceField)
		}
		f, err := toFloat(raw)
		if err != nil {
			return 0, fmt.Errorf("%s field %q: %w", target, m.SourceField, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("no %s mapping", target)
}

// coerceValue converts a raw parsed value to the mapped type.
func coerceValue(raw any, typ parser.FieldType) (any, error) {
	switch typ {
	case parser.TypeNumber, parser.TypeCoordinate:
		f, err := toFloat(raw)
		if err != nil {
			return nil, err
		}
		return f, nil

	case parser.TypeDate:
		if t, ok := raw.(time.Time); ok {
			return t.Format(time.RFC3339), nil
		}
		s := strings.TrimSpace(fmt.Sprint(raw))
		if s == "" {
			return nil, nil
		}
		t, ok := parser.ParseDate(s)
		if !ok {
			return nil, fmt.Errorf("invalid date %q", s)
		}
		return t.Format(time.RFC3339), nil

	default:
		s := strings.TrimSpace(fmt.Sprint(raw))
		if s == "" {
			return nil, nil
		}
		return s, nil
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if s == "" {
			return 0, fmt.Errorf("empty numeric value")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported numeric value type %T", raw)
	}
}
