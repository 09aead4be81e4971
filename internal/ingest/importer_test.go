package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"

	"geobatch/internal/mapping"
	"geobatch/internal/parser"
	"geobatch/internal/store"
)

// fakeWriter collects inserted features in memory.
type fakeWriter struct {
	mu       sync.Mutex
	inserted map[string][]storeFeature
	failWith error
}

type storeFeature struct {
	props map[string]any
	geom  orb.Geometry
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{inserted: make(map[string][]storeFeature)}
}

func (f *fakeWriter) InsertFeatures(ctx context.Context, collection string, feats []store.Feature) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	for _, feat := range feats {
		f.inserted[collection] = append(f.inserted[collection], storeFeature{
			props: feat.Properties,
			geom:  feat.Geometry,
		})
	}
	return len(feats), nil
}

func (f *fakeWriter) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted[collection])
}

func latLngMappings() []mapping.FieldMapping {
	return []mapping.FieldMapping{
		{SourceField: "lat", TargetField: mapping.TargetLatitude, Type: parser.TypeCoordinate},
		{SourceField: "lng", TargetField: mapping.TargetLongitude, Type: parser.TypeCoordinate},
		{SourceField: "name", TargetField: "name", Type: parser.TypeString},
	}
}

func TestImportRecords_PerRowFailure(t *testing.T) {
	// Three rows, chunk size two: the bad third row lands in the second
	// chunk, fails alone, and the first chunk's rows are unaffected.
	csvData := []byte("name,lat,lng\nAlpha,59.91,10.75\nBravo,60.39,5.32\nCharlie,,4.48\n")
	res, err := parser.ParseCSV(csvData, parser.Options{})
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}

	writer := newFakeWriter()
	im := NewImporter(writer, 2)

	var processed int
	imp, err := im.importRecords(context.Background(), "stations", res.Records, latLngMappings(),
		func(p, ok, failed int) { processed += p })
	if err != nil {
		t.Fatalf("importRecords() error = %v", err)
	}

	if imp.Imported != 2 {
		t.Errorf("Imported = %d, want 2", imp.Imported)
	}
	if imp.Failed != 1 {
		t.Errorf("Failed = %d, want 1", imp.Failed)
	}
	if processed != 3 {
		t.Errorf("chunk callback processed = %d, want 3", processed)
	}
	if writer.count("stations") != 2 {
		t.Errorf("features written = %d, want 2", writer.count("stations"))
	}

	if len(imp.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", imp.Errors)
	}
	if imp.Errors[0].Row != 3 {
		t.Errorf("Errors[0].Row = %d, want 3", imp.Errors[0].Row)
	}
}

func TestImportRecords_CancelledBetweenChunks(t *testing.T) {
	records := make([]parser.Record, 4)
	for i := range records {
		records[i] = parser.Record{Fields: map[string]any{"lat": "59.0", "lng": "10.0", "name": "x"}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	writer := newFakeWriter()
	im := NewImporter(writer, 2)

	_, err := im.importRecords(ctx, "stations", records, latLngMappings(),
		func(p, ok, failed int) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("importRecords() error = %v, want context.Canceled", err)
	}

	// The chunk committed before cancellation stays committed.
	if writer.count("stations") != 2 {
		t.Errorf("features written = %d, want 2 (first chunk only)", writer.count("stations"))
	}
}

func TestImportRecords_InsertFailureAborts(t *testing.T) {
	writer := newFakeWriter()
	writer.failWith = errors.New("connection reset")
	im := NewImporter(writer, 10)

	records := []parser.Record{
		{Fields: map[string]any{"lat": "59.0", "lng": "10.0", "name": "x"}},
	}
	_, err := im.importRecords(context.Background(), "stations", records, latLngMappings(), nil)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("importRecords() error = %v, want insert failure", err)
	}
}

func TestBuildFeature_CoordinatePair(t *testing.T) {
	rec := parser.Record{Fields: map[string]any{"lat": "59.91", "lng": "10.75", "name": "Alpha"}}

	feat, err := BuildFeature(rec, latLngMappings())
	if err != nil {
		t.Fatalf("BuildFeature() error = %v", err)
	}

	p, ok := feat.Geometry.(orb.Point)
	if !ok {
		t.Fatalf("Geometry = %T, want orb.Point", feat.Geometry)
	}
	if p.Lon() != 10.75 || p.Lat() != 59.91 {
		t.Errorf("point = %v, want [10.75, 59.91]", p)
	}

	// Coordinate columns do not leak into properties
	if _, ok := feat.Properties[mapping.TargetLatitude]; ok {
		t.Error("latitude mapped into properties")
	}
	if feat.Properties["name"] != "Alpha" {
		t.Errorf("name property = %v, want Alpha", feat.Properties["name"])
	}
}

func TestBuildFeature_OutOfRangeCoordinates(t *testing.T) {
	rec := parser.Record{Fields: map[string]any{"lat": "99.0", "lng": "10.0", "name": "bad"}}
	if _, err := BuildFeature(rec, latLngMappings()); err == nil {
		t.Fatal("BuildFeature() with lat=99 should fail")
	}
}

func TestBuildFeature_GeometryColumn(t *testing.T) {
	geomMappings := []mapping.FieldMapping{
		{SourceField: "wkt", TargetField: mapping.TargetGeometry, Type: parser.TypeGeometry},
	}

	tests := []struct {
		name  string
		value string
		lon   float64
		lat   float64
	}{
		{"wkt", "POINT(10.75 59.91)", 10.75, 59.91},
		{"geojson", `{"type":"Point","coordinates":[5.32,60.39]}`, 5.32, 60.39},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := parser.Record{Fields: map[string]any{"wkt": tt.value}}
			feat, err := BuildFeature(rec, geomMappings)
			if err != nil {
				t.Fatalf("BuildFeature() error = %v", err)
			}
			p, ok := feat.Geometry.(orb.Point)
			if !ok {
				t.Fatalf("Geometry = %T, want orb.Point", feat.Geometry)
			}
			if p.Lon() != tt.lon || p.Lat() != tt.lat {
				t.Errorf("point = %v, want [%v, %v]", p, tt.lon, tt.lat)
			}
		})
	}
}

func TestBuildFeature_DecodedGeometryWins(t *testing.T) {
	// A parser-decoded geometry takes precedence over the textual column.
	rec := parser.Record{
		Fields:   map[string]any{"wkt": "POINT(0 0)"},
		Geometry: orb.Point{10.75, 59.91},
	}
	feat, err := BuildFeature(rec, []mapping.FieldMapping{
		{SourceField: "wkt", TargetField: mapping.TargetGeometry, Type: parser.TypeGeometry},
	})
	if err != nil {
		t.Fatalf("BuildFeature() error = %v", err)
	}
	if p := feat.Geometry.(orb.Point); p.Lon() != 10.75 {
		t.Errorf("geometry = %v, want decoded [10.75, 59.91]", p)
	}
}

func TestCoerceValue(t *testing.T) {
	if v, err := coerceValue("1,234.5", parser.TypeNumber); err != nil || v != 1234.5 {
		t.Errorf("coerceValue(1,234.5, number) = %v, %v", v, err)
	}
	if v, err := coerceValue("2024-03-01", parser.TypeDate); err != nil || v != "2024-03-01T00:00:00Z" {
		t.Errorf("coerceValue(2024-03-01, date) = %v, %v", v, err)
	}
	if _, err := coerceValue("soon", parser.TypeDate); err == nil {
		t.Error("coerceValue(soon, date) should fail")
	}
	if v, err := coerceValue("  hi  ", parser.TypeString); err != nil || v != "hi" {
		t.Errorf("coerceValue(hi, string) = %v, %v", v, err)
	}
	if v, err := coerceValue("", parser.TypeString); err != nil || v != nil {
		t.Errorf("coerceValue(empty, string) = %v, %v, want nil", v, err)
	}
}
