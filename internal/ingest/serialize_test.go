package ingest

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"geobatch/internal/parser"
	"geobatch/internal/store"
)

func sampleFeatures() []store.Feature {
	return []store.Feature{
		{
			ID:         1,
			Properties: map[string]any{"name": "Alpha", "temp": 3.2},
			Geometry:   orb.Point{10.75, 59.91},
		},
		{
			ID:         2,
			Properties: map[string]any{"name": "Bravo", "depth": 12.0},
			Geometry:   orb.Point{5.32, 60.39},
		},
	}
}

func TestSerializeGeoJSON_RoundTrip(t *testing.T) {
	data, err := serializeGeoJSON(sampleFeatures())
	if err != nil {
		t.Fatalf("serializeGeoJSON() error = %v", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("output is not a FeatureCollection: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
	if fc.Features[0].Properties["name"] != "Alpha" {
		t.Errorf("feature 0 name = %v, want Alpha", fc.Features[0].Properties["name"])
	}
	p, ok := fc.Features[1].Geometry.(orb.Point)
	if !ok || p.Lon() != 5.32 {
		t.Errorf("feature 1 geometry = %v", fc.Features[1].Geometry)
	}
}

func TestSerializeCSV(t *testing.T) {
	data, err := serializeCSV(sampleFeatures())
	if err != nil {
		t.Fatalf("serializeCSV() error = %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}

	// Sorted property union plus trailing wkt column
	want := []string{"depth", "name", "temp", "wkt"}
	for i, h := range want {
		if rows[0][i] != h {
			t.Fatalf("header = %v, want %v", rows[0], want)
		}
	}

	if rows[1][1] != "Alpha" {
		t.Errorf("row 1 name = %q, want Alpha", rows[1][1])
	}
	if !strings.HasPrefix(rows[1][3], "POINT") {
		t.Errorf("row 1 wkt = %q, want POINT geometry", rows[1][3])
	}
	// Property absent on a feature renders empty
	if rows[1][0] != "" {
		t.Errorf("row 1 depth = %q, want empty", rows[1][0])
	}
}

func TestSerializeKML(t *testing.T) {
	feats := append(sampleFeatures(), store.Feature{
		ID:         3,
		Properties: map[string]any{"name": "Track"},
		Geometry:   orb.LineString{{0, 0}, {1, 1}},
	}, store.Feature{
		ID:       4,
		Geometry: orb.MultiPoint{{2, 2}}, // unsupported in KML export, skipped
	})

	data, err := serializeKML(feats)
	if err != nil {
		t.Fatalf("serializeKML() error = %v", err)
	}

	out := string(data)
	if got := strings.Count(out, "<Placemark>"); got != 3 {
		t.Errorf("placemarks = %d, want 3", got)
	}
	if !strings.Contains(out, "10.75,59.91") {
		t.Errorf("output missing point coordinates: %s", out)
	}
	if !strings.Contains(out, "<LineString>") {
		t.Error("output missing LineString placemark")
	}
}

func TestSerializeGPX_PointsOnly(t *testing.T) {
	feats := append(sampleFeatures(), store.Feature{
		ID:       3,
		Geometry: orb.LineString{{0, 0}, {1, 1}},
	})

	data, err := serializeGPX(feats)
	if err != nil {
		t.Fatalf("serializeGPX() error = %v", err)
	}

	out := string(data)
	if got := strings.Count(out, "<wpt"); got != 2 {
		t.Errorf("waypoints = %d, want 2 (non-points skipped)", got)
	}
	if !strings.Contains(out, `lat="59.91"`) {
		t.Errorf("output missing waypoint latitude: %s", out)
	}
}

func TestWriteShapefilePart_RoundTrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "stations-part-00000.zip")
	if err := writeShapefilePart(dest, sampleFeatures()); err != nil {
		t.Fatalf("writeShapefilePart() error = %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	res, err := parser.ParseShapefileArchive(data, parser.Options{IncludeGeometry: true})
	if err != nil {
		t.Fatalf("archive does not parse back: %v", err)
	}

	if res.TotalRows != 2 {
		t.Fatalf("rows = %d, want 2", res.TotalRows)
	}
	if res.Records[0].Fields["name"] != "Alpha" {
		t.Errorf("name attribute = %v, want Alpha", res.Records[0].Fields["name"])
	}
	p, ok := res.Records[0].Geometry.(orb.Point)
	if !ok || p.Lon() != 10.75 || p.Lat() != 59.91 {
		t.Errorf("geometry = %v, want [10.75, 59.91]", res.Records[0].Geometry)
	}
}

func TestExportFormat(t *testing.T) {
	valid := []ExportFormat{ExportGeoJSON, ExportCSV, ExportKML, ExportGPX, ExportShapefile}
	for _, f := range valid {
		if !ValidExportFormat(f) {
			t.Errorf("ValidExportFormat(%q) = false", f)
		}
	}
	if ValidExportFormat("pdf") {
		t.Error("ValidExportFormat(pdf) = true")
	}

	if got := ExportGeoJSON.Extension(); got != ".geojson" {
		t.Errorf("geojson extension = %q", got)
	}
	if got := ExportShapefile.Extension(); got != ".zip" {
		t.Errorf("shapefile extension = %q", got)
	}
	if got := ExportCSV.Extension(); got != ".csv" {
		t.Errorf("csv extension = %q", got)
	}
}

func TestTransformProperties(t *testing.T) {
	props := map[string]any{"old_name": "Alpha", "temp": 3.2, "internal": true}
	out := transformProperties(props,
		map[string]string{"old_name": "name"},
		map[string]bool{"internal": true})

	if out["name"] != "Alpha" {
		t.Errorf("renamed property = %v, want Alpha", out["name"])
	}
	if _, ok := out["old_name"]; ok {
		t.Error("old property name still present after rename")
	}
	if _, ok := out["internal"]; ok {
		t.Error("dropped property still present")
	}
	if out["temp"] != 3.2 {
		t.Errorf("untouched property = %v, want 3.2", out["temp"])
	}
}
