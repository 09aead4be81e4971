package parser

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		want     Format
		wantErr  bool
	}{
		{"stations.csv", "", FormatCSV, false},
		{"stations.CSV", "", FormatCSV, false},
		{"data.txt", "", FormatCSV, false},
		{"book.xlsx", "", FormatSpreadsheet, false},
		{"cities.geojson", "", FormatGeoJSON, false},
		{"cities.json", "", FormatGeoJSON, false},
		{"parcels.zip", "", FormatShapefile, false},
		{"noext", "text/csv", FormatCSV, false},
		{"noext", "application/geo+json", FormatGeoJSON, false},
		{"noext", "application/zip", FormatShapefile, false},
		{"image.png", "image/png", "", true},
	}

	for _, tt := range tests {
		got, err := DetectFormat(tt.name, tt.mimeType)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("DetectFormat(%q, %q) error = %v, want ErrUnsupportedFormat", tt.name, tt.mimeType, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("DetectFormat(%q, %q) error = %v", tt.name, tt.mimeType, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DetectFormat(%q, %q) = %q, want %q", tt.name, tt.mimeType, got, tt.want)
		}
	}
}

func TestParseCSV(t *testing.T) {
	data := []byte("\n\nname,lat,lng,temp\nAlpha,59.91,10.75,3.2\nBravo,60.39,5.32,\nCharlie,63.43\n")

	res, err := ParseCSV(data, Options{})
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}

	wantHeaders := []string{"name", "lat", "lng", "temp"}
	if len(res.Headers) != len(wantHeaders) {
		t.Fatalf("Headers = %v, want %v", res.Headers, wantHeaders)
	}
	for i, h := range wantHeaders {
		if res.Headers[i] != h {
			t.Errorf("Headers[%d] = %q, want %q", i, res.Headers[i], h)
		}
	}

	if res.TotalRows != 3 {
		t.Errorf("TotalRows = %d, want 3", res.TotalRows)
	}
	if len(res.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(res.Records))
	}

	if got := res.Records[0].Fields["name"]; got != "Alpha" {
		t.Errorf("Records[0].name = %v, want Alpha", got)
	}

	// Short row padded with nils
	if got := res.Records[2].Fields["lng"]; got != nil {
		t.Errorf("Records[2].lng = %v, want nil", got)
	}
}

func TestParseCSV_MaxRows(t *testing.T) {
	data := []byte("name,lat,lng\nA,1,2\nB,3,4\nC,5,6\n")

	res, err := ParseCSV(data, Options{MaxRows: 2})
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(res.Records) != 2 {
		t.Errorf("len(Records) = %d, want 2", len(res.Records))
	}
	if res.TotalRows != 3 {
		t.Errorf("TotalRows = %d, want 3", res.TotalRows)
	}
}

func TestParseCSV_Empty(t *testing.T) {
	if _, err := ParseCSV([]byte("\n  ,  \n\n"), Options{}); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("ParseCSV(blank) error = %v, want ErrEmptyFile", err)
	}
	if _, err := ParseCSV([]byte("a,b\n"), Options{}); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("ParseCSV(header only) error = %v, want ErrEmptyFile", err)
	}
}

func TestParseCSV_UnnamedColumns(t *testing.T) {
	res, err := ParseCSV([]byte("name,,lat\nA,x,1\n"), Options{})
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if res.Headers[1] != "column_2" {
		t.Errorf("Headers[1] = %q, want column_2", res.Headers[1])
	}
}

func TestDetectTypes_Priority(t *testing.T) {
	headers := []string{"lat", "count", "when", "note"}
	records := []Record{
		{Fields: map[string]any{"lat": "59.91", "count": "12", "when": "2024-03-01", "note": "ok"}},
		{Fields: map[string]any{"lat": "60.39", "count": "7", "when": "2024-03-02", "note": "15"}},
	}

	types := DetectTypes(headers, records)

	// Coordinate-named numeric column wins over plain number
	if types["lat"] != TypeCoordinate {
		t.Errorf("lat type = %q, want coordinate", types["lat"])
	}
	if types["count"] != TypeNumber {
		t.Errorf("count type = %q, want number", types["count"])
	}
	if types["when"] != TypeDate {
		t.Errorf("when type = %q, want date", types["when"])
	}
	// Mixed string/number samples fall back to string
	if types["note"] != TypeString {
		t.Errorf("note type = %q, want string", types["note"])
	}
}

func TestDetectTypes_CoordinateNeedsHeader(t *testing.T) {
	// Numeric values without a coordinate-like header classify as number.
	types := DetectTypes([]string{"value"}, []Record{
		{Fields: map[string]any{"value": "59.91"}},
	})
	if types["value"] != TypeNumber {
		t.Errorf("value type = %q, want number", types["value"])
	}
}

func TestParseDate(t *testing.T) {
	valid := []string{"2024-03-01", "2024-03-01 12:30:00", "2024/03/02", "01/02/2024", "Jan 2, 2024"}
	for _, s := range valid {
		if _, ok := ParseDate(s); !ok {
			t.Errorf("ParseDate(%q) = false, want true", s)
		}
	}

	invalid := []string{"", "not a date", "12345", "3.14"}
	for _, s := range invalid {
		if _, ok := ParseDate(s); ok {
			t.Errorf("ParseDate(%q) = true, want false", s)
		}
	}
}

func TestParseGeoJSON(t *testing.T) {
	data := []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"name": "Alpha", "temp": 3.2},
			 "geometry": {"type": "Point", "coordinates": [10.75, 59.91]}},
			{"type": "Feature", "properties": {"name": "Bravo", "depth": 12},
			 "geometry": {"type": "Point", "coordinates": [5.32, 60.39]}},
			{"type": "Feature", "properties": {"name": "NoGeom"}, "geometry": null}
		]
	}`)

	res, err := ParseGeoJSON(data, Options{IncludeGeometry: true})
	if err != nil {
		t.Fatalf("ParseGeoJSON() error = %v", err)
	}

	if res.TotalRows != 3 {
		t.Errorf("TotalRows = %d, want 3", res.TotalRows)
	}
	if len(res.Headers) != 3 {
		t.Errorf("Headers = %v, want 3 entries (union of property keys)", res.Headers)
	}
	if res.GeometryType != "Point" {
		t.Errorf("GeometryType = %q, want Point", res.GeometryType)
	}
	if res.CRS != "EPSG:4326" {
		t.Errorf("CRS = %q, want EPSG:4326", res.CRS)
	}

	// First feature carries its decoded geometry
	p, ok := res.Records[0].Geometry.(orb.Point)
	if !ok {
		t.Fatalf("Records[0].Geometry = %T, want orb.Point", res.Records[0].Geometry)
	}
	if p.Lon() != 10.75 || p.Lat() != 59.91 {
		t.Errorf("Records[0].Geometry = %v, want [10.75, 59.91]", p)
	}

	// Property a feature did not carry is backfilled as nil
	if v, ok := res.Records[0].Fields["depth"]; !ok || v != nil {
		t.Errorf("Records[0].depth = %v (present=%v), want nil backfill", v, ok)
	}

	// Dataset bounds union both points
	if res.Bounds == nil {
		t.Fatal("Bounds = nil, want union of feature bounds")
	}
	if res.Bounds.Min.Lon() != 5.32 || res.Bounds.Max.Lon() != 10.75 {
		t.Errorf("Bounds = %v, want lon span [5.32, 10.75]", res.Bounds)
	}

	// Missing-geometry warning
	if len(res.Warnings) == 0 {
		t.Error("Warnings empty, want missing-geometry warning")
	}
}

func TestParseGeoJSON_Invalid(t *testing.T) {
	if _, err := ParseGeoJSON([]byte("{not json"), Options{}); !errors.Is(err, ErrInvalidGeoJSON) {
		t.Errorf("error = %v, want ErrInvalidGeoJSON", err)
	}
}

func TestParse_WrapsFileError(t *testing.T) {
	_, err := Parse("broken.geojson", []byte("{"), FormatGeoJSON, Options{})
	var fe *FileError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %T, want *FileError", err)
	}
	if fe.File != "broken.geojson" {
		t.Errorf("FileError.File = %q, want broken.geojson", fe.File)
	}
}
