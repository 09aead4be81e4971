package ingest

// serialize.go converts feature pages into export payloads. Text formats
// (GeoJSON, CSV, KML, GPX) serialize to a byte buffer; shapefile parts are
// written as component files and zipped, since the format is inherently
// multi-file.

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"geobatch/internal/store"
)

// ExportFormat is a supported export serialization.
type ExportFormat string

const (
	ExportGeoJSON   ExportFormat = "geojson"
	ExportCSV       ExportFormat = "csv"
	ExportKML       ExportFormat = "kml"
	ExportGPX       ExportFormat = "gpx"
	ExportShapefile ExportFormat = "shapefile"
)

// ValidExportFormat reports whether f names a supported serialization.
func ValidExportFormat(f ExportFormat) bool {
	switch f {
	case ExportGeoJSON, ExportCSV, ExportKML, ExportGPX, ExportShapefile:
		return true
	}
	return false
}

// Extension returns the output file extension for a format.
func (f ExportFormat) Extension() string {
	switch f {
	case ExportShapefile:
		return ".zip"
	case ExportGeoJSON:
		return ".geojson"
	default:
		return "." + string(f)
	}
}

// serialize renders one page of features in the requested text format.
// Shapefile pages go through writeShapefilePart instead.
func serialize(format ExportFormat, feats []store.Feature) ([]byte, error) {
	switch format {
	case ExportGeoJSON:
		return serializeGeoJSON(feats)
	case ExportCSV:
		return serializeCSV(feats)
	case ExportKML:
		return serializeKML(feats)
	case ExportGPX:
		return serializeGPX(feats)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func serializeGeoJSON(feats []store.Feature) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range feats {
		feat := geojson.NewFeature(f.Geometry)
		feat.ID = f.ID
		for k, v := range f.Properties {
			feat.Properties[k] = v
		}
		fc.Append(feat)
	}
	return fc.MarshalJSON()
}

// serializeCSV writes one row per feature: the sorted union of property
// keys plus a trailing WKT geometry column.
func serializeCSV(feats []store.Feature) ([]byte, error) {
	keys := map[string]bool{}
	for _, f := range feats {
		for k := range f.Properties {
			keys[k] = true
		}
	}
	headers := make([]string, 0, len(keys))
	for k := range keys {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(append([]string{}, headers...), "wkt")); err != nil {
		return nil, err
	}

	for _, f := range feats {
		row := make([]string, 0, len(headers)+1)
		for _, h := range headers {
			if v, ok := f.Properties[h]; ok && v != nil {
				row = append(row, fmt.Sprint(v))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, wkt.MarshalString(f.Geometry))
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

// KML document shapes, just enough of the schema for placemark export.
type kmlDoc struct {
	XMLName   xml.Name    `xml:"kml"`
	Namespace string      `xml:"xmlns,attr"`
	Document  kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name       string      `xml:"name,omitempty"`
	Point      *kmlGeom    `xml:"Point,omitempty"`
	LineString *kmlGeom    `xml:"LineString,omitempty"`
	Polygon    *kmlPolygon `xml:"Polygon,omitempty"`
}

type kmlGeom struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlBoundary `xml:"outerBoundaryIs"`
}

type kmlBoundary struct {
	Ring kmlGeom `xml:"LinearRing"`
}

func serializeKML(feats []store.Feature) ([]byte, error) {
	doc := kmlDoc{Namespace: "http://www.opengis.net/kml/2.2"}

	for _, f := range feats {
		pm := kmlPlacemark{Name: featureName(f)}
		switch g := f.Geometry.(type) {
		case orb.Point:
			pm.Point = &kmlGeom{Coordinates: kmlCoord(g)}
		case orb.LineString:
			pm.LineString = &kmlGeom{Coordinates: kmlCoords(g)}
		case orb.Polygon:
			if len(g) == 0 {
				continue
			}
			pm.Polygon = &kmlPolygon{
				Outer: kmlBoundary{Ring: kmlGeom{Coordinates: kmlCoords(orb.LineString(g[0]))}},
			}
		default:
			// KML export covers simple geometries only.
			continue
		}
		doc.Document.Placemarks = append(doc.Document.Placemarks, pm)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// GPX document shapes for waypoint export.
type gpxDoc struct {
	XMLName   xml.Name `xml:"gpx"`
	Version   string   `xml:"version,attr"`
	Creator   string   `xml:"creator,attr"`
	Namespace string   `xml:"xmlns,attr"`
	Waypoints []gpxWpt `xml:"wpt"`
}

type gpxWpt struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Name string  `xml:"name,omitempty"`
}

func serializeGPX(feats []store.Feature) ([]byte, error) {
	doc := gpxDoc{
		Version:   "1.1",
		Creator:   "geobatch",
		Namespace: "http://www.topografix.com/GPX/1/1",
	}

	for _, f := range feats {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			// GPX waypoints are points; other geometries are skipped.
			continue
		}
		doc.Waypoints = append(doc.Waypoints, gpxWpt{
			Lat:  p.Lat(),
			Lon:  p.Lon(),
			Name: featureName(f),
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func kmlCoord(p orb.Point) string {
	return fmt.Sprintf("%g,%g", p.Lon(), p.Lat())
}

func kmlCoords(ls orb.LineString) string {
	parts := make([]string, len(ls))
	for i, p := range ls {
		parts[i] = kmlCoord(p)
	}
	return strings.Join(parts, " ")
}

// writeShapefilePart writes one page of point features as a zipped
// .shp/.shx/.dbf component set at destPath.
func writeShapefilePart(destPath string, feats []store.Feature) error {
	tmpDir, err := os.MkdirTemp("", "geobatch-export-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	base := strings.TrimSuffix(filepath.Base(destPath), filepath.Ext(destPath))
	shpPath := filepath.Join(tmpDir, base+".shp")

	w, err := shp.Create(shpPath, shp.POINT)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}

	if err := w.SetFields([]shp.Field{shp.StringField("name", 64)}); err != nil {
		w.Close()
		return fmt.Errorf("set shapefile fields: %w", err)
	}
	row := 0
	for _, f := range feats {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		w.Write(&shp.Point{X: p.Lon(), Y: p.Lat()})
		if err := w.WriteAttribute(row, 0, featureName(f)); err != nil {
			w.Close()
			return fmt.Errorf("write shapefile attribute row %d: %w", row, err)
		}
		row++
	}
	w.Close()

	return zipDirectory(tmpDir, destPath)
}

// zipDirectory zips every file in dir into destPath.
func zipDirectory(dir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		f, err := zw.Create(entry.Name())
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// featureName extracts a display name property when one exists.
func featureName(f store.Feature) string {
	for _, key := range []string{"name", "title", "label"} {
		if v, ok := f.Properties[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}
