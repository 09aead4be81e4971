package parser

// shapefile.go parses zipped shapefile archives.
//
// The archive is extracted into an isolated temporary directory that is
// removed on every exit path. Component files (.shp/.dbf/.shx/.prj) are
// grouped by base name and the most complete sibling set wins; an archive
// without at least a .shp and .dbf for some base name is rejected as
// incomplete.

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// ParseShapefileArchive extracts a zip buffer and parses the shapefile
// inside it.
func ParseShapefileArchive(data []byte, opts Options) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "geobatch-shp-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractArchive(zr, tmpDir); err != nil {
		return nil, err
	}

	base, err := findComponentSet(tmpDir)
	if err != nil {
		return nil, err
	}

	return parseShapefile(tmpDir, base, opts)
}

// extractArchive writes every regular zip entry into dir, flattening any
// directory structure and refusing path traversal.
func extractArchive(zr *zip.Reader, dir string) error {
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(entry.Name)
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
		}

		dst, err := os.Create(filepath.Join(dir, strings.ToLower(name)))
		if err != nil {
			rc.Close()
			return fmt.Errorf("extract %s: %w", name, err)
		}

		_, err = io.Copy(dst, rc)
		rc.Close()
		dst.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
	}
	return nil
}

// findComponentSet groups extracted files by base name and returns the
// base with the most complete component set. A usable set needs at least
// .shp and .dbf.
func findComponentSet(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan extracted files: %w", err)
	}

	components := map[string]map[string]bool{}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		base := strings.TrimSuffix(entry.Name(), ext)
		if components[base] == nil {
			components[base] = map[string]bool{}
		}
		components[base][ext] = true
	}

	var best string
	bestCount := 0
	for base, exts := range components {
		if !exts[".shp"] || !exts[".dbf"] {
			continue
		}
		if len(exts) > bestCount {
			best = base
			bestCount = len(exts)
		}
	}

	if best == "" {
		return "", ErrIncompleteArchive
	}
	return best, nil
}

// parseShapefile reads the .shp/.dbf pair plus an optional .prj for CRS.
func parseShapefile(dir, base string, opts Options) (*Result, error) {
	reader, err := shp.Open(filepath.Join(dir, base+".shp"))
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer reader.Close()

	res := &Result{
		CRS: readProjection(filepath.Join(dir, base+".prj")),
	}

	fields := reader.Fields()
	res.Headers = make([]string, len(fields))
	for i, f := range fields {
		res.Headers[i] = strings.TrimRight(f.String(), "\x00")
	}

	var invalidGeometry int
	for reader.Next() {
		row, shape := reader.Shape()
		res.TotalRows++
		if opts.MaxRows > 0 && len(res.Records) >= opts.MaxRows {
			continue
		}

		rec := Record{Fields: map[string]any{}}
		for i, h := range res.Headers {
			val := strings.TrimSpace(reader.ReadAttribute(row, i))
			if val == "" {
				rec.Fields[h] = nil
			} else {
				rec.Fields[h] = val
			}
		}

		geom := shapeToGeometry(shape)
		if geom == nil {
			invalidGeometry++
		} else {
			if res.GeometryType == "" {
				res.GeometryType = geom.GeoJSONType()
			}
			res.Bounds = extendBound(res.Bounds, geom)
			if opts.IncludeGeometry {
				rec.Geometry = geom
			}
		}

		res.Records = append(res.Records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read shapes: %w", err)
	}

	if res.TotalRows == 0 {
		return nil, ErrEmptyFile
	}
	if invalidGeometry > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d shapes had unsupported or empty geometry", invalidGeometry))
	}

	res.Types = DetectTypes(res.Headers, res.Records)
	return res, nil
}

// readProjection returns the raw WKT from a .prj sidecar, if present.
func readProjection(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// shapeToGeometry converts a go-shp shape into an orb geometry.
// Parts arrays split polylines into line segments and polygons into rings.
func shapeToGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}

	case *shp.PointZ:
		return orb.Point{s.X, s.Y}

	case *shp.MultiPoint:
		mp := make(orb.MultiPoint, 0, len(s.Points))
		for _, p := range s.Points {
			mp = append(mp, orb.Point{p.X, p.Y})
		}
		return mp

	case *shp.PolyLine:
		lines := splitParts(s.Parts, s.Points)
		if len(lines) == 1 {
			return orb.LineString(lines[0])
		}
		ml := make(orb.MultiLineString, 0, len(lines))
		for _, l := range lines {
			ml = append(ml, orb.LineString(l))
		}
		return ml

	case *shp.Polygon:
		rings := splitParts(s.Parts, s.Points)
		poly := make(orb.Polygon, 0, len(rings))
		for _, r := range rings {
			poly = append(poly, orb.Ring(r))
		}
		if len(poly) == 0 {
			return nil
		}
		return poly

	default:
		return nil
	}
}

// splitParts slices a flat point array into segments at the given part
// offsets.
func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	if len(parts) == 0 {
		parts = []int32{0}
	}

	var out [][]orb.Point
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) >= end {
			continue
		}
		seg := make([]orb.Point, 0, end-int(start))
		for _, p := range points[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out
}
