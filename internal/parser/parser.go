// Package parser turns raw dataset files (CSV, spreadsheets, GeoJSON,
// zipped shapefiles) into a canonical record shape: flat property records
// plus optional geometry, with headers, detected column types, and dataset
// bounds. Each format produces the same Result so the mapping engine and
// importer never care where the data came from.
package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
)

// Format identifies a supported input file format.
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "xlsx"
	FormatGeoJSON     Format = "geojson"
	FormatShapefile   Format = "shapefile"
)

// Sentinel errors for file-level failures. These abort one file's parse,
// never a whole multi-file batch.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("file contains no data rows")
	ErrEmptySheet        = errors.New("sheet contains no data rows")
	ErrSheetNotFound     = errors.New("sheet not found in workbook")
	ErrInvalidGeoJSON    = errors.New("invalid GeoJSON FeatureCollection")
	ErrIncompleteArchive = errors.New("archive is missing required shapefile components")
)

// FileError wraps a failure scoped to a single file.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("process %s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Options controls how much of a file is materialized during a parse.
type Options struct {
	// MaxRows bounds the number of records returned. Zero means all rows.
	// TotalRows in the Result always reflects the full file.
	MaxRows int

	// IncludeGeometry controls whether geometries are decoded and attached
	// to records. Preview parses leave this off to stay cheap.
	IncludeGeometry bool

	// SheetName selects a worksheet for spreadsheet files. Empty picks the
	// first sheet.
	SheetName string
}

// Record is one parsed row or feature: flat field values plus an optional
// decoded geometry. Field order is carried by Result.Headers.
type Record struct {
	Fields   map[string]any
	Geometry orb.Geometry
}

// Result is the canonical output of every parser.
type Result struct {
	Headers      []string
	Records      []Record
	TotalRows    int
	Types        map[string]FieldType
	GeometryType string
	Bounds       *orb.Bound
	CRS          string
	Warnings     []string
}

// DetectFormat maps a file name (and optional declared MIME type) to a
// parser format.
func DetectFormat(name, mimeType string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xls":
		return FormatSpreadsheet, nil
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	case ".zip", ".shp":
		return FormatShapefile, nil
	}

	switch mimeType {
	case "text/csv":
		return FormatCSV, nil
	case "application/geo+json", "application/json":
		return FormatGeoJSON, nil
	case "application/zip":
		return FormatShapefile, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatSpreadsheet, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// Parse dispatches a raw buffer to the parser for the given format.
// Failures are wrapped in a *FileError carrying the file name.
func Parse(name string, data []byte, format Format, opts Options) (*Result, error) {
	var (
		res *Result
		err error
	)

	switch format {
	case FormatCSV:
		res, err = ParseCSV(data, opts)
	case FormatSpreadsheet:
		res, err = ParseSpreadsheet(data, opts)
	case FormatGeoJSON:
		res, err = ParseGeoJSON(data, opts)
	case FormatShapefile:
		res, err = ParseShapefileArchive(data, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err != nil {
		return nil, &FileError{File: name, Err: err}
	}
	return res, nil
}

// ParseFile reads a file from disk and parses it, detecting the format
// from the file name.
func ParseFile(path string, opts Options) (*Result, error) {
	format, err := DetectFormat(path, "")
	if err != nil {
		return nil, &FileError{File: filepath.Base(path), Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{File: filepath.Base(path), Err: err}
	}

	return Parse(filepath.Base(path), data, format, opts)
}

// extendBound grows b to include g, allocating on first use.
func extendBound(b *orb.Bound, g orb.Geometry) *orb.Bound {
	if g == nil {
		return b
	}
	gb := g.Bound()
	if b == nil {
		return &gb
	}
	u := b.Union(gb)
	return &u
}
