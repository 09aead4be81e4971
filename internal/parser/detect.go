package parser

// detect.go implements column type detection shared by all parsers.
//
// Detection samples up to detectSampleSize non-null values per field and
// runs an ordered list of pure predicates (coordinate > number > date >
// string). The first predicate that accepts every sample wins, so the
// result is deterministic for a fixed sample. New detectors slot into the
// ordered list without touching call sites.

import (
	"strconv"
	"strings"
	"time"
)

// FieldType classifies a column for mapping and import purposes.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeNumber     FieldType = "number"
	TypeCoordinate FieldType = "coordinate"
	TypeDate       FieldType = "date"
	TypeGeometry   FieldType = "geometry"
)

// detectSampleSize is how many non-null values are inspected per field.
const detectSampleSize = 5

// detector is a pure predicate over a header and its sampled values.
type detector struct {
	typ   FieldType
	match func(header string, samples []string) bool
}

// detectors run in priority order; the first match wins.
var detectors = []detector{
	{TypeCoordinate, isCoordinateField},
	{TypeNumber, isNumberField},
	{TypeDate, isDateField},
}

// coordinateKeywords are lat/lng-like header fragments. A numeric column
// only classifies as coordinate when its header matches one of these.
var coordinateKeywords = []string{
	"lat", "latitude", "lng", "lon", "long", "longitude", "x", "y",
}

// DetectTypes classifies every header based on sampled record values.
// Fields with no samples default to string.
func DetectTypes(headers []string, records []Record) map[string]FieldType {
	types := make(map[string]FieldType, len(headers))

	for _, header := range headers {
		samples := sampleField(header, records)
		types[header] = detectField(header, samples)
	}

	return types
}

// detectField runs the ordered detector list over one field's samples.
func detectField(header string, samples []string) FieldType {
	if len(samples) == 0 {
		return TypeString
	}
	for _, d := range detectors {
		if d.match(header, samples) {
			return d.typ
		}
	}
	return TypeString
}

// sampleField collects up to detectSampleSize non-empty values for a field.
func sampleField(header string, records []Record) []string {
	var samples []string
	for _, rec := range records {
		v, ok := rec.Fields[header]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(toString(v))
		if s == "" {
			continue
		}
		samples = append(samples, s)
		if len(samples) >= detectSampleSize {
			break
		}
	}
	return samples
}

func isCoordinateField(header string, samples []string) bool {
	if !matchesCoordinateHeader(header) {
		return false
	}
	for _, s := range samples {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < -180 || f > 180 {
			return false
		}
	}
	return true
}

func isNumberField(_ string, samples []string) bool {
	for _, s := range samples {
		if _, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err != nil {
			return false
		}
	}
	return true
}

func isDateField(_ string, samples []string) bool {
	for _, s := range samples {
		if _, ok := ParseDate(s); !ok {
			return false
		}
	}
	return true
}

func matchesCoordinateHeader(header string) bool {
	h := strings.ToLower(strings.TrimSpace(header))
	for _, kw := range coordinateKeywords {
		if h == kw || strings.Contains(h, kw) && len(kw) > 1 {
			return true
		}
	}
	return false
}

// dateLayouts are accepted date formats, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// ParseDate attempts to parse a value as a date using the accepted layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// Bare numbers parse as some layouts' year; reject them outright.
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toString renders a raw field value for detection sampling.
func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return ""
	}
}
