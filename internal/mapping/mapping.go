// Package mapping infers and validates source-field to target-field
// mappings for dataset imports. A mapping set is importable only when it
// supplies either a geometry column or a complete latitude/longitude
// coordinate pair; that invariant is checked here before any job is
// scheduled.
package mapping

import (
	"fmt"
	"strings"

	"geobatch/internal/parser"
)

// Well-known target field names.
const (
	TargetLatitude  = "latitude"
	TargetLongitude = "longitude"
	TargetGeometry  = "geometry"
	TargetName      = "name"
	TargetDate      = "date"
)

// FieldMapping maps one source column onto a target field with a type
// drawn from the closed parser.FieldType set.
type FieldMapping struct {
	SourceField string           `json:"sourceField"`
	TargetField string           `json:"targetField"`
	Type        parser.FieldType `json:"type"`
}

// ValidationError identifies the offending mapping and a machine-readable
// code, so callers can render the failure inline.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationResult reports mapping validation as data, not an exception.
type ValidationResult struct {
	Valid  bool              `json:"isValid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err returns the first validation error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// alias describes a common header spelling and its target field.
type alias struct {
	target string
	typ    parser.FieldType
}

// headerAliases is the fixed lookup table of common header spellings.
var headerAliases = map[string]alias{
	"lat":       {TargetLatitude, parser.TypeCoordinate},
	"latitude":  {TargetLatitude, parser.TypeCoordinate},
	"y":         {TargetLatitude, parser.TypeCoordinate},
	"lng":       {TargetLongitude, parser.TypeCoordinate},
	"lon":       {TargetLongitude, parser.TypeCoordinate},
	"long":      {TargetLongitude, parser.TypeCoordinate},
	"longitude": {TargetLongitude, parser.TypeCoordinate},
	"x":         {TargetLongitude, parser.TypeCoordinate},
	"name":      {TargetName, parser.TypeString},
	"title":     {TargetName, parser.TypeString},
	"label":     {TargetName, parser.TypeString},
	"date":      {TargetDate, parser.TypeDate},
	"datetime":  {TargetDate, parser.TypeDate},
	"timestamp": {TargetDate, parser.TypeDate},
	"created":   {TargetDate, parser.TypeDate},
	"geometry":  {TargetGeometry, parser.TypeGeometry},
	"geom":      {TargetGeometry, parser.TypeGeometry},
	"the_geom":  {TargetGeometry, parser.TypeGeometry},
	"wkt":       {TargetGeometry, parser.TypeGeometry},
	"shape":     {TargetGeometry, parser.TypeGeometry},
}

// validTypes is the closed set a mapping type must come from.
var validTypes = map[parser.FieldType]bool{
	parser.TypeString:     true,
	parser.TypeNumber:     true,
	parser.TypeCoordinate: true,
	parser.TypeDate:       true,
	parser.TypeGeometry:   true,
}

// Suggest builds a mapping for each header: alias table first, then the
// detected column type, defaulting to a same-named string field.
func Suggest(headers []string, detected map[string]parser.FieldType) []FieldMapping {
	mappings := make([]FieldMapping, 0, len(headers))
	claimed := map[string]bool{}

	for _, header := range headers {
		key := strings.ToLower(strings.TrimSpace(header))

		if a, ok := headerAliases[key]; ok && !claimed[a.target] {
			claimed[a.target] = true
			mappings = append(mappings, FieldMapping{
				SourceField: header,
				TargetField: a.target,
				Type:        a.typ,
			})
			continue
		}

		typ := parser.TypeString
		if t, ok := detected[header]; ok {
			typ = t
		}
		mappings = append(mappings, FieldMapping{
			SourceField: header,
			TargetField: normalizeTarget(header),
			Type:        typ,
		})
	}

	return mappings
}

// Validate enforces the standing invariants: every mapping has a non-empty
// source and target and a type from the closed set, and the set as a whole
// supplies a geometry target or a complete latitude/longitude pair.
func Validate(mappings []FieldMapping) ValidationResult {
	var errs []ValidationError

	if len(mappings) == 0 {
		errs = append(errs, ValidationError{
			Code:    "mapping_empty",
			Message: "at least one field mapping is required",
		})
		return ValidationResult{Valid: false, Errors: errs}
	}

	var hasGeometry, hasLat, hasLng bool

	for _, m := range mappings {
		switch {
		case m.SourceField == "":
			errs = append(errs, ValidationError{
				Field:   m.TargetField,
				Code:    "missing_source",
				Message: "mapping has no source field",
			})
		case m.TargetField == "":
			errs = append(errs, ValidationError{
				Field:   m.SourceField,
				Code:    "missing_target",
				Message: "mapping has no target field",
			})
		case !validTypes[m.Type]:
			errs = append(errs, ValidationError{
				Field:   m.SourceField,
				Code:    "invalid_type",
				Message: fmt.Sprintf("unknown mapping type %q", m.Type),
			})
		}

		if m.Type == parser.TypeGeometry || m.TargetField == TargetGeometry {
			hasGeometry = true
		}
		if m.Type == parser.TypeCoordinate && m.TargetField == TargetLatitude {
			hasLat = true
		}
		if m.Type == parser.TypeCoordinate && m.TargetField == TargetLongitude {
			hasLng = true
		}
	}

	if !hasGeometry && !(hasLat && hasLng) {
		errs = append(errs, ValidationError{
			Code:    "missing_location",
			Message: "mapping must include a geometry field or both latitude and longitude coordinates",
		})
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// normalizeTarget converts a header to a storage-friendly field name:
// "Station Name" -> "station_name".
func normalizeTarget(header string) string {
	t := strings.ToLower(strings.TrimSpace(header))
	t = strings.ReplaceAll(t, " ", "_")
	t = strings.ReplaceAll(t, "-", "_")
	return t
}
