package mapping

import (
	"math/rand"
	"testing"

	"geobatch/internal/parser"
)

func TestSuggest_Aliases(t *testing.T) {
	headers := []string{"Lat", "Lng", "Name", "Temp", "Notes"}
	detected := map[string]parser.FieldType{
		"Temp":  parser.TypeNumber,
		"Notes": parser.TypeString,
	}

	got := Suggest(headers, detected)
	if len(got) != len(headers) {
		t.Fatalf("len(Suggest()) = %d, want %d", len(got), len(headers))
	}

	byTarget := map[string]FieldMapping{}
	for _, m := range got {
		byTarget[m.TargetField] = m
	}

	if m := byTarget[TargetLatitude]; m.SourceField != "Lat" || m.Type != parser.TypeCoordinate {
		t.Errorf("latitude mapping = %+v", m)
	}
	if m := byTarget[TargetLongitude]; m.SourceField != "Lng" || m.Type != parser.TypeCoordinate {
		t.Errorf("longitude mapping = %+v", m)
	}
	if m := byTarget[TargetName]; m.SourceField != "Name" {
		t.Errorf("name mapping = %+v", m)
	}
	if m := byTarget["temp"]; m.Type != parser.TypeNumber {
		t.Errorf("temp mapping = %+v, want detected number type", m)
	}
}

func TestSuggest_ClaimedTargetNotReused(t *testing.T) {
	// "y" and "latitude" both alias the latitude target; only the first
	// header claims it.
	got := Suggest([]string{"y", "lat_deg"}, nil)

	latCount := 0
	for _, m := range got {
		if m.TargetField == TargetLatitude && m.Type == parser.TypeCoordinate {
			latCount++
		}
	}
	if latCount != 1 {
		t.Errorf("latitude target claimed %d times, want 1", latCount)
	}
}

func TestSuggest_NormalizesTargets(t *testing.T) {
	got := Suggest([]string{"Station Name-ID"}, nil)
	if got[0].TargetField != "station_name_id" {
		t.Errorf("TargetField = %q, want station_name_id", got[0].TargetField)
	}
}

func TestValidate(t *testing.T) {
	coord := func(src, target string) FieldMapping {
		return FieldMapping{SourceField: src, TargetField: target, Type: parser.TypeCoordinate}
	}

	tests := []struct {
		name     string
		mappings []FieldMapping
		valid    bool
		code     string
	}{
		{
			name:  "empty set",
			valid: false,
			code:  "mapping_empty",
		},
		{
			name:     "lat lng pair",
			mappings: []FieldMapping{coord("lat", TargetLatitude), coord("lng", TargetLongitude)},
			valid:    true,
		},
		{
			name: "geometry only",
			mappings: []FieldMapping{
				{SourceField: "wkt", TargetField: TargetGeometry, Type: parser.TypeGeometry},
			},
			valid: true,
		},
		{
			name:     "lat without lng",
			mappings: []FieldMapping{coord("lat", TargetLatitude)},
			valid:    false,
			code:     "missing_location",
		},
		{
			name: "lat lng mapped as plain numbers",
			mappings: []FieldMapping{
				{SourceField: "lat", TargetField: TargetLatitude, Type: parser.TypeNumber},
				{SourceField: "lng", TargetField: TargetLongitude, Type: parser.TypeNumber},
			},
			valid: false,
			code:  "missing_location",
		},
		{
			name: "missing source field",
			mappings: []FieldMapping{
				coord("", TargetLatitude), coord("lng", TargetLongitude),
			},
			valid: false,
			code:  "missing_source",
		},
		{
			name: "unknown type",
			mappings: []FieldMapping{
				coord("lat", TargetLatitude), coord("lng", TargetLongitude),
				{SourceField: "blob", TargetField: "blob", Type: "binary"},
			},
			valid: false,
			code:  "invalid_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.mappings)
			if got.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v (errors: %v)", got.Valid, tt.valid, got.Errors)
			}
			if tt.code == "" {
				return
			}
			found := false
			for _, e := range got.Errors {
				if e.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v missing code %q", got.Errors, tt.code)
			}
		})
	}
}

// TestValidate_LocationInvariant cross-checks Validate against an
// independent statement of the rule: a well-formed mapping set is valid
// exactly when it has a geometry field or a complete coordinate pair.
func TestValidate_LocationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	types := []parser.FieldType{
		parser.TypeString, parser.TypeNumber, parser.TypeCoordinate,
		parser.TypeDate, parser.TypeGeometry,
	}
	targets := []string{
		TargetLatitude, TargetLongitude, TargetGeometry, TargetName, TargetDate, "temp", "depth",
	}

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(5)
		mappings := make([]FieldMapping, n)
		for i := range mappings {
			mappings[i] = FieldMapping{
				SourceField: "col" + string(rune('a'+i)),
				TargetField: targets[rng.Intn(len(targets))],
				Type:        types[rng.Intn(len(types))],
			}
		}

		var hasGeometry, hasLat, hasLng bool
		for _, m := range mappings {
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
		want := hasGeometry || (hasLat && hasLng)

		if got := Validate(mappings); got.Valid != want {
			t.Fatalf("trial %d: Valid = %v, want %v for %+v", trial, got.Valid, want, mappings)
		}
	}
}
