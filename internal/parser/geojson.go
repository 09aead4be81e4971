package parser

import (
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// ParseGeoJSON parses a GeoJSON FeatureCollection buffer. Feature
// properties become record fields; the header set is the union of property
// keys across all features in first-seen order, with missing keys filled
// as nil.
func ParseGeoJSON(data []byte, opts Options) (*Result, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
	}
	if len(fc.Features) == 0 {
		return nil, ErrEmptyFile
	}

	res := &Result{
		CRS: "EPSG:4326",
	}

	seen := map[string]bool{}
	var skippedGeometry int

	for _, feat := range fc.Features {
		if feat == nil {
			continue
		}
		res.TotalRows++

		for key := range feat.Properties {
			if !seen[key] {
				seen[key] = true
				res.Headers = append(res.Headers, key)
			}
		}

		if opts.MaxRows > 0 && len(res.Records) >= opts.MaxRows {
			continue
		}

		rec := Record{Fields: map[string]any{}}
		for k, v := range feat.Properties {
			rec.Fields[k] = v
		}

		if feat.Geometry == nil {
			skippedGeometry++
		} else {
			if res.GeometryType == "" {
				res.GeometryType = feat.Geometry.GeoJSONType()
			}
			res.Bounds = extendBound(res.Bounds, feat.Geometry)
			if opts.IncludeGeometry {
				rec.Geometry = feat.Geometry
			}
		}

		res.Records = append(res.Records, rec)
	}

	// Backfill nil for properties a feature did not carry.
	for i := range res.Records {
		for _, h := range res.Headers {
			if _, ok := res.Records[i].Fields[h]; !ok {
				res.Records[i].Fields[h] = nil
			}
		}
	}

	if skippedGeometry > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d features have no geometry", skippedGeometry))
	}

	res.Types = DetectTypes(res.Headers, res.Records)
	return res, nil
}
