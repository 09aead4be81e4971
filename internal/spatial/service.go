// Package spatial is the query layer over the feature store: cached
// proximity search, bbox queries, deterministic k-means clustering, grid
// aggregation, and Mapbox vector tile generation.
package spatial

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"geobatch/internal/metrics"
	"geobatch/internal/store"
)

// DefaultNearbyLimit caps proximity results when the caller does not.
const DefaultNearbyLimit = 100

// tileFeatureLimit bounds how many features one vector tile reads from
// the store.
const tileFeatureLimit = 10000

// FeatureSource is the slice of the spatial store the query service needs.
type FeatureSource interface {
	Nearby(ctx context.Context, collection string, center orb.Point, radiusMeters float64, bound *orb.Bound, limit int) ([]store.Feature, error)
	InBound(ctx context.Context, collection string, bound orb.Bound, limit int) ([]store.Feature, error)
}

// Service answers spatial queries, caching proximity results in process.
type Service struct {
	source      FeatureSource
	cache       *queryCache
	nearbyLimit int
}

// Options tunes the query service.
type Options struct {
	CacheTTL time.Duration

	// CacheMaxEntries bounds the proximity cache; zero means unbounded.
	CacheMaxEntries int

	NearbyLimit int
}

// NewService creates the query service over a feature source.
func NewService(source FeatureSource, opts Options) *Service {
	if opts.NearbyLimit <= 0 {
		opts.NearbyLimit = DefaultNearbyLimit
	}
	return &Service{
		source:      source,
		cache:       newQueryCache(opts.CacheMaxEntries, opts.CacheTTL),
		nearbyLimit: opts.NearbyLimit,
	}
}

// Nearby returns features within radiusMeters of center, nearest first.
// Results are cached by quantized query parameters: coordinates round to
// four decimals (~11m) so jittery repeat queries from a moving client hit
// the same entry.
func (s *Service) Nearby(ctx context.Context, collection string, center orb.Point, radiusMeters float64, limit int) ([]store.Feature, error) {
	if limit <= 0 || limit > s.nearbyLimit {
		limit = s.nearbyLimit
	}

	key := fmt.Sprintf("nearby:%s:%.4f:%.4f:%.0f:%d",
		collection, center.Lon(), center.Lat(), radiusMeters, limit)
	if feats, ok := s.cache.Get(key); ok {
		metrics.CacheHits.Inc()
		return feats, nil
	}
	metrics.CacheMisses.Inc()

	start := time.Now()
	feats, err := s.source.Nearby(ctx, collection, center, radiusMeters, nil, limit)
	if err != nil {
		return nil, err
	}
	metrics.QueryDurationMs.WithLabelValues("nearby").Observe(float64(time.Since(start).Milliseconds()))

	s.cache.Set(key, feats)
	return feats, nil
}

// InBound returns features intersecting a bounding box.
func (s *Service) InBound(ctx context.Context, collection string, bound orb.Bound, limit int) ([]store.Feature, error) {
	if limit <= 0 {
		limit = tileFeatureLimit
	}
	start := time.Now()
	feats, err := s.source.InBound(ctx, collection, bound, limit)
	if err != nil {
		return nil, err
	}
	metrics.QueryDurationMs.WithLabelValues("bbox").Observe(float64(time.Since(start).Milliseconds()))
	return feats, nil
}

// Clusters groups the features inside a bounding box into k clusters,
// dropping clusters smaller than minSize.
func (s *Service) Clusters(ctx context.Context, collection string, bound orb.Bound, k, minSize int) ([]Cluster, error) {
	feats, err := s.source.InBound(ctx, collection, bound, tileFeatureLimit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	clusters := clusterFeatures(feats, k, minSize)
	metrics.QueryDurationMs.WithLabelValues("cluster").Observe(float64(time.Since(start).Milliseconds()))
	return clusters, nil
}

// GridCell is one non-empty cell of a grid aggregation.
type GridCell struct {
	BBox  [4]float64 `json:"bbox"` // [minLng, minLat, maxLng, maxLat]
	Count int        `json:"count"`

	// Property statistics, present when a numeric property was requested
	// and at least one member carried it.
	Sum *float64 `json:"sum,omitempty"`
	Avg *float64 `json:"avg,omitempty"`
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Grid buckets the features inside bound into square cells of
// cellSizeDegrees and aggregates an optional numeric property per cell.
// Empty cells are omitted.
func (s *Service) Grid(ctx context.Context, collection string, bound orb.Bound, cellSizeDegrees float64, property string) ([]GridCell, error) {
	if cellSizeDegrees <= 0 {
		return nil, fmt.Errorf("cell size must be positive")
	}

	feats, err := s.source.InBound(ctx, collection, bound, tileFeatureLimit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cols := int(math.Ceil((bound.Max[0] - bound.Min[0]) / cellSizeDegrees))
	rows := int(math.Ceil((bound.Max[1] - bound.Min[1]) / cellSizeDegrees))
	type agg struct {
		count int
		sum   float64
		min   float64
		max   float64
		vals  int
	}
	cells := make(map[int]*agg)

	for _, f := range feats {
		p := centroid(f.Geometry)
		if p[0] < bound.Min[0] || p[0] > bound.Max[0] || p[1] < bound.Min[1] || p[1] > bound.Max[1] {
			continue
		}
		col := int((p[0] - bound.Min[0]) / cellSizeDegrees)
		row := int((p[1] - bound.Min[1]) / cellSizeDegrees)
		// A point on the max edge belongs to the last cell.
		if col >= cols {
			col = cols - 1
		}
		if row >= rows {
			row = rows - 1
		}
		idx := row*cols + col

		a, ok := cells[idx]
		if !ok {
			a = &agg{min: math.Inf(1), max: math.Inf(-1)}
			cells[idx] = a
		}
		a.count++

		if property == "" {
			continue
		}
		if v, ok := numericProperty(f.Properties, property); ok {
			a.sum += v
			a.vals++
			a.min = math.Min(a.min, v)
			a.max = math.Max(a.max, v)
		}
	}

	out := make([]GridCell, 0, len(cells))
	for idx, a := range cells {
		col := idx % cols
		row := idx / cols
		cell := GridCell{
			BBox: [4]float64{
				bound.Min[0] + float64(col)*cellSizeDegrees,
				bound.Min[1] + float64(row)*cellSizeDegrees,
				bound.Min[0] + float64(col+1)*cellSizeDegrees,
				bound.Min[1] + float64(row+1)*cellSizeDegrees,
			},
			Count: a.count,
		}
		if a.vals > 0 {
			sum, avg := a.sum, a.sum/float64(a.vals)
			mn, mx := a.min, a.max
			cell.Sum, cell.Avg, cell.Min, cell.Max = &sum, &avg, &mn, &mx
		}
		out = append(out, cell)
	}
	metrics.QueryDurationMs.WithLabelValues("grid").Observe(float64(time.Since(start).Milliseconds()))
	return out, nil
}

// Tile renders one Mapbox vector tile for a collection. Features are read
// with a buffered tile bound, projected into tile coordinates, and clipped
// to the standard extent.
func (s *Service) Tile(ctx context.Context, collection string, z, x, y uint32) ([]byte, error) {
	tile := maptile.New(x, y, maptile.Zoom(z))

	feats, err := s.source.InBound(ctx, collection, tile.Bound(0.1), tileFeatureLimit)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range feats {
		feat := geojson.NewFeature(f.Geometry)
		feat.ID = f.ID
		for k, v := range f.Properties {
			feat.Properties[k] = v
		}
		fc.Append(feat)
	}

	layer := mvt.NewLayer(collection, fc)
	layers := mvt.Layers{layer}
	layers.ProjectToTile(tile)
	layers.Clip(mvt.MapboxGLDefaultExtentBound)

	data, err := mvt.Marshal(layers)
	if err != nil {
		return nil, fmt.Errorf("encode tile %d/%d/%d: %w", z, x, y, err)
	}
	metrics.TilesServed.Inc()
	return data, nil
}

// InvalidateCache drops cached query results. Import and transformation
// jobs call it on completion so stale proximity answers never outlive a
// write by more than the TTL.
func (s *Service) InvalidateCache() {
	s.cache.Invalidate()
}

func numericProperty(props map[string]any, name string) (float64, bool) {
	v, ok := props[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
