package spatial

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"geobatch/internal/store"
)

// fakeSource counts store round-trips so cache behavior is observable.
type fakeSource struct {
	nearbyCalls  int
	inBoundCalls int
	features     []store.Feature
}

func (f *fakeSource) Nearby(ctx context.Context, collection string, center orb.Point, radiusMeters float64, bound *orb.Bound, limit int) ([]store.Feature, error) {
	f.nearbyCalls++
	return f.features, nil
}

func (f *fakeSource) InBound(ctx context.Context, collection string, bound orb.Bound, limit int) ([]store.Feature, error) {
	f.inBoundCalls++
	return f.features, nil
}

func TestService_NearbyCachesResults(t *testing.T) {
	src := &fakeSource{features: feats(1, 2, 3)}
	svc := NewService(src, Options{CacheTTL: time.Minute})

	ctx := context.Background()
	center := orb.Point{10.75, 59.91}

	got, err := svc.Nearby(ctx, "stations", center, 500, 10)
	if err != nil {
		t.Fatalf("Nearby() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Nearby() = %d features, want 3", len(got))
	}

	// Same quantized parameters hit the cache, no second round-trip.
	if _, err := svc.Nearby(ctx, "stations", center, 500, 10); err != nil {
		t.Fatalf("Nearby() error = %v", err)
	}
	if src.nearbyCalls != 1 {
		t.Errorf("store calls = %d, want 1 (second query cached)", src.nearbyCalls)
	}

	// A different radius is a different cache key.
	if _, err := svc.Nearby(ctx, "stations", center, 900, 10); err != nil {
		t.Fatalf("Nearby() error = %v", err)
	}
	if src.nearbyCalls != 2 {
		t.Errorf("store calls = %d, want 2 after radius change", src.nearbyCalls)
	}
}

func TestService_NearbyCacheInvalidation(t *testing.T) {
	src := &fakeSource{features: feats(1)}
	svc := NewService(src, Options{CacheTTL: time.Minute})
	ctx := context.Background()
	center := orb.Point{10.75, 59.91}

	svc.Nearby(ctx, "stations", center, 500, 10)
	svc.InvalidateCache()
	svc.Nearby(ctx, "stations", center, 500, 10)

	if src.nearbyCalls != 2 {
		t.Errorf("store calls = %d, want 2 after invalidation", src.nearbyCalls)
	}
}

func TestService_NearbyLimitCap(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(src, Options{NearbyLimit: 50})
	ctx := context.Background()

	// Requests beyond the cap and non-positive limits both clamp; the
	// clamped limit is part of the cache key so they share one entry.
	svc.Nearby(ctx, "stations", orb.Point{0, 0}, 100, 9999)
	svc.Nearby(ctx, "stations", orb.Point{0, 0}, 100, 0)
	if src.nearbyCalls != 1 {
		t.Errorf("store calls = %d, want 1 (both clamp to the same limit)", src.nearbyCalls)
	}
}

func TestService_Grid(t *testing.T) {
	src := &fakeSource{features: []store.Feature{
		{ID: 1, Geometry: orb.Point{0.5, 0.5}, Properties: map[string]any{"temp": 2.0}},
		{ID: 2, Geometry: orb.Point{0.6, 0.4}, Properties: map[string]any{"temp": 4.0}},
		{ID: 3, Geometry: orb.Point{1.5, 1.5}, Properties: map[string]any{}},
	}}
	svc := NewService(src, Options{})

	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}
	cells, err := svc.Grid(context.Background(), "stations", bound, 1.0, "temp")
	if err != nil {
		t.Fatalf("Grid() error = %v", err)
	}

	// Two occupied cells; empty cells omitted.
	if len(cells) != 2 {
		t.Fatalf("cells = %d, want 2", len(cells))
	}

	var withStats *GridCell
	for i := range cells {
		if cells[i].Count == 2 {
			withStats = &cells[i]
		}
	}
	if withStats == nil {
		t.Fatal("no cell with two members")
	}
	if withStats.Sum == nil || *withStats.Sum != 6.0 {
		t.Errorf("Sum = %v, want 6", withStats.Sum)
	}
	if withStats.Avg == nil || *withStats.Avg != 3.0 {
		t.Errorf("Avg = %v, want 3", withStats.Avg)
	}
	if withStats.Min == nil || *withStats.Min != 2.0 {
		t.Errorf("Min = %v, want 2", withStats.Min)
	}
	if withStats.Max == nil || *withStats.Max != 4.0 {
		t.Errorf("Max = %v, want 4", withStats.Max)
	}
}

func TestService_GridEdgeCoincidentFeatures(t *testing.T) {
	// Points sitting exactly on the bound's max edges belong to the last
	// row/column, never to a cell outside the queried bbox.
	src := &fakeSource{features: []store.Feature{
		{ID: 1, Geometry: orb.Point{1.0, 0.25}, Properties: map[string]any{}},
		{ID: 2, Geometry: orb.Point{0.25, 1.0}, Properties: map[string]any{}},
	}}
	svc := NewService(src, Options{})

	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	cells, err := svc.Grid(context.Background(), "stations", bound, 0.5, "")
	if err != nil {
		t.Fatalf("Grid() error = %v", err)
	}

	counted := 0
	for _, c := range cells {
		counted += c.Count
		if c.BBox[2] > bound.Max[0]+1e-9 || c.BBox[3] > bound.Max[1]+1e-9 {
			t.Errorf("cell %v extends beyond the query bbox", c.BBox)
		}
	}
	if counted != 2 {
		t.Errorf("features counted = %d, want 2 (edge points included)", counted)
	}
}

func TestService_GridRejectsBadCellSize(t *testing.T) {
	svc := NewService(&fakeSource{}, Options{})
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	if _, err := svc.Grid(context.Background(), "stations", bound, 0, ""); err == nil {
		t.Error("Grid() with zero cell size should fail")
	}
}

func TestService_Clusters(t *testing.T) {
	src := &fakeSource{features: separatedPoints(10, []orb.Point{{0, 0}, {10, 10}})}
	svc := NewService(src, Options{})

	bound := orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{11, 11}}
	clusters, err := svc.Clusters(context.Background(), "stations", bound, 2, 1)
	if err != nil {
		t.Fatalf("Clusters() error = %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(clusters))
	}
	if clusters[0].FeatureCount+clusters[1].FeatureCount != 20 {
		t.Error("cluster sizes do not sum to the input size")
	}
}

func TestService_Tile(t *testing.T) {
	src := &fakeSource{features: []store.Feature{
		{ID: 1, Geometry: orb.Point{10.75, 59.91}, Properties: map[string]any{"name": "Alpha"}},
	}}
	svc := NewService(src, Options{})

	data, err := svc.Tile(context.Background(), "stations", 0, 0, 0)
	if err != nil {
		t.Fatalf("Tile() error = %v", err)
	}
	if len(data) == 0 {
		t.Error("Tile() returned empty payload")
	}
	if src.inBoundCalls != 1 {
		t.Errorf("store calls = %d, want 1", src.inBoundCalls)
	}
}
