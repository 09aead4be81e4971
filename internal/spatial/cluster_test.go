package spatial

import (
	"reflect"
	"testing"

	"github.com/paulmach/orb"

	"geobatch/internal/store"
)

// separatedPoints builds n points per group around well-separated anchors.
func separatedPoints(perGroup int, anchors []orb.Point) []store.Feature {
	var out []store.Feature
	id := int64(1)
	for _, a := range anchors {
		for i := 0; i < perGroup; i++ {
			// Small deterministic jitter inside the group
			dx := float64(i%5) * 0.01
			dy := float64(i/5) * 0.01
			out = append(out, store.Feature{
				ID:       id,
				Geometry: orb.Point{a[0] + dx, a[1] + dy},
			})
			id++
		}
	}
	return out
}

func TestClusterFeatures(t *testing.T) {
	anchors := []orb.Point{{0, 0}, {10, 0}, {0, 10}, {10, 10}, {5, 20}}
	feats := separatedPoints(20, anchors)

	clusters := clusterFeatures(feats, 5, 1)
	if len(clusters) != 5 {
		t.Fatalf("clusters = %d, want 5", len(clusters))
	}

	total := 0
	for _, c := range clusters {
		total += c.FeatureCount
		if c.FeatureCount != len(c.FeatureIDs) {
			t.Errorf("cluster %d count %d != %d ids", c.ID, c.FeatureCount, len(c.FeatureIDs))
		}
		if c.BBox[0] > c.BBox[2] || c.BBox[1] > c.BBox[3] {
			t.Errorf("cluster %d bbox inverted: %v", c.ID, c.BBox)
		}
	}
	if total != 100 {
		t.Errorf("cluster sizes sum to %d, want 100", total)
	}

	// Well-separated groups cluster cleanly: every cluster holds exactly
	// one group.
	for _, c := range clusters {
		if c.FeatureCount != 20 {
			t.Errorf("cluster %d size = %d, want 20", c.ID, c.FeatureCount)
		}
	}
}

func TestClusterFeatures_Deterministic(t *testing.T) {
	anchors := []orb.Point{{0, 0}, {10, 10}, {20, 0}}
	feats := separatedPoints(10, anchors)

	first := clusterFeatures(feats, 3, 1)
	second := clusterFeatures(feats, 3, 1)
	if !reflect.DeepEqual(first, second) {
		t.Error("same input produced different clusterings")
	}
}

func TestClusterFeatures_MinSizeDropsSmallClusters(t *testing.T) {
	// 30 points near one anchor, a single outlier far away.
	feats := separatedPoints(30, []orb.Point{{0, 0}})
	feats = append(feats, store.Feature{ID: 999, Geometry: orb.Point{100, 50}})

	clusters := clusterFeatures(feats, 2, 5)
	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1 (outlier cluster dropped)", len(clusters))
	}
	if clusters[0].FeatureCount != 30 {
		t.Errorf("surviving cluster size = %d, want 30", clusters[0].FeatureCount)
	}
}

func TestClusterFeatures_KLargerThanInput(t *testing.T) {
	feats := separatedPoints(3, []orb.Point{{0, 0}})
	clusters := clusterFeatures(feats, 10, 1)

	total := 0
	for _, c := range clusters {
		total += c.FeatureCount
	}
	if total != 3 {
		t.Errorf("cluster sizes sum to %d, want 3", total)
	}
}

func TestClusterFeatures_Empty(t *testing.T) {
	if got := clusterFeatures(nil, 5, 1); got != nil {
		t.Errorf("clusterFeatures(nil) = %v, want nil", got)
	}
}

func TestCentroid(t *testing.T) {
	p := centroid(orb.Point{10, 20})
	if p != (orb.Point{10, 20}) {
		t.Errorf("centroid(point) = %v", p)
	}

	ls := centroid(orb.LineString{{0, 0}, {10, 20}})
	if ls != (orb.Point{5, 10}) {
		t.Errorf("centroid(linestring) = %v, want bbox center [5, 10]", ls)
	}
}
