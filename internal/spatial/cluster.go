package spatial

import (
	"math"

	"github.com/paulmach/orb"

	"geobatch/internal/store"
)

// clusterIterations bounds the k-means refinement loop. Convergence is
// typically reached well before this on point sets of a few thousand.
const clusterIterations = 10

// Cluster is one k-means cluster of point features.
type Cluster struct {
	ID           int       `json:"clusterId"`
	Center       [2]float64 `json:"center"` // [lng, lat]
	FeatureCount int       `json:"featureCount"`
	FeatureIDs   []int64   `json:"featureIds"`
	BBox         [4]float64 `json:"bbox"` // [minLng, minLat, maxLng, maxLat]
}

// clusterFeatures runs a deterministic k-means over the point centroids of
// feats. Seeds are picked evenly across the input order, not at random, so
// the same input always yields the same clustering. Clusters that end up
// smaller than minSize are dropped from the result.
func clusterFeatures(feats []store.Feature, k, minSize int) []Cluster {
	pts := make([]orb.Point, 0, len(feats))
	ids := make([]int64, 0, len(feats))
	for _, f := range feats {
		if f.Geometry == nil {
			continue
		}
		pts = append(pts, centroid(f.Geometry))
		ids = append(ids, f.ID)
	}
	if len(pts) == 0 || k <= 0 {
		return nil
	}
	if k > len(pts) {
		k = len(pts)
	}

	// Evenly spaced seeds keep the run reproducible.
	centers := make([]orb.Point, k)
	for i := 0; i < k; i++ {
		centers[i] = pts[i*len(pts)/k]
	}

	assign := make([]int, len(pts))
	for iter := 0; iter < clusterIterations; iter++ {
		changed := false
		for i, p := range pts {
			best := nearestCenter(p, centers)
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		// Recompute centers; an emptied cluster is reseeded with the
		// point farthest from its current center so k is preserved.
		sums := make([]orb.Point, k)
		counts := make([]int, k)
		for i, p := range pts {
			c := assign[i]
			sums[c][0] += p[0]
			sums[c][1] += p[1]
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				centers[c] = farthestPoint(pts, assign, centers)
				changed = true
				continue
			}
			centers[c] = orb.Point{sums[c][0] / float64(counts[c]), sums[c][1] / float64(counts[c])}
		}

		if !changed && iter > 0 {
			break
		}
	}

	clusters := make([]Cluster, 0, k)
	for c := 0; c < k; c++ {
		var (
			members []int64
			bound   orb.Bound
			first   = true
		)
		for i := range pts {
			if assign[i] != c {
				continue
			}
			members = append(members, ids[i])
			b := orb.Bound{Min: pts[i], Max: pts[i]}
			if first {
				bound = b
				first = false
			} else {
				bound = bound.Union(b)
			}
		}
		if len(members) < minSize || len(members) == 0 {
			continue
		}
		clusters = append(clusters, Cluster{
			ID:           len(clusters),
			Center:       [2]float64{centers[c][0], centers[c][1]},
			FeatureCount: len(members),
			FeatureIDs:   members,
			BBox:         [4]float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
		})
	}
	return clusters
}

func nearestCenter(p orb.Point, centers []orb.Point) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		d := sqDist(p, center)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// farthestPoint finds the point most distant from its assigned center,
// used to reseed a cluster that lost all its members.
func farthestPoint(pts []orb.Point, assign []int, centers []orb.Point) orb.Point {
	best, bestDist := pts[0], -1.0
	for i, p := range pts {
		d := sqDist(p, centers[assign[i]])
		if d > bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

func sqDist(a, b orb.Point) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return dx*dx + dy*dy
}

// centroid reduces any geometry to a representative point. Points pass
// through; everything else uses the center of its bounding box, which is
// cheap and stable enough for clustering and grid bucketing.
func centroid(g orb.Geometry) orb.Point {
	if p, ok := g.(orb.Point); ok {
		return p
	}
	b := g.Bound()
	return orb.Point{(b.Min[0] + b.Max[0]) / 2, (b.Min[1] + b.Max[1]) / 2}
}
