package web

// handlers_spatial.go serves the spatial query API: proximity search,
// clustering, grid aggregation, vector tiles, and collection deletion.
// Query results cross the wire as GeoJSON feature collections.

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"geobatch/internal/logging"
	"geobatch/internal/store"
)

// handleNearby returns features within a radius of a point, nearest first.
//
// GET /api/collections/{collection}/nearby?lat=..&lng=..&radius=..&limit=..
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	collection := urlParam(r, "collection")

	lat, err1 := queryFloat(r, "lat")
	lng, err2 := queryFloat(r, "lng")
	radius, err3 := queryFloat(r, "radius")
	if err1 != nil || err2 != nil || err3 != nil {
		respondError(w, r, http.StatusBadRequest, "lat, lng and radius are required numeric parameters")
		return
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		respondError(w, r, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if radius <= 0 {
		respondError(w, r, http.StatusBadRequest, "radius must be positive")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	feats, err := s.spatial.Nearby(r.Context(), collection, orb.Point{lng, lat}, radius, limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, featureCollection(feats))
}

// handleClusters groups the features inside a bounding box with k-means.
//
// GET /api/collections/{collection}/clusters?bbox=..&k=..&minSize=..
func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	collection := urlParam(r, "collection")

	bound, err := queryBBox(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	k, err := strconv.Atoi(r.URL.Query().Get("k"))
	if err != nil || k <= 0 {
		respondError(w, r, http.StatusBadRequest, "k must be a positive integer")
		return
	}
	minSize, _ := strconv.Atoi(r.URL.Query().Get("minSize"))
	if minSize <= 0 {
		minSize = 1
	}

	clusters, err := s.spatial.Clusters(r.Context(), collection, bound, k, minSize)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

// handleGrid aggregates features into grid cells over a bounding box.
//
// GET /api/collections/{collection}/grid?bbox=..&cellSize=..&property=..
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	collection := urlParam(r, "collection")

	bound, err := queryBBox(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cellSize, err := queryFloat(r, "cellSize")
	if err != nil || cellSize <= 0 {
		respondError(w, r, http.StatusBadRequest, "cellSize must be a positive number of degrees")
		return
	}

	cells, err := s.spatial.Grid(r.Context(), collection, bound, cellSize, r.URL.Query().Get("property"))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cells": cells})
}

// handleTile serves one Mapbox vector tile.
//
// GET /api/tiles/{collection}/{z}/{x}/{y}.mvt
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	collection := urlParam(r, "collection")

	z, err1 := strconv.ParseUint(urlParam(r, "z"), 10, 32)
	x, err2 := strconv.ParseUint(urlParam(r, "x"), 10, 32)
	y, err3 := strconv.ParseUint(urlParam(r, "y"), 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || z > 22 {
		respondError(w, r, http.StatusBadRequest, "invalid tile coordinates")
		return
	}

	data, err := s.spatial.Tile(r.Context(), collection, uint32(z), uint32(x), uint32(y))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleDeleteCollection removes every feature in a collection and drops
// cached query results that may reference it.
//
// DELETE /api/collections/{collection}
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	collection := urlParam(r, "collection")

	deleted, err := s.store.DeleteCollection(r.Context(), collection)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.spatial.InvalidateCache()

	logging.FromContext(r.Context()).Info("collection deleted",
		"collection", collection, "features", deleted)
	respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// featureCollection converts stored features into a GeoJSON response.
func featureCollection(feats []store.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range feats {
		feat := geojson.NewFeature(f.Geometry)
		feat.ID = f.ID
		for k, v := range f.Properties {
			feat.Properties[k] = v
		}
		fc.Append(feat)
	}
	return fc
}

func queryFloat(r *http.Request, name string) (float64, error) {
	return strconv.ParseFloat(r.URL.Query().Get(name), 64)
}

// queryBBox parses a bbox parameter of the form
// "minLng,minLat,maxLng,maxLat".
func queryBBox(r *http.Request) (orb.Bound, error) {
	raw := r.URL.Query().Get("bbox")
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return orb.Bound{}, errBBox
	}

	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, errBBox
		}
		vals[i] = f
	}
	if vals[0] >= vals[2] || vals[1] >= vals[3] {
		return orb.Bound{}, errBBox
	}
	return boundFromBBox(vals), nil
}

var errBBox = errors.New("bbox must be minLng,minLat,maxLng,maxLat with min < max")
