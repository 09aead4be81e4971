// Package store is the PostGIS-backed spatial store. It owns the features
// table: batched geometry-bearing inserts, paged and bbox-filtered reads,
// nearest-first proximity queries with a geodesic distance metric, and the
// index maintenance routine. Geometry crosses this boundary as GeoJSON.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is one stored row: a geometry plus arbitrary JSON properties.
type Feature struct {
	ID         int64          `json:"id"`
	Collection string         `json:"collection"`
	Properties map[string]any `json:"properties"`
	Geometry   orb.Geometry   `json:"-"`
}

// Store wraps database access for features.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by an existing pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const createSchemaSQL = `
	CREATE EXTENSION IF NOT EXISTS postgis;

	CREATE TABLE IF NOT EXISTS features (
		id          BIGSERIAL PRIMARY KEY,
		collection  TEXT NOT NULL,
		geom_type   TEXT NOT NULL,
		properties  JSONB NOT NULL DEFAULT '{}'::jsonb,
		geom        geometry(Geometry, 4326) NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// EnsureSchema creates the features table and the PostGIS extension if
// they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ensureIndexSQL statements are all idempotent.
var ensureIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_features_geom ON features USING GIST (geom)`,
	`CREATE INDEX IF NOT EXISTS idx_features_properties ON features USING GIN (properties)`,
	`CREATE INDEX IF NOT EXISTS idx_features_collection_type ON features (collection, geom_type)`,
}

// EnsureIndexes idempotently creates the spatial index, the secondary
// properties index, and the type-discriminator index, then refreshes
// statistics and physically reorders storage by the spatial index for
// locality. Maintenance only; never on the request path.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range ensureIndexSQL {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx, `ANALYZE features`); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `CLUSTER features USING idx_features_geom`); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	return nil
}

const insertFeatureSQL = `
	INSERT INTO features (collection, geom_type, properties, geom)
	VALUES ($1, $2, $3::jsonb, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326))
`

// InsertFeatures writes one batch of features using the pgx batch
// protocol. The whole batch is one implicit transaction: it either lands
// or fails together, which keeps chunk-level partial-failure semantics in
// the importer's hands.
func (s *Store) InsertFeatures(ctx context.Context, collection string, feats []Feature) (int, error) {
	if len(feats) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, f := range feats {
		if f.Geometry == nil {
			return 0, fmt.Errorf("feature without geometry")
		}

		props, err := json.Marshal(f.Properties)
		if err != nil {
			return 0, fmt.Errorf("encode properties: %w", err)
		}
		geom, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("encode geometry: %w", err)
		}

		batch.Queue(insertFeatureSQL, collection, f.Geometry.GeoJSONType(), props, geom)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range feats {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("insert batch: %w", err)
		}
	}
	return len(feats), nil
}

const selectFeatureCols = `id, collection, properties, ST_AsGeoJSON(geom)`

// Count returns the number of features in a collection, optionally
// restricted to a bounding box.
func (s *Store) Count(ctx context.Context, collection string, bound *orb.Bound) (int, error) {
	sql := `SELECT COUNT(*) FROM features WHERE collection = $1`
	args := []any{collection}
	if bound != nil {
		sql += boundClause(2)
		args = append(args, boundArgs(*bound)...)
	}

	var n int
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count features: %w", err)
	}
	return n, nil
}

// Page returns one page of a collection ordered by id, optionally
// restricted to a bounding box.
func (s *Store) Page(ctx context.Context, collection string, bound *orb.Bound, offset, limit int) ([]Feature, error) {
	sql := `SELECT ` + selectFeatureCols + ` FROM features WHERE collection = $1`
	args := []any{collection}
	argPos := 2
	if bound != nil {
		sql += boundClause(argPos)
		args = append(args, boundArgs(*bound)...)
		argPos += 4
	}
	sql += ` ORDER BY id LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, limit, offset)

	return s.queryFeatures(ctx, sql, args...)
}

// InBound returns features intersecting a bounding box, up to limit.
func (s *Store) InBound(ctx context.Context, collection string, bound orb.Bound, limit int) ([]Feature, error) {
	sql := `SELECT ` + selectFeatureCols + ` FROM features WHERE collection = $1` +
		boundClause(2) + ` ORDER BY id LIMIT $6`
	args := append([]any{collection}, boundArgs(bound)...)
	args = append(args, limit)

	return s.queryFeatures(ctx, sql, args...)
}

// Nearby returns features within radiusMeters of center, nearest first,
// capped at limit. When a bounding box is supplied, the index-friendly box
// intersection runs as a first-stage filter before the exact geodesic
// distance predicate.
func (s *Store) Nearby(ctx context.Context, collection string, center orb.Point, radiusMeters float64, bound *orb.Bound, limit int) ([]Feature, error) {
	sql := `SELECT ` + selectFeatureCols + ` FROM features WHERE collection = $1`
	args := []any{collection}
	argPos := 2
	if bound != nil {
		sql += boundClause(argPos)
		args = append(args, boundArgs(*bound)...)
		argPos += 4
	}

	point := fmt.Sprintf("ST_SetSRID(ST_MakePoint($%d, $%d), 4326)", argPos, argPos+1)
	sql += fmt.Sprintf(
		" AND ST_DWithin(geom::geography, %s::geography, $%d) ORDER BY geom <-> %s LIMIT $%d",
		point, argPos+2, point, argPos+3,
	)
	args = append(args, center.Lon(), center.Lat(), radiusMeters, limit)

	return s.queryFeatures(ctx, sql, args...)
}

// DeleteCollection removes every feature in a collection and returns the
// number of rows deleted.
func (s *Store) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM features WHERE collection = $1`, collection)
	if err != nil {
		return 0, fmt.Errorf("delete collection: %w", err)
	}
	return tag.RowsAffected(), nil
}

// queryFeatures runs a feature select and decodes each row.
func (s *Store) queryFeatures(ctx context.Context, sql string, args ...any) ([]Feature, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	feats := make([]Feature, 0)
	for rows.Next() {
		var (
			f         Feature
			propsJSON []byte
			geomJSON  []byte
		)
		if err := rows.Scan(&f.ID, &f.Collection, &propsJSON, &geomJSON); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}

		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &f.Properties); err != nil {
				return nil, fmt.Errorf("decode properties: %w", err)
			}
		}
		geom, err := geojson.UnmarshalGeometry(geomJSON)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		f.Geometry = geom.Geometry()

		feats = append(feats, f)
	}
	return feats, rows.Err()
}

// boundClause renders the index-friendly bbox intersection predicate with
// four placeholders starting at argPos.
func boundClause(argPos int) string {
	return fmt.Sprintf(
		" AND geom && ST_MakeEnvelope($%d, $%d, $%d, $%d, 4326)",
		argPos, argPos+1, argPos+2, argPos+3,
	)
}

func boundArgs(b orb.Bound) []any {
	return []any{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
}
