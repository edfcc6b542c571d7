package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	domaintiles "github.com/here-xyz/tasked-step-engine/internal/domain/tiles"
)

// ChangeQueryService implements domain/tiles.ChangeQueryService against the
// feature store's delta/base views, the way
// ExportChangedTiles.java.getAffectedTilesFromDelta/getAffectedTilesFromBase
// assemble named-parameter SQL rather than going through an ORM.
type ChangeQueryService struct {
	pool *pgxpool.Pool
}

// NewChangeQueryService builds a ChangeQueryService bound to pool.
func NewChangeQueryService(pool *pgxpool.Pool) *ChangeQueryService {
	return &ChangeQueryService{pool: pool}
}

// AffectedTilesFromDelta queries the delta view for every feature touched
// in (startVersion, endVersion], returning the for_geometry/here_quad or
// for_geometry/mercator_quad tile ids its current geometry covers (empty
// for a deletion) alongside the full changed-feature-id list.
func (s *ChangeQueryService) AffectedTilesFromDelta(ctx context.Context, cfg domaintiles.Config) ([]string, []string, error) {
	quadFn := quadStoredProcName(cfg.QuadType)

	sql := fmt.Sprintf(`
		SELECT id, %s(geo, $3) AS tile_id
		FROM %s
		WHERE space = $1
		  AND version > $2
		  AND version <= $4
		  AND next_version = max_bigint();
	`, quadFn, deltaViewName(cfg))

	rows, err := s.pool.Query(ctx, sql, cfg.SpaceID, cfg.VersionRef.StartVersion(), cfg.TargetLevel, cfg.VersionRef.EndVersion())
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var tiles, featureIDs []string
	for rows.Next() {
		var featureID string
		var tileID *string
		if err := rows.Scan(&featureID, &tileID); err != nil {
			return nil, nil, err
		}
		featureIDs = append(featureIDs, featureID)
		if tileID != nil && *tileID != "" {
			tiles = append(tiles, *tileID)
		}
	}
	return tiles, featureIDs, rows.Err()
}

// AffectedTilesFromBase queries the base view at startVersion for
// featureIDs, returning the tiles their prior geometry covered.
func (s *ChangeQueryService) AffectedTilesFromBase(ctx context.Context, cfg domaintiles.Config, featureIDs []string) ([]string, error) {
	if len(featureIDs) == 0 {
		return nil, nil
	}
	quadFn := quadStoredProcName(cfg.QuadType)

	sql := fmt.Sprintf(`
		SELECT %s(geo, $3) AS tile_id
		FROM %s
		WHERE space = $1
		  AND version <= $2
		  AND next_version > $2
		  AND id = ANY($4);
	`, quadFn, baseViewName(cfg))

	rows, err := s.pool.Query(ctx, sql, cfg.SpaceID, cfg.VersionRef.StartVersion(), cfg.TargetLevel, featureIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiles []string
	for rows.Next() {
		var tileID *string
		if err := rows.Scan(&tileID); err != nil {
			return nil, err
		}
		if tileID != nil && *tileID != "" {
			tiles = append(tiles, *tileID)
		}
	}
	return tiles, rows.Err()
}

func quadStoredProcName(quadType domaintask.QuadType) string {
	if quadType == domaintask.MercatorQuad {
		return "mercator_quad"
	}
	return "here_quad"
}

func deltaViewName(cfg domaintiles.Config) string {
	return viewName(cfg, "head")
}

func baseViewName(cfg domaintiles.Config) string {
	return viewName(cfg, "base")
}

// viewName picks the SpaceContext-qualified delta/base view, mirroring the
// original service's context-aware view selection (DEFAULT/EXTENSION/SUPER).
// The Config's context arrives here unresolved; an unset context selects
// the plain view, the same as DEFAULT.
func viewName(cfg domaintiles.Config, suffix string) string {
	switch cfg.Context {
	case domaintask.ContextExtension:
		return fmt.Sprintf("%s_ext_%s", cfg.SpaceID, suffix)
	case domaintask.ContextSuper:
		return fmt.Sprintf("%s_super_%s", cfg.SpaceID, suffix)
	default:
		return fmt.Sprintf("%s_%s", cfg.SpaceID, suffix)
	}
}

// FeatureQueryBuilder implements domain/tiles.FeatureQueryBuilder, the
// concrete stand-in for GetFeaturesByGeometryBuilder in the original
// service: a parameterized "features intersecting a bounding box at a
// version" SELECT, built the same way the teacher assembles its staging
// queries -- raw SQL with named parameters, not an ORM.
type FeatureQueryBuilder struct{}

// NewFeatureQueryBuilder builds a stateless FeatureQueryBuilder.
func NewFeatureQueryBuilder() *FeatureQueryBuilder {
	return &FeatureQueryBuilder{}
}

func (b *FeatureQueryBuilder) BuildFeatureQuery(ctx context.Context, spaceID string, endVersion int64, bbox domaintiles.BBox) (domaintask.Query, error) {
	sql := fmt.Sprintf(`
		SELECT geo, jsondata
		FROM %s_head
		WHERE version <= $endVersion
		  AND next_version > $endVersion
		  AND ST_Intersects(geo, ST_MakeEnvelope($minLon, $minLat, $maxLon, $maxLat, 4326))
	`, spaceID)

	return domaintask.Query{
		SQL: sql,
		Parameters: map[string]any{
			"endVersion": endVersion,
			"minLon":     bbox.MinLon,
			"minLat":     bbox.MinLat,
			"maxLon":     bbox.MaxLon,
			"maxLat":     bbox.MaxLat,
		},
	}, nil
}
