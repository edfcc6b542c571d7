package tiles

import (
	"context"

	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// ChangeQueryService is the feature-store collaborator that answers the
// two queries ChangedTilesPlanner needs to compute an affected-tile set,
// per spec.md §4.4's two-pass algorithm. The actual SQL (delta view, base
// view, for_geometry/here_quad/mercator_quad) is an opaque contract
// implemented against the database, never duplicated here.
type ChangeQueryService interface {
	// AffectedTilesFromDelta queries the delta view for rows changed in
	// (startVersion, endVersion], returning the tiles their current
	// geometry covers plus the full list of changed feature ids
	// (including deletions, which contribute no tile).
	AffectedTilesFromDelta(ctx context.Context, cfg Config) (changedTiles []string, changedFeatureIDs []string, err error)
	// AffectedTilesFromBase queries the base view at startVersion for the
	// given feature ids, returning the tiles their old geometry covered.
	AffectedTilesFromBase(ctx context.Context, cfg Config, featureIDs []string) (oldTiles []string, err error)
}

// FeatureQueryBuilder is the collaborator that builds the underlying
// "features intersecting a bounding box" SELECT
// (GetFeaturesByGeometryBuilder in the original service). ChangedTiles
// only passes it the tile's bbox and wraps its output with the
// partition-key jsonb_set; it never reimplements feature-query building.
type FeatureQueryBuilder interface {
	BuildFeatureQuery(ctx context.Context, spaceID string, endVersion int64, bbox BBox) (domain.Query, error)
}

// OutputSink publishes a ChangedTiles step's tileInvalidations output.
// exportedData download URLs are not produced through this interface.
type OutputSink interface {
	RegisterTileInvalidations(ctx context.Context, stepID domain.StepID, invalidations TileInvalidations) error
}
