package tiles

import (
	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// TileInvalidations is the ChangedTiles-only output: the tiles that ended
// up empty (bytes_uploaded = 0) and therefore must be invalidated by
// downstream consumers of the tile layer.
type TileInvalidations struct {
	TileLevel int             `json:"tileLevel"`
	QuadType  domain.QuadType `json:"quadType"`
	TileIDs   []string        `json:"tileIds"`
}

// Config is the set of fields that determine equivalence between two
// ChangedTiles steps, per spec.md §4.4.
type Config struct {
	SpaceID        string
	VersionRef     domain.VersionRef
	Context        domain.SpaceContext
	SpatialFilter  *domain.SpatialFilter
	PropertyFilter *domain.PropertyFilter
	TargetLevel    int
	QuadType       domain.QuadType
}

// IsEquivalentTo implements the deduplication rule from spec.md §4.4:
// two ChangedTiles steps are equivalent iff (spaceId, versionRef,
// effective context, spatialFilter, propertyFilter, targetLevel,
// quadType) match, where a nil context and SUPER are treated as equal
// when the dataset has no extension layer.
func (c Config) IsEquivalentTo(other Config, hasExtension bool) bool {
	if c.SpaceID != other.SpaceID {
		return false
	}
	if c.VersionRef.String() != other.VersionRef.String() {
		return false
	}
	if domain.EffectiveContext(c.Context, hasExtension) != domain.EffectiveContext(other.Context, hasExtension) {
		return false
	}
	if !equalSpatialFilter(c.SpatialFilter, other.SpatialFilter) {
		return false
	}
	if !equalPropertyFilter(c.PropertyFilter, other.PropertyFilter) {
		return false
	}
	if c.TargetLevel != other.TargetLevel {
		return false
	}
	return c.QuadType == other.QuadType
}

func equalSpatialFilter(a, b *domain.SpatialFilter) bool {
	if a == nil || b == nil {
		return a == b
	}
	return string(a.Geometry) == string(b.Geometry) && a.Radius == b.Radius && a.Clipped == b.Clipped
}

func equalPropertyFilter(a, b *domain.PropertyFilter) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Expression == b.Expression
}
