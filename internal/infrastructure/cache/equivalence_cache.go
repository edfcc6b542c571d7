// Package cache implements the ChangedTiles step-deduplication cache
// against Valkey, grounded on maraichr-codegraph's session.Manager
// (Get/Set with a TTL via valkey-go's command builder).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	domaintiles "github.com/here-xyz/tasked-step-engine/internal/domain/tiles"
)

const (
	keyPrefix = "changedtiles:equivalence:"
	entryTTL  = 24 * time.Hour
)

// EquivalenceCache lets an outer job manager look up whether an
// equivalent ChangedTiles step is already running before creating a new
// one, per spec.md §4.4's equivalence rule and the original service's
// step-deduplication behavior.
type EquivalenceCache struct {
	client valkey.Client
}

// NewEquivalenceCache builds an EquivalenceCache backed by client.
func NewEquivalenceCache(client valkey.Client) *EquivalenceCache {
	return &EquivalenceCache{client: client}
}

// Lookup returns the running step id for an equivalent ChangedTiles
// config, if one was registered and hasn't expired.
func (c *EquivalenceCache) Lookup(ctx context.Context, cfg domaintiles.Config, hasExtension bool) (domaintask.StepID, bool, error) {
	key := equivalenceKey(cfg, hasExtension)
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	value, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup equivalence cache: %w", err)
	}
	return domaintask.StepID(value), true, nil
}

// Register records stepID as the running step for cfg's equivalence
// class, with a TTL so a crashed step doesn't wedge the cache forever.
func (c *EquivalenceCache) Register(ctx context.Context, cfg domaintiles.Config, hasExtension bool, stepID domaintask.StepID) error {
	key := equivalenceKey(cfg, hasExtension)
	resp := c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(stepID)).Ex(entryTTL).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("register equivalence cache entry: %w", err)
	}
	return nil
}

// Release removes a step's equivalence-class entry once it completes or
// fails, so a later equivalent step isn't deduplicated against a dead one.
func (c *EquivalenceCache) Release(ctx context.Context, cfg domaintiles.Config, hasExtension bool) error {
	key := equivalenceKey(cfg, hasExtension)
	resp := c.client.Do(ctx, c.client.B().Del().Key(key).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("release equivalence cache entry: %w", err)
	}
	return nil
}

// equivalenceKey hashes the equivalence tuple (spaceId, versionRef,
// effective context, spatialFilter, propertyFilter, targetLevel,
// quadType) into a stable cache key.
func equivalenceKey(cfg domaintiles.Config, hasExtension bool) string {
	effective := domaintask.EffectiveContext(cfg.Context, hasExtension)

	var spatial, property string
	if cfg.SpatialFilter != nil {
		spatial = fmt.Sprintf("%s|%v|%v", cfg.SpatialFilter.Geometry, cfg.SpatialFilter.Radius, cfg.SpatialFilter.Clipped)
	}
	if cfg.PropertyFilter != nil {
		property = cfg.PropertyFilter.Expression
	}

	tuple := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
		cfg.SpaceID, cfg.VersionRef.String(), effective, spatial, property, cfg.TargetLevel, cfg.QuadType)

	sum := sha256.Sum256([]byte(tuple))
	return keyPrefix + hex.EncodeToString(sum[:])
}
