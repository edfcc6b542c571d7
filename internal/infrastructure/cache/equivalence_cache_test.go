package cache

import (
	"strings"
	"testing"

	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	domaintiles "github.com/here-xyz/tasked-step-engine/internal/domain/tiles"
)

func baseCacheConfig() domaintiles.Config {
	return domaintiles.Config{
		SpaceID:     "space-1",
		VersionRef:  domaintask.RangeVersionRef(10, 20),
		TargetLevel: 11,
		QuadType:    domaintask.HereQuad,
	}
}

func TestEquivalenceKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	cfg := baseCacheConfig()
	if equivalenceKey(cfg, true) != equivalenceKey(cfg, true) {
		t.Fatal("expected the same config to always hash to the same key")
	}
}

func TestEquivalenceKeyHasStablePrefix(t *testing.T) {
	t.Parallel()

	key := equivalenceKey(baseCacheConfig(), true)
	if !strings.HasPrefix(key, keyPrefix) {
		t.Fatalf("expected key to start with %q, got %q", keyPrefix, key)
	}
}

func TestEquivalenceKeyTreatsEmptyContextAsSuperWithoutExtension(t *testing.T) {
	t.Parallel()

	a := baseCacheConfig()
	a.Context = ""
	b := baseCacheConfig()
	b.Context = domaintask.ContextSuper

	if equivalenceKey(a, false) != equivalenceKey(b, false) {
		t.Fatal("expected empty context and SUPER to hash identically without an extension")
	}
	if equivalenceKey(a, true) == equivalenceKey(b, true) {
		t.Fatal("expected empty context and SUPER to hash differently with an extension")
	}
}

func TestEquivalenceKeyDiffersOnSpaceID(t *testing.T) {
	t.Parallel()

	a := baseCacheConfig()
	b := baseCacheConfig()
	b.SpaceID = "space-2"

	if equivalenceKey(a, true) == equivalenceKey(b, true) {
		t.Fatal("expected different spaceId to produce different keys")
	}
}

func TestEquivalenceKeyDiffersOnSpatialFilter(t *testing.T) {
	t.Parallel()

	a := baseCacheConfig()
	b := baseCacheConfig()
	b.SpatialFilter = &domaintask.SpatialFilter{Radius: 5}

	if equivalenceKey(a, true) == equivalenceKey(b, true) {
		t.Fatal("expected adding a spatial filter to change the key")
	}
}

func TestEquivalenceKeyDiffersOnTargetLevelAndQuadType(t *testing.T) {
	t.Parallel()

	a := baseCacheConfig()

	level := baseCacheConfig()
	level.TargetLevel = 5
	if equivalenceKey(a, true) == equivalenceKey(level, true) {
		t.Fatal("expected different target level to produce different keys")
	}

	quad := baseCacheConfig()
	quad.QuadType = domaintask.MercatorQuad
	if equivalenceKey(a, true) == equivalenceKey(quad, true) {
		t.Fatal("expected different quad type to produce different keys")
	}
}
