// Package tiles holds the pure, client-side tile math a ChangedTiles
// export needs once it already has a tile id in hand: turning a tile id
// string back into a bounding box for the per-tile content query. The
// reverse direction -- which tiles a changed geometry covers -- is the
// opaque for_geometry/here_quad/mercator_quad stored-procedure contract
// from spec.md §6 and is never duplicated here.
package tiles

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// BBox is a WGS84 bounding box in degrees.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// TileID renders the (colX, rowY, level) triple the for_geometry stored
// procedure returns into the tile-id string format the chosen QuadType
// uses, mirroring the here_quad/mercator_quad function contract so local
// tests can exercise BoundingBox without a database.
func TileID(quadType domain.QuadType, colX, rowY, level int) (string, error) {
	if level < 0 || level > 30 {
		return "", fmt.Errorf("level %d out of range", level)
	}
	switch quadType {
	case domain.HereQuad:
		return encodeQuadkey(colX, rowY, level), nil
	case domain.MercatorQuad:
		return encodeQuadkey(colX, flipRow(rowY, level), level), nil
	default:
		return "", fmt.Errorf("unknown quad type %q", quadType)
	}
}

// BoundingBox decodes a tile id produced by TileID back into its WGS84
// bounding box, the client-side counterpart of HQuad(tileId).getBoundingBox()
// and WebMercatorTile.forQuadkey(tileId) in the original service.
func BoundingBox(quadType domain.QuadType, tileID string) (BBox, error) {
	colX, rowY, level, err := decodeQuadkey(tileID)
	if err != nil {
		return BBox{}, fmt.Errorf("decode tile id %q: %w", tileID, err)
	}

	switch quadType {
	case domain.HereQuad:
		return tileBBox(colX, rowY, level), nil
	case domain.MercatorQuad:
		return tileBBox(colX, flipRow(rowY, level), level), nil
	default:
		return BBox{}, fmt.Errorf("unknown quad type %q", quadType)
	}
}

func flipRow(rowY, level int) int {
	max := 1 << level
	return max - 1 - rowY
}

func encodeQuadkey(colX, rowY, level int) string {
	if level == 0 {
		return "0"
	}
	digits := make([]byte, level)
	for i := 0; i < level; i++ {
		shift := level - 1 - i
		digit := byte(((rowY>>shift)&1)<<1 | ((colX >> shift) & 1))
		digits[i] = '0' + digit
	}
	return string(digits)
}

func decodeQuadkey(tileID string) (colX, rowY, level int, err error) {
	tileID = strings.TrimSpace(tileID)
	if tileID == "" {
		return 0, 0, 0, fmt.Errorf("empty tile id")
	}
	if tileID == "0" {
		return 0, 0, 0, nil
	}
	level = len(tileID)
	for i := 0; i < level; i++ {
		c := tileID[i]
		if c < '0' || c > '3' {
			return 0, 0, 0, fmt.Errorf("invalid quadkey digit %q at position %d", c, i)
		}
		digit := int(c - '0')
		colX = colX<<1 | (digit & 1)
		rowY = rowY<<1 | (digit >> 1 & 1)
	}
	return colX, rowY, level, nil
}

// tileBBox computes the WGS84 bounding box of a Web-Mercator-style slippy
// tile (colX, rowY) at the given level.
func tileBBox(colX, rowY, level int) BBox {
	n := math.Exp2(float64(level))
	minLon := float64(colX)/n*360 - 180
	maxLon := float64(colX+1)/n*360 - 180
	maxLat := mercatorRowToLat(float64(rowY), n)
	minLat := mercatorRowToLat(float64(rowY+1), n)
	return BBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
}

func mercatorRowToLat(row, n float64) float64 {
	yFraction := math.Pi * (1 - 2*row/n)
	return math.Atan(math.Sinh(yFraction)) * 180 / math.Pi
}

// ParseLevel validates that s is a decimal integer in [0,maxLevel].
func ParseLevel(s string, maxLevel int) (int, error) {
	level, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid level %q: %w", s, err)
	}
	if level < 0 || level > maxLevel {
		return 0, fmt.Errorf("level %d out of range [0,%d]", level, maxLevel)
	}
	return level, nil
}
