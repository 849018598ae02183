package autoscope

import (
	"fmt"
	"sort"

	"github.com/cjeanneret/autoscope/internal/classifier"
)

// SelectMedianTile returns the tile with the median cell count, the fifth
// of nine when sorted by count. When several tiles share the median count
// the lowest tile index among them wins.
func SelectMedianTile(counts classifier.Counts) (int, error) {
	if len(counts) != classifier.TileCount {
		return 0, fmt.Errorf("%w: %d counts, want %d", classifier.ErrMalformedResponse, len(counts), classifier.TileCount)
	}
	tiles := make([]int, 0, len(counts))
	for tile := range counts {
		tiles = append(tiles, tile)
	}
	sort.Ints(tiles)
	sort.SliceStable(tiles, func(i, j int) bool {
		return counts[tiles[i]] < counts[tiles[j]]
	})

	median := counts[tiles[len(tiles)/2]]
	for _, tile := range tiles {
		if counts[tile] == median {
			return tile, nil
		}
	}
	return tiles[len(tiles)/2], nil
}
