// Package geometry lays out stage positions for tile scans and dataset spirals.
package geometry

import (
	"errors"
	"fmt"
)

// ErrInvalidTile is returned for a tile index outside 1..9.
var ErrInvalidTile = errors.New("geometry: tile index must be 1..9")

// TileCount is the number of tiles in a scan grid.
const TileCount = 9

// CaptureOrder visits the center tile first, then the ring clockwise from
// the top-left corner. Tiles are numbered row-major:
//
//	1 2 3
//	4 5 6
//	7 8 9
var CaptureOrder = [TileCount]int{5, 1, 2, 3, 6, 9, 8, 7, 4}

// Delta is a relative stage move in motor steps.
type Delta struct {
	DX, DY int
}

// Add returns d+o.
func (d Delta) Add(o Delta) Delta { return Delta{d.DX + o.DX, d.DY + o.DY} }

// Sub returns d-o.
func (d Delta) Sub(o Delta) Delta { return Delta{d.DX - o.DX, d.DY - o.DY} }

// Neg returns -d.
func (d Delta) Neg() Delta { return Delta{-d.DX, -d.DY} }

// TileLayout is the 3×3 grid of stage positions around the scan center.
// StepX and StepY are the motor steps between neighboring tiles.
//
// Positive x moves the field of view toward column 0 and positive y
// toward row 2, so tile 1 sits at (+StepX, -StepY).
type TileLayout struct {
	StepX int
	StepY int
}

// RowCol returns the 0-based row and column of a tile.
func RowCol(index int) (row, col int, err error) {
	if index < 1 || index > TileCount {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidTile, index)
	}
	return (index - 1) / 3, (index - 1) % 3, nil
}

// Offset returns the position of a tile relative to the center tile.
func (l TileLayout) Offset(index int) (Delta, error) {
	row, col, err := RowCol(index)
	if err != nil {
		return Delta{}, err
	}
	return Delta{DX: (1 - col) * l.StepX, DY: (row - 1) * l.StepY}, nil
}

// Visit is one stop of a grid scan: the move from the previous tile, then
// the tile to capture.
type Visit struct {
	Tile int
	Move Delta
}

// Route returns the visits of a scan that starts on the center tile, in
// CaptureOrder, and the final move back to the center.
func (l TileLayout) Route() (visits []Visit, back Delta) {
	var at Delta
	for _, tile := range CaptureOrder {
		off, _ := l.Offset(tile)
		visits = append(visits, Visit{Tile: tile, Move: off.Sub(at)})
		at = off
	}
	return visits, at.Neg()
}
