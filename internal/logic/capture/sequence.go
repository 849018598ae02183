// Package capture runs the stage/camera sequences that produce image
// sets: the 3×3 tile scan and the dataset spiral.
package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/hw/camera"
	"github.com/cjeanneret/autoscope/internal/logic/geometry"
	"github.com/cjeanneret/autoscope/internal/logic/motion"
	"github.com/cjeanneret/autoscope/internal/timeutil"
)

// Stage is the part of the motion controller a sequence drives.
type Stage interface {
	Position() motion.Position
	MoveXY(ctx context.Context, dx, dy int) error
}

// Imager is the part of camera.Source a sequence drives.
type Imager interface {
	Start() error
	Stop() error
	Capture(path string, overwrite camera.Overwrite) error
}

// Tile is one captured cell of a scan. CellCount is nil until the
// classifier has reported.
type Tile struct {
	Index     int
	Path      string
	CellCount *int
}

// ScanResult holds the nine tiles of one scan, in index order 1..9.
type ScanResult struct {
	Origin motion.Position
	Tiles  []Tile
}

// Paths returns the tile image paths in index order.
func (r ScanResult) Paths() []string {
	paths := make([]string, len(r.Tiles))
	for i, t := range r.Tiles {
		paths[i] = t.Path
	}
	return paths
}

// Params configures the sequences.
type Params struct {
	Layout      geometry.TileLayout
	ScratchDir  string        // tile images, replaced on every scan
	Settle      time.Duration // wait after each move before capturing
	SpiralRings int           // dataset spiral size
}

// Sequence contains the multi-step capture logic.
type Sequence struct {
	stage Stage
	img   Imager
	p     Params
}

func NewSequence(stage Stage, img Imager, p Params) *Sequence {
	return &Sequence{stage: stage, img: img, p: p}
}

// RunGridScan captures the nine tiles around the current position and
// returns to it. A motion failure aborts at once; a capture failure still
// tries to move back to the origin and reports both errors.
func (s *Sequence) RunGridScan(ctx context.Context) (res ScanResult, err error) {
	debug.Section("Grid scan")
	res.Origin = s.stage.Position()

	if err := s.img.Start(); err != nil {
		return res, fmt.Errorf("start camera: %w", err)
	}
	defer func() {
		if stopErr := s.img.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop camera: %w", stopErr))
		}
	}()

	paths := make(map[int]string, geometry.TileCount)
	visits, back := s.p.Layout.Route()
	for i, v := range visits {
		debug.Step(i+1, fmt.Sprintf("tile %d", v.Tile))
		if err := s.move(ctx, v.Move); err != nil {
			return res, fmt.Errorf("move to tile %d: %w", v.Tile, err)
		}
		if err := timeutil.Sleep(ctx, s.p.Settle); err != nil {
			return res, err
		}
		path := s.tilePath(v.Tile)
		if err := s.img.Capture(path, camera.Replace); err != nil {
			err = fmt.Errorf("capture tile %d: %w", v.Tile, err)
			return res, errors.Join(err, s.returnTo(ctx, res.Origin))
		}
		paths[v.Tile] = path
	}

	if err := s.move(ctx, back); err != nil {
		return res, fmt.Errorf("return to center: %w", err)
	}
	if pos := s.stage.Position(); pos != res.Origin {
		return res, fmt.Errorf("grid scan ended at %+v, started at %+v", pos, res.Origin)
	}

	for i := 1; i <= geometry.TileCount; i++ {
		res.Tiles = append(res.Tiles, Tile{Index: i, Path: paths[i]})
	}
	debug.Live("Grid scan complete")
	return res, nil
}

// CollectDataset captures a square spiral of unit stage steps into
// dir/1.jpg … dir/N.jpg, then returns to the starting position. Existing
// files are only replaced when overwrite allows it.
func (s *Sequence) CollectDataset(ctx context.Context, dir string, overwrite camera.Overwrite) (paths []string, err error) {
	debug.Section("Dataset collection")
	origin := s.stage.Position()

	if err := s.img.Start(); err != nil {
		return nil, fmt.Errorf("start camera: %w", err)
	}
	defer func() {
		if stopErr := s.img.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop camera: %w", stopErr))
		}
	}()

	shoot := func() error {
		path := filepath.Join(dir, strconv.Itoa(len(paths)+1)+".jpg")
		if err := s.img.Capture(path, overwrite); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}

	if err := shoot(); err != nil {
		return paths, err
	}
	for _, d := range geometry.SpiralPath(s.p.SpiralRings) {
		if err := s.move(ctx, d); err != nil {
			return paths, err
		}
		if err := timeutil.Sleep(ctx, s.p.Settle); err != nil {
			return paths, err
		}
		if err := shoot(); err != nil {
			return paths, errors.Join(err, s.returnTo(ctx, origin))
		}
	}

	if err := s.returnTo(ctx, origin); err != nil {
		return paths, err
	}
	debug.Info("Data collection complete: %d images in %s", len(paths), dir)
	return paths, nil
}

func (s *Sequence) tilePath(tile int) string {
	return filepath.Join(s.p.ScratchDir, strconv.Itoa(tile)+".jpg")
}

func (s *Sequence) move(ctx context.Context, d geometry.Delta) error {
	if d == (geometry.Delta{}) {
		return nil
	}
	return s.stage.MoveXY(ctx, d.DX, d.DY)
}

func (s *Sequence) returnTo(ctx context.Context, origin motion.Position) error {
	pos := s.stage.Position()
	if err := s.move(ctx, geometry.Delta{DX: origin.X - pos.X, DY: origin.Y - pos.Y}); err != nil {
		return fmt.Errorf("return to origin: %w", err)
	}
	return nil
}
