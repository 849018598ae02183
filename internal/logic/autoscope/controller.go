// Package autoscope sequences a whole slide run: focus at the starting
// magnification, then scan, count, recenter on the median tile and zoom
// in until the highest objective is focused.
package autoscope

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/autoscope/internal/classifier"
	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/hw/camera"
	"github.com/cjeanneret/autoscope/internal/hw/motorlink"
	"github.com/cjeanneret/autoscope/internal/logic/capture"
	"github.com/cjeanneret/autoscope/internal/logic/focus"
	"github.com/cjeanneret/autoscope/internal/logic/geometry"
	"github.com/cjeanneret/autoscope/internal/logic/motion"
	"github.com/cjeanneret/autoscope/internal/logic/sharpness"
	"github.com/cjeanneret/autoscope/internal/logic/zoom"
	"github.com/cjeanneret/autoscope/internal/optics"
)

var (
	// ErrNotInitialized is returned by device operations before Initialize.
	ErrNotInitialized = errors.New("autoscope: not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("autoscope: already initialized")

	// ErrInvalidName is returned for a capture or dataset name that is not
	// a plain relative path inside the data directory.
	ErrInvalidName = errors.New("autoscope: invalid name")

	// ErrManualLensMove is returned by Move for the lens axis. The carousel
	// only turns through the zoom sequence, which tracks the objective.
	ErrManualLensMove = errors.New("autoscope: lens carousel is driven by the zoom sequence")
)

// Link is the motor link lifecycle plus moves.
type Link interface {
	motion.Mover
	Open() error
	Close() error
}

// Options holds the run parameters.
type Options struct {
	Start             optics.Level
	Profiles          optics.Profiles
	LensDirection     optics.Direction
	Layout            geometry.TileLayout
	ScratchDir        string
	DataDir           string
	FrameName         string        // autofocus frame inside ScratchDir
	GridSettle        time.Duration // wait before each tile or dataset capture
	SpiralRings       int
	ClassifierTimeout time.Duration
}

// LevelReport is what happened at one magnification.
type LevelReport struct {
	Level  optics.Level
	Focus  focus.Result
	Scan   *capture.ScanResult // nil at the final level
	Counts classifier.Counts
	Median int // chosen tile, 0 at the final level
}

// Report summarizes a run.
type Report struct {
	Levels []LevelReport
	Final  motion.Position
}

// Controller owns the devices and every sequencing component.
type Controller struct {
	link   Link
	source *camera.Source
	cls    classifier.Classifier
	opts   Options

	motion *motion.Controller
	seq    *capture.Sequence
	zoom   *zoom.Sequencer

	initialized bool
}

// New wires the controller. Nothing touches the hardware until Initialize.
func New(link Link, source *camera.Source, cls classifier.Classifier, opts Options) (*Controller, error) {
	if opts.FrameName == "" {
		opts.FrameName = "FOCUS.jpg"
	}
	mc := motion.NewController(link)
	eng := focus.NewEngine(source, sharpness.Tenengrad{}, mc, filepath.Join(opts.ScratchDir, opts.FrameName))
	zs, err := zoom.NewSequencer(source, eng, mc, opts.Profiles, opts.LensDirection, opts.Start)
	if err != nil {
		return nil, err
	}
	seq := capture.NewSequence(mc, source, capture.Params{
		Layout:      opts.Layout,
		ScratchDir:  opts.ScratchDir,
		Settle:      opts.GridSettle,
		SpiralRings: opts.SpiralRings,
	})
	return &Controller{
		link:   link,
		source: source,
		cls:    cls,
		opts:   opts,
		motion: mc,
		seq:    seq,
		zoom:   zs,
	}, nil
}

// Initialize opens the motor link and the camera and creates the scratch
// and data directories.
func (c *Controller) Initialize(ctx context.Context) error {
	if c.initialized {
		return ErrAlreadyInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, dir := range []string{c.opts.ScratchDir, c.opts.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := c.link.Open(); err != nil {
		return fmt.Errorf("open motor link: %w", err)
	}
	if err := c.source.Open(); err != nil {
		return errors.Join(fmt.Errorf("open camera: %w", err), c.link.Close())
	}
	c.initialized = true
	debug.Info("Autoscope initialized at %s", c.zoom.Level())
	return nil
}

// Level returns the current magnification.
func (c *Controller) Level() optics.Level {
	return c.zoom.Level()
}

// Position returns the tracked stage position.
func (c *Controller) Position() motion.Position {
	return c.motion.Position()
}

// Run focuses at the starting level, then scans, counts, recenters and
// zooms in until the highest level is focused.
func (c *Controller) Run(ctx context.Context) (Report, error) {
	var rep Report
	if !c.initialized {
		return rep, ErrNotInitialized
	}

	res, err := c.zoom.Begin(ctx)
	if err != nil {
		return rep, err
	}
	current := LevelReport{Level: c.zoom.Level(), Focus: res}

	for c.zoom.Level() != optics.High {
		if err := c.survey(ctx, &current); err != nil {
			rep.Levels = append(rep.Levels, current)
			return rep, err
		}
		rep.Levels = append(rep.Levels, current)

		res, err := c.zoom.Advance(ctx)
		if err != nil {
			return rep, err
		}
		current = LevelReport{Level: c.zoom.Level(), Focus: res}
	}

	rep.Levels = append(rep.Levels, current)
	rep.Final = c.motion.Position()
	debug.Summary(fmt.Sprintf("Run complete at %s, z=%d", c.zoom.Level(), rep.Final.Z))
	return rep, nil
}

// survey scans the tiles around the current position, counts them and
// recenters on the median tile.
func (c *Controller) survey(ctx context.Context, lr *LevelReport) error {
	scan, err := c.seq.RunGridScan(ctx)
	if err != nil {
		return fmt.Errorf("grid scan at %s: %w", lr.Level, err)
	}
	lr.Scan = &scan

	counts, err := c.count(ctx, scan)
	if err != nil {
		return err
	}
	lr.Counts = counts
	for i := range scan.Tiles {
		n := counts[scan.Tiles[i].Index]
		scan.Tiles[i].CellCount = &n
	}

	median, err := SelectMedianTile(counts)
	if err != nil {
		return err
	}
	lr.Median = median
	debug.Info("Median tile at %s: %d (%d cells)", lr.Level, median, counts[median])

	off, err := c.opts.Layout.Offset(median)
	if err != nil {
		return err
	}
	if err := c.motion.MoveXY(ctx, off.DX, off.DY); err != nil {
		return fmt.Errorf("recenter on tile %d: %w", median, err)
	}
	return nil
}

func (c *Controller) count(ctx context.Context, scan capture.ScanResult) (classifier.Counts, error) {
	token, err := c.cls.Submit(ctx, scan.Paths())
	if err != nil {
		return nil, fmt.Errorf("submit tiles: %w", err)
	}
	counts, err := c.cls.Await(ctx, token, c.opts.ClassifierTimeout)
	if d, ok := c.cls.(interface{ Discard(classifier.Token) error }); ok && err == nil {
		if derr := d.Discard(token); derr != nil {
			debug.Error(fmt.Errorf("discard batch %s: %w", token, derr))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("await counts: %w", err)
	}
	return counts, nil
}

// Move jogs the stage or focus by a signed number of steps. The lens axis
// is rejected with ErrManualLensMove.
func (c *Controller) Move(ctx context.Context, axis motorlink.Axis, steps int) error {
	if !c.initialized {
		return ErrNotInitialized
	}
	switch axis {
	case motorlink.AxisX:
		return c.motion.MoveX(ctx, steps)
	case motorlink.AxisY:
		return c.motion.MoveY(ctx, steps)
	case motorlink.AxisZ:
		return c.motion.MoveZ(ctx, steps)
	case motorlink.AxisLens:
		return ErrManualLensMove
	}
	return fmt.Errorf("autoscope: unknown axis %q", axis)
}

// Capture takes one frame into the data directory.
func (c *Controller) Capture(name string, overwrite camera.Overwrite) (path string, err error) {
	if !c.initialized {
		return "", ErrNotInitialized
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path = filepath.Join(c.opts.DataDir, name)

	if err := c.source.Start(); err != nil {
		return "", err
	}
	defer func() { err = errors.Join(err, c.source.Stop()) }()

	if err := c.source.Capture(path, overwrite); err != nil {
		return "", err
	}
	return path, nil
}

// CollectDataset captures the dataset spiral into the data directory
// under name.
func (c *Controller) CollectDataset(ctx context.Context, name string, overwrite camera.Overwrite) ([]string, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return c.seq.CollectDataset(ctx, filepath.Join(c.opts.DataDir, name), overwrite)
}

// Shutdown releases the camera and the motor link.
func (c *Controller) Shutdown() error {
	if !c.initialized {
		return nil
	}
	c.initialized = false
	err := errors.Join(c.source.Close(), c.link.Close())
	debug.Info("Autoscope shut down")
	return err
}
