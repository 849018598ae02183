// Package focus finds the sharpest z position with a one-way sweep.
package focus

import (
	"context"
	"errors"
	"fmt"

	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/hw/camera"
	"github.com/cjeanneret/autoscope/internal/logic/motion"
	"github.com/cjeanneret/autoscope/internal/optics"
)

// Imager is the part of camera.Source the engine drives.
type Imager interface {
	Start() error
	Stop() error
	Capture(path string, overwrite camera.Overwrite) error
}

// Scorer rates the sharpness of a frame on disk. Higher is sharper.
type Scorer interface {
	Score(path string) (float64, error)
}

// Stage is the part of the motion controller the engine drives.
type Stage interface {
	Position() motion.Position
	MoveZ(ctx context.Context, steps int) error
}

// Sample is one sharpness measurement.
type Sample struct {
	Z     int
	Score float64
}

// Result describes one autofocus run.
type Result struct {
	Samples   []Sample // in sweep order
	Best      Sample   // first sample with the maximum score
	Confirmed Sample   // frame taken after returning to Best.Z
}

// Engine runs autofocus sweeps. Frames are written to framePath and
// replaced on every sample.
type Engine struct {
	img       Imager
	scorer    Scorer
	stage     Stage
	framePath string
}

func NewEngine(img Imager, scorer Scorer, stage Stage, framePath string) *Engine {
	return &Engine{img: img, scorer: scorer, stage: stage, framePath: framePath}
}

// Run sweeps z one step at a time from the current position until the
// sweep bound, scoring a frame at every position, then returns to the
// sharpest one. Ties keep the earliest sample. z never passes the bound.
func (e *Engine) Run(ctx context.Context, sweep optics.Sweep) (res Result, err error) {
	if sweep.Toward != optics.Positive && sweep.Toward != optics.Negative {
		return Result{}, fmt.Errorf("focus: invalid sweep direction %d", sweep.Toward)
	}

	if err := e.img.Start(); err != nil {
		return Result{}, fmt.Errorf("start camera: %w", err)
	}
	defer func() {
		if stopErr := e.img.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop camera: %w", stopErr))
		}
	}()

	debug.Verbose("Autofocus from z=%d toward %d", e.stage.Position().Z, sweep.Bound)

	sample, err := e.sample()
	if err != nil {
		return res, err
	}
	res.Samples = append(res.Samples, sample)
	res.Best = sample

	for !sweep.Reached(e.stage.Position().Z) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.stage.MoveZ(ctx, int(sweep.Toward)); err != nil {
			return res, fmt.Errorf("focus step: %w", err)
		}
		sample, err := e.sample()
		if err != nil {
			return res, err
		}
		res.Samples = append(res.Samples, sample)
		if sample.Score > res.Best.Score {
			res.Best = sample
		}
	}

	if back := res.Best.Z - e.stage.Position().Z; back != 0 {
		if err := e.stage.MoveZ(ctx, back); err != nil {
			return res, fmt.Errorf("return to best focus: %w", err)
		}
	}

	res.Confirmed, err = e.sample()
	if err != nil {
		return res, err
	}
	debug.Info("Best focus at z=%d (sharpness %.0f)", res.Best.Z, res.Best.Score)
	return res, nil
}

func (e *Engine) sample() (Sample, error) {
	z := e.stage.Position().Z
	if err := e.img.Capture(e.framePath, camera.Replace); err != nil {
		return Sample{}, fmt.Errorf("capture focus frame at z=%d: %w", z, err)
	}
	score, err := e.scorer.Score(e.framePath)
	if err != nil {
		return Sample{}, fmt.Errorf("score focus frame at z=%d: %w", z, err)
	}
	debug.Sample(z, score)
	return Sample{Z: z, Score: score}, nil
}
