// Package zoom steps the objective carousel through the magnification
// levels, reconfiguring the camera and refocusing after each change.
package zoom

import (
	"context"
	"errors"
	"fmt"

	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/logic/focus"
	"github.com/cjeanneret/autoscope/internal/optics"
)

// ErrNoFurtherMagnification is returned by Advance at the highest level.
var ErrNoFurtherMagnification = errors.New("zoom: no further magnification")

// Configurer applies a level's camera profile.
type Configurer interface {
	Configure(ctx context.Context, level optics.Level) error
}

// Focuser runs one autofocus sweep.
type Focuser interface {
	Run(ctx context.Context, sweep optics.Sweep) (focus.Result, error)
}

// Carousel turns the objective carousel.
type Carousel interface {
	MoveLens(ctx context.Context, steps int) error
}

// Sequencer owns the current magnification level.
type Sequencer struct {
	cam      Configurer
	focuser  Focuser
	carousel Carousel
	profiles optics.Profiles
	lensDir  optics.Direction
	level    optics.Level
}

// NewSequencer starts at level. lensDir is the carousel direction that
// brings the next objective into place.
func NewSequencer(cam Configurer, focuser Focuser, carousel Carousel, profiles optics.Profiles, lensDir optics.Direction, level optics.Level) (*Sequencer, error) {
	if _, err := profiles.Lookup(level); err != nil {
		return nil, err
	}
	if lensDir != optics.Positive && lensDir != optics.Negative {
		return nil, fmt.Errorf("zoom: invalid lens direction %d", lensDir)
	}
	return &Sequencer{
		cam:      cam,
		focuser:  focuser,
		carousel: carousel,
		profiles: profiles,
		lensDir:  lensDir,
		level:    level,
	}, nil
}

// Level returns the current level.
func (s *Sequencer) Level() optics.Level {
	return s.level
}

// Begin configures the camera for the current level and focuses.
func (s *Sequencer) Begin(ctx context.Context) (focus.Result, error) {
	debug.Summary("Magnification " + s.level.String())
	return s.settle(ctx)
}

// Advance turns the carousel one position, switches to the next level,
// reconfigures the camera and focuses. The level is updated once the
// carousel has moved, even if configuring or focusing then fails.
func (s *Sequencer) Advance(ctx context.Context) (focus.Result, error) {
	next, ok := s.level.Next()
	if !ok {
		return focus.Result{}, ErrNoFurtherMagnification
	}
	if _, err := s.profiles.Lookup(next); err != nil {
		return focus.Result{}, err
	}

	if err := s.carousel.MoveLens(ctx, int(s.lensDir)); err != nil {
		return focus.Result{}, fmt.Errorf("advance to %s: %w", next, err)
	}
	debug.Summary(fmt.Sprintf("Magnification %s -> %s", s.level, next))
	s.level = next
	return s.settle(ctx)
}

func (s *Sequencer) settle(ctx context.Context) (focus.Result, error) {
	prof, err := s.profiles.Lookup(s.level)
	if err != nil {
		return focus.Result{}, err
	}
	if err := s.cam.Configure(ctx, s.level); err != nil {
		return focus.Result{}, fmt.Errorf("configure camera for %s: %w", s.level, err)
	}
	res, err := s.focuser.Run(ctx, prof.Sweep)
	if err != nil {
		return res, fmt.Errorf("autofocus at %s: %w", s.level, err)
	}
	return res, nil
}
