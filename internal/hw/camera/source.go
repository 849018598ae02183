// Package camera owns the still camera: the device capability, the
// rpicam-still and mock implementations, and Source, the lifecycle and
// per-magnification configuration around them.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/optics"
	"github.com/cjeanneret/autoscope/internal/timeutil"
)

var (
	// ErrNotInitialized is returned when the source is used before Open.
	ErrNotInitialized = errors.New("camera: not initialized")

	// ErrAlreadyInitialized is returned by Open on an open source.
	ErrAlreadyInitialized = errors.New("camera: already initialized")

	// ErrNotStarted is returned by Capture and Stop while not streaming.
	ErrNotStarted = errors.New("camera: not started")

	// ErrOverwriteConflict is returned when a capture would replace an
	// existing file and the caller did not allow it.
	ErrOverwriteConflict = errors.New("camera: destination exists")
)

// Overwrite decides whether an existing file at path may be replaced.
// A nil Overwrite rejects.
type Overwrite func(path string) bool

var (
	// Reject never replaces an existing file.
	Reject Overwrite = func(string) bool { return false }
	// Replace always does; meant for scratch frames.
	Replace Overwrite = func(string) bool { return true }
)

// Light is switched on while the source streams.
type Light interface {
	On() error
	Off() error
}

type state int

const (
	uninitialized state = iota
	ready
	started
)

// Source is the exclusive owner of a Camera.
type Source struct {
	cam      Camera
	base     Settings
	profiles optics.Profiles
	settle   time.Duration
	light    Light

	state      state
	level      optics.Level
	configured bool
}

// NewSource wraps cam. base carries resolution and gain; exposure and lens
// position come from profiles per level. light may be nil.
func NewSource(cam Camera, base Settings, profiles optics.Profiles, settle time.Duration, light Light) *Source {
	return &Source{cam: cam, base: base, profiles: profiles, settle: settle, light: light}
}

// Open applies the base settings with auto-exposure off.
func (s *Source) Open() error {
	if s.state != uninitialized {
		return ErrAlreadyInitialized
	}
	base := s.base
	base.AutoExposure = false
	if err := s.cam.Apply(base); err != nil {
		return fmt.Errorf("apply base settings: %w", err)
	}
	s.state = ready
	debug.Info("Camera initialised (%dx%d)", base.WidthPx, base.HeightPx)
	return nil
}

// Configure applies level's exposure and lens position, then waits for
// the sensor to settle. Frames taken before it returns are not trusted.
func (s *Source) Configure(ctx context.Context, level optics.Level) error {
	prof, err := s.profiles.Lookup(level)
	if err != nil {
		return err
	}
	if s.state == uninitialized {
		return ErrNotInitialized
	}

	settings := s.base
	settings.AutoExposure = false
	settings.Exposure = prof.Exposure
	settings.LensPosition = prof.LensPosition
	if err := s.cam.Apply(settings); err != nil {
		return fmt.Errorf("apply %s settings: %w", level, err)
	}
	s.level = level
	s.configured = true

	debug.Live("Setting exposure %v for %s, settling %v", prof.Exposure, level, s.settle)
	if err := timeutil.Sleep(ctx, s.settle); err != nil {
		return err
	}
	debug.Info("Exposure set for %s", level)
	return nil
}

// Level returns the last configured level.
func (s *Source) Level() (optics.Level, bool) {
	return s.level, s.configured
}

// Start begins streaming and lights the sample. Starting a started source
// is a no-op.
func (s *Source) Start() error {
	switch s.state {
	case uninitialized:
		return ErrNotInitialized
	case started:
		return nil
	}
	if err := s.cam.Start(); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}
	if s.light != nil {
		if err := s.light.On(); err != nil {
			return errors.Join(err, s.cam.Stop())
		}
	}
	s.state = started
	debug.Verbose("Camera started")
	return nil
}

// Stop ends streaming and turns the light off.
func (s *Source) Stop() error {
	switch s.state {
	case uninitialized:
		return ErrNotInitialized
	case ready:
		return ErrNotStarted
	}
	s.state = ready
	err := s.cam.Stop()
	if s.light != nil {
		err = errors.Join(err, s.light.Off())
	}
	if err != nil {
		return fmt.Errorf("stop camera: %w", err)
	}
	debug.Verbose("Camera stopped")
	return nil
}

// Capture writes one frame to path, creating parent directories. An
// existing file is only replaced when overwrite allows it; otherwise the
// capture is skipped with ErrOverwriteConflict.
func (s *Source) Capture(path string, overwrite Overwrite) error {
	switch s.state {
	case uninitialized:
		return ErrNotInitialized
	case ready:
		return ErrNotStarted
	}

	if _, err := os.Stat(path); err == nil {
		if overwrite == nil || !overwrite(path) {
			return fmt.Errorf("%w: %s", ErrOverwriteConflict, path)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := s.cam.CaptureFile(path); err != nil {
		return fmt.Errorf("capture %s: %w", path, err)
	}
	debug.Shot(path)
	return nil
}

// Close stops streaming if needed and releases the camera.
func (s *Source) Close() error {
	if s.state == uninitialized {
		return ErrNotInitialized
	}
	var err error
	if s.state == started {
		err = s.Stop()
	}
	s.state = uninitialized
	s.configured = false
	return errors.Join(err, s.cam.Close())
}
