package camera

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/cjeanneret/autoscope/internal/debug"
)

// Runner executes a command and returns its combined output.
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// RPiCam drives the Raspberry Pi camera through the rpicam-still tool,
// one process per frame.
type RPiCam struct {
	command  string
	run      Runner
	settings Settings
	started  bool
}

// NewRPiCam returns a camera that shells out to command (usually
// "rpicam-still"). run defaults to os/exec.
func NewRPiCam(command string, run Runner) *RPiCam {
	if run == nil {
		run = execRunner
	}
	return &RPiCam{command: command, run: run}
}

func (c *RPiCam) Apply(s Settings) error {
	if s.WidthPx <= 0 || s.HeightPx <= 0 {
		return fmt.Errorf("rpicam: invalid resolution %dx%d", s.WidthPx, s.HeightPx)
	}
	c.settings = s
	return nil
}

func (c *RPiCam) Start() error {
	c.started = true
	return nil
}

func (c *RPiCam) Stop() error {
	c.started = false
	return nil
}

func (c *RPiCam) CaptureFile(path string) error {
	if !c.started {
		return errors.New("rpicam: not started")
	}
	args := c.args(path)
	debug.Trace("exec %s %v", c.command, args)
	out, err := c.run(c.command, args...)
	if err != nil {
		return fmt.Errorf("rpicam: %s: %w: %s", c.command, err, bytes.TrimSpace(out))
	}
	return nil
}

func (c *RPiCam) Close() error {
	c.started = false
	return nil
}

func (c *RPiCam) args(path string) []string {
	s := c.settings
	args := []string{
		"--nopreview",
		"--immediate",
		"--buffer-count", "1",
		"--width", strconv.Itoa(s.WidthPx),
		"--height", strconv.Itoa(s.HeightPx),
		"--gain", strconv.FormatFloat(s.AnalogueGain, 'f', -1, 64),
		"--autofocus-mode", "manual",
		"--lens-position", strconv.FormatFloat(s.LensPosition, 'f', -1, 64),
	}
	if !s.AutoExposure {
		args = append(args, "--shutter", strconv.FormatInt(s.Exposure.Microseconds(), 10))
	}
	return append(args, "-o", path)
}
