package camera

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	name string
	args []string
}

func TestRPiCam_CaptureArgs(t *testing.T) {
	var runs []recordedRun
	cam := NewRPiCam("rpicam-still", func(name string, args ...string) ([]byte, error) {
		runs = append(runs, recordedRun{name, args})
		return nil, nil
	})

	require.NoError(t, cam.Apply(Settings{
		WidthPx: 1280, HeightPx: 970,
		Exposure: 500 * time.Millisecond, AnalogueGain: 1, LensPosition: 2,
	}))
	require.NoError(t, cam.Start())
	require.NoError(t, cam.CaptureFile("/tmp/FOCUS.jpg"))

	require.Len(t, runs, 1)
	assert.Equal(t, "rpicam-still", runs[0].name)
	assert.Equal(t, []string{
		"--nopreview", "--immediate", "--buffer-count", "1",
		"--width", "1280", "--height", "970",
		"--gain", "1",
		"--autofocus-mode", "manual", "--lens-position", "2",
		"--shutter", "500000",
		"-o", "/tmp/FOCUS.jpg",
	}, runs[0].args)
}

func TestRPiCam_AutoExposureOmitsShutter(t *testing.T) {
	var args []string
	cam := NewRPiCam("rpicam-still", func(_ string, a ...string) ([]byte, error) {
		args = a
		return nil, nil
	})
	require.NoError(t, cam.Apply(Settings{WidthPx: 10, HeightPx: 10, AutoExposure: true, Exposure: time.Second}))
	require.NoError(t, cam.Start())
	require.NoError(t, cam.CaptureFile("x.jpg"))
	assert.NotContains(t, args, "--shutter")
}

func TestRPiCam_NotStarted(t *testing.T) {
	cam := NewRPiCam("rpicam-still", func(string, ...string) ([]byte, error) {
		t.Fatal("must not run")
		return nil, nil
	})
	require.NoError(t, cam.Apply(Settings{WidthPx: 10, HeightPx: 10}))
	assert.Error(t, cam.CaptureFile("x.jpg"))
}

func TestRPiCam_CommandFailureIncludesOutput(t *testing.T) {
	boom := errors.New("exit status 1")
	cam := NewRPiCam("rpicam-still", func(string, ...string) ([]byte, error) {
		return []byte("ERROR: no cameras available\n"), boom
	})
	require.NoError(t, cam.Apply(Settings{WidthPx: 10, HeightPx: 10}))
	require.NoError(t, cam.Start())

	err := cam.CaptureFile("x.jpg")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "no cameras available")
}

func TestRPiCam_ApplyRejectsBadResolution(t *testing.T) {
	cam := NewRPiCam("rpicam-still", nil)
	assert.Error(t, cam.Apply(Settings{}))
}

func TestCameraImplementations(t *testing.T) {
	var _ Camera = &RPiCam{}
	var _ Camera = &Mock{}
}
