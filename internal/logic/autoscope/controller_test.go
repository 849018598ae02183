package autoscope

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/autoscope/internal/classifier"
	"github.com/cjeanneret/autoscope/internal/hw/camera"
	"github.com/cjeanneret/autoscope/internal/hw/motorlink"
	"github.com/cjeanneret/autoscope/internal/logic/geometry"
	"github.com/cjeanneret/autoscope/internal/logic/motion"
	"github.com/cjeanneret/autoscope/internal/optics"
)

// fakeClassifier answers every batch with the same counts.
type fakeClassifier struct {
	counts    classifier.Counts
	err       error
	batches   [][]string
	discarded []classifier.Token
}

func (f *fakeClassifier) Submit(_ context.Context, tiles []string) (classifier.Token, error) {
	f.batches = append(f.batches, tiles)
	return classifier.Token("batch"), nil
}

func (f *fakeClassifier) Await(context.Context, classifier.Token, time.Duration) (classifier.Counts, error) {
	return f.counts, f.err
}

func (f *fakeClassifier) Discard(tok classifier.Token) error {
	f.discarded = append(f.discarded, tok)
	return nil
}

var testProfiles = optics.Profiles{
	optics.Low:  {Exposure: 100 * time.Millisecond, LensPosition: 2, Sweep: optics.Sweep{Toward: optics.Positive, Bound: 2}},
	optics.Mid:  {Exposure: 500 * time.Millisecond, LensPosition: 2, Sweep: optics.Sweep{Toward: optics.Positive, Bound: 2}},
	optics.High: {Exposure: 3 * time.Second, LensPosition: 2, Sweep: optics.Sweep{Toward: optics.Negative, Bound: -2}},
}

type rig struct {
	ctrl *Controller
	port *motorlink.MockPort
	cam  *camera.Mock
	cls  *fakeClassifier
	dir  string
}

func newRig(t *testing.T, start optics.Level) *rig {
	t.Helper()
	port, opener := motorlink.NewMockPort()
	link := motorlink.NewLink("mock", motorlink.PortOptions{}, motorlink.Config{}, opener)
	cam := camera.NewMock(nil)
	src := camera.NewSource(cam, camera.Settings{WidthPx: 32, HeightPx: 24, AnalogueGain: 1}, testProfiles, 0, nil)
	cls := &fakeClassifier{counts: countsOf(12, 9, 15, 9, 20, 7, 15, 11, 9)}
	dir := t.TempDir()

	ctrl, err := New(link, src, cls, Options{
		Start:         start,
		Profiles:      testProfiles,
		LensDirection: optics.Negative,
		Layout:        geometry.TileLayout{StepX: 2, StepY: 1},
		ScratchDir:    filepath.Join(dir, "TEMP"),
		DataDir:       filepath.Join(dir, "DATA"),
		SpiralRings:   2,
	})
	require.NoError(t, err)
	return &rig{ctrl: ctrl, port: port, cam: cam, cls: cls, dir: dir}
}

func countCommands(cmds []string, want string) int {
	n := 0
	for _, c := range cmds {
		if c == want {
			n++
		}
	}
	return n
}

func TestController_Lifecycle(t *testing.T) {
	r := newRig(t, optics.Low)
	ctx := context.Background()

	_, err := r.ctrl.Run(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, r.ctrl.Move(ctx, motorlink.AxisX, 1), ErrNotInitialized)
	_, err = r.ctrl.Capture("a.jpg", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, r.ctrl.Initialize(ctx))
	assert.ErrorIs(t, r.ctrl.Initialize(ctx), ErrAlreadyInitialized)
	for _, d := range []string{"TEMP", "DATA"} {
		info, err := os.Stat(filepath.Join(r.dir, d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	require.NoError(t, r.ctrl.Shutdown())
	require.NoError(t, r.ctrl.Shutdown(), "second shutdown is a no-op")
}

func TestController_RunFullProgression(t *testing.T) {
	r := newRig(t, optics.Low)
	ctx := context.Background()
	require.NoError(t, r.ctrl.Initialize(ctx))

	rep, err := r.ctrl.Run(ctx)
	require.NoError(t, err)

	require.Len(t, rep.Levels, 3)
	assert.Equal(t, optics.Low, rep.Levels[0].Level)
	assert.Equal(t, optics.Mid, rep.Levels[1].Level)
	assert.Equal(t, optics.High, rep.Levels[2].Level)
	assert.Equal(t, optics.High, r.ctrl.Level())

	for _, lr := range rep.Levels[:2] {
		assert.Equal(t, 8, lr.Median)
		require.NotNil(t, lr.Scan)
		require.Len(t, lr.Scan.Tiles, 9)
		require.NotNil(t, lr.Scan.Tiles[4].CellCount)
		assert.Equal(t, 20, *lr.Scan.Tiles[4].CellCount)
	}
	assert.Nil(t, rep.Levels[2].Scan)
	assert.Len(t, r.cls.batches, 2)
	assert.Len(t, r.cls.discarded, 2)

	// The test card is uniform over z, so every sweep returns to its
	// first sample and only the two recenters on tile 8 (+y) remain.
	assert.Equal(t, motion.Position{X: 0, Y: 2, Z: 0}, rep.Final)
	assert.Equal(t, rep.Final, r.ctrl.Position())

	cmds := r.port.Commands()
	assert.Equal(t, 2, countCommands(cmds, "l -"), "one carousel step per transition")
	assert.Zero(t, countCommands(cmds, "l +"))

	applied := r.cam.Applied()
	require.NotEmpty(t, applied)
	assert.Equal(t, 3*time.Second, applied[len(applied)-1].Exposure)

	require.NoError(t, r.ctrl.Shutdown())
}

func TestController_RunFromMid(t *testing.T) {
	r := newRig(t, optics.Mid)
	ctx := context.Background()
	require.NoError(t, r.ctrl.Initialize(ctx))

	rep, err := r.ctrl.Run(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Levels, 2)
	assert.Equal(t, optics.Mid, rep.Levels[0].Level)
	assert.Equal(t, 1, countCommands(r.port.Commands(), "l -"))
}

func TestController_RunClassifierFailure(t *testing.T) {
	r := newRig(t, optics.Low)
	r.cls.err = classifier.ErrProcessingTimeout
	ctx := context.Background()
	require.NoError(t, r.ctrl.Initialize(ctx))

	rep, err := r.ctrl.Run(ctx)
	assert.ErrorIs(t, err, classifier.ErrProcessingTimeout)
	require.Len(t, rep.Levels, 1)
	assert.NotNil(t, rep.Levels[0].Scan)
	assert.Equal(t, optics.Low, r.ctrl.Level(), "no zoom without counts")
	assert.Zero(t, countCommands(r.port.Commands(), "l -"))
	assert.Empty(t, r.cls.discarded)
}

func TestController_ManualOperations(t *testing.T) {
	r := newRig(t, optics.Low)
	ctx := context.Background()
	require.NoError(t, r.ctrl.Initialize(ctx))

	require.NoError(t, r.ctrl.Move(ctx, motorlink.AxisX, 3))
	require.NoError(t, r.ctrl.Move(ctx, motorlink.AxisZ, -2))
	assert.Equal(t, motion.Position{X: 3, Z: -2}, r.ctrl.Position())
	assert.Error(t, r.ctrl.Move(ctx, motorlink.Axis("q"), 1))

	path, err := r.ctrl.Capture("slide.jpg", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.dir, "DATA", "slide.jpg"), path)

	_, err = r.ctrl.Capture("slide.jpg", nil)
	assert.ErrorIs(t, err, camera.ErrOverwriteConflict)
	_, err = r.ctrl.Capture("slide.jpg", camera.Replace)
	assert.NoError(t, err)

	_, err = r.ctrl.Capture("../escape.jpg", camera.Replace)
	assert.ErrorIs(t, err, ErrInvalidName)

	paths, err := r.ctrl.CollectDataset(ctx, "cellA", camera.Reject)
	require.NoError(t, err)
	assert.Len(t, paths, 7)
	assert.Equal(t, motion.Position{X: 3, Z: -2}, r.ctrl.Position())

	_, err = r.ctrl.CollectDataset(ctx, "/abs", camera.Reject)
	assert.ErrorIs(t, err, ErrInvalidName)
}

type failingLink struct{ closed bool }

func (l *failingLink) Open() error  { return nil }
func (l *failingLink) Close() error { l.closed = true; return nil }
func (l *failingLink) Move(context.Context, motorlink.Axis, motorlink.Direction, int) (int, error) {
	return 0, errors.New("unused")
}

type brokenCamera struct{ camera.Mock }

func (b *brokenCamera) Apply(camera.Settings) error { return errors.New("no camera") }

func TestController_InitializeClosesLinkOnCameraFailure(t *testing.T) {
	link := &failingLink{}
	src := camera.NewSource(&brokenCamera{}, camera.Settings{}, testProfiles, 0, nil)
	ctrl, err := New(link, src, &fakeClassifier{}, Options{
		Profiles:      testProfiles,
		LensDirection: optics.Negative,
		ScratchDir:    filepath.Join(t.TempDir(), "TEMP"),
		DataDir:       filepath.Join(t.TempDir(), "DATA"),
	})
	require.NoError(t, err)

	assert.Error(t, ctrl.Initialize(context.Background()))
	assert.True(t, link.closed)
	_, err = ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestController_ManualLensMoveRejected(t *testing.T) {
	r := newRig(t, optics.Low)
	ctx := context.Background()
	require.NoError(t, r.ctrl.Initialize(ctx))

	assert.ErrorIs(t, r.ctrl.Move(ctx, motorlink.AxisLens, -1), ErrManualLensMove)
	assert.Zero(t, countCommands(r.port.Commands(), "l -"), "carousel untouched")
	assert.Equal(t, optics.Low, r.ctrl.Level())

	// the zoom sequence still walks every level exactly once
	rep, err := r.ctrl.Run(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Levels, 3)
	assert.Equal(t, 2, countCommands(r.port.Commands(), "l -"))
}
