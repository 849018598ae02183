package zoom

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/autoscope/internal/logic/focus"
	"github.com/cjeanneret/autoscope/internal/optics"
)

// recorder logs every device action in order.
type recorder struct {
	events  []string
	lensErr error
}

func (r *recorder) Configure(_ context.Context, level optics.Level) error {
	r.events = append(r.events, "configure "+level.String())
	return nil
}

func (r *recorder) Run(_ context.Context, sweep optics.Sweep) (focus.Result, error) {
	dir := "+"
	if sweep.Toward == optics.Negative {
		dir = "-"
	}
	r.events = append(r.events, "focus "+dir+strconv.Itoa(sweep.Bound))
	return focus.Result{Best: focus.Sample{Z: sweep.Bound}}, nil
}

func (r *recorder) MoveLens(_ context.Context, steps int) error {
	if r.lensErr != nil {
		return r.lensErr
	}
	r.events = append(r.events, "lens "+strconv.Itoa(steps))
	return nil
}

var profiles = optics.Profiles{
	optics.Low:  {Sweep: optics.Sweep{Toward: optics.Positive, Bound: 50}},
	optics.Mid:  {Sweep: optics.Sweep{Toward: optics.Positive, Bound: 50}},
	optics.High: {Sweep: optics.Sweep{Toward: optics.Negative, Bound: 35}},
}

func TestSequencer_FullProgression(t *testing.T) {
	rec := &recorder{}
	seq, err := NewSequencer(rec, rec, rec, profiles, optics.Negative, optics.Low)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = seq.Begin(ctx)
	require.NoError(t, err)
	_, err = seq.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, optics.Mid, seq.Level())
	res, err := seq.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, optics.High, seq.Level())
	assert.Equal(t, 35, res.Best.Z)

	assert.Equal(t, []string{
		"configure 4x", "focus +50",
		"lens -1", "configure 10x", "focus +50",
		"lens -1", "configure 40x", "focus -35",
	}, rec.events)

	_, err = seq.Advance(ctx)
	assert.ErrorIs(t, err, ErrNoFurtherMagnification)
	assert.Equal(t, optics.High, seq.Level())
	assert.Len(t, rec.events, 8, "no lens command at the highest level")
}

func TestSequencer_StartAtMid(t *testing.T) {
	rec := &recorder{}
	seq, err := NewSequencer(rec, rec, rec, profiles, optics.Positive, optics.Mid)
	require.NoError(t, err)

	_, err = seq.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"lens 1", "configure 40x", "focus -35"}, rec.events)
}

func TestSequencer_LensFailureKeepsLevel(t *testing.T) {
	boom := errors.New("link timeout")
	rec := &recorder{lensErr: boom}
	seq, err := NewSequencer(rec, rec, rec, profiles, optics.Negative, optics.Low)
	require.NoError(t, err)

	_, err = seq.Advance(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, optics.Low, seq.Level())
	assert.Empty(t, rec.events)
}

func TestNewSequencer_Invalid(t *testing.T) {
	rec := &recorder{}
	_, err := NewSequencer(rec, rec, rec, profiles, optics.Negative, optics.Level(9))
	assert.ErrorIs(t, err, optics.ErrInvalidLevel)

	_, err = NewSequencer(rec, rec, rec, profiles, optics.Direction(0), optics.Low)
	assert.Error(t, err)

	partial := optics.Profiles{optics.Low: profiles[optics.Low]}
	seq, err := NewSequencer(rec, rec, rec, partial, optics.Negative, optics.Low)
	require.NoError(t, err)
	_, err = seq.Advance(context.Background())
	assert.ErrorIs(t, err, optics.ErrInvalidLevel)
	assert.Empty(t, rec.events, "nothing moves toward an unconfigured level")
}
