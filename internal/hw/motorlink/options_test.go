package motorlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_NormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, opts)
}

func TestPortOptions_NormalizeParity(t *testing.T) {
	for in, want := range map[string]string{"none": "N", "even": "E", " o ": "O", "e": "E"} {
		opts, err := PortOptions{Parity: in}.Normalize()
		require.NoError(t, err, in)
		assert.Equal(t, want, opts.Parity, in)
	}
}

func TestPortOptions_NormalizeRejects(t *testing.T) {
	cases := []PortOptions{
		{DataBits: 9},
		{DataBits: 4},
		{StopBits: 3},
		{Parity: "mark"},
	}
	for _, tc := range cases {
		_, err := tc.Normalize()
		assert.Error(t, err, "%+v", tc)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 115200, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{DataBits: 12}.SerialMode()
	assert.Error(t, err)
}
