// Package lamp switches the sample illuminator, an LED driven high from a
// GPIO pin. The lamp only needs to be lit while the camera streams.
package lamp

import (
	"fmt"

	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/hw/gpio"
)

// Lamp is the illuminator on one output pin. Pin 0 means no lamp is
// fitted; On and Off are then no-ops.
type Lamp struct {
	gpio gpio.Driver
	pin  int
	lit  bool
}

// New configures pin as an output and leaves the lamp off.
func New(g gpio.Driver, pin int) (*Lamp, error) {
	l := &Lamp{gpio: g, pin: pin}
	if pin <= 0 {
		return l, nil
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup lamp pin %d: %w", pin, err)
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, fmt.Errorf("lamp pin %d: %w", pin, err)
	}
	return l, nil
}

// On lights the sample.
func (l *Lamp) On() error {
	return l.set(true)
}

// Off darkens the sample.
func (l *Lamp) Off() error {
	return l.set(false)
}

// Lit reports the last state written.
func (l *Lamp) Lit() bool {
	return l.lit
}

func (l *Lamp) set(on bool) error {
	if l.pin <= 0 {
		return nil
	}
	if err := l.gpio.WritePin(l.pin, gpio.Level(on)); err != nil {
		return fmt.Errorf("lamp pin %d: %w", l.pin, err)
	}
	l.lit = on
	debug.Verbose("Lamp %s", map[bool]string{true: "on", false: "off"}[on])
	return nil
}
