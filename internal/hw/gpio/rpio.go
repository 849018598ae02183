package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/autoscope/internal/debug"
)

// RPiDriver drives the Raspberry Pi header through go-rpio.
type RPiDriver struct {
	pins map[int]rpio.Pin
}

// NewRPiDriver maps GPIO memory. Needs /dev/gpiomem or root.
func NewRPiDriver() (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped")
	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		return fmt.Errorf("pin %d written before setup", pin)
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

// Close drives every used pin low, returns it to input and unmaps GPIO memory.
func (r *RPiDriver) Close() error {
	for pin, p := range r.pins {
		debug.Verbose("Releasing pin %d", pin)
		p.Low()
		p.Input()
	}
	return rpio.Close()
}
