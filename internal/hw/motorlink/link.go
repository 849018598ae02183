// Package motorlink speaks the line protocol of the stage/lens motor
// controller: one "<axis> <direction>\n" command per unit step, each
// answered by a "Done" line before the next is sent.
package motorlink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/timeutil"
)

var (
	// ErrNotInitialized is returned when the link is used before Open.
	ErrNotInitialized = errors.New("motorlink: not initialized")

	// ErrAlreadyOpen is returned by Open on an open link.
	ErrAlreadyOpen = errors.New("motorlink: already open")

	// ErrCommunicationTimeout is returned when a step is not acknowledged
	// within the retry budget.
	ErrCommunicationTimeout = errors.New("motorlink: communication timeout")

	// ErrInvalidSteps is returned for a non-positive step count.
	ErrInvalidSteps = errors.New("motorlink: step count must be positive")
)

const ackLine = "Done"

// Axis is a motor channel on the controller.
type Axis string

const (
	AxisX    Axis = "x"
	AxisY    Axis = "y"
	AxisZ    Axis = "z"
	AxisLens Axis = "l"
)

func (a Axis) valid() bool {
	switch a {
	case AxisX, AxisY, AxisZ, AxisLens:
		return true
	}
	return false
}

// Direction is the command direction token.
type Direction string

const (
	Plus  Direction = "+"
	Minus Direction = "-"
)

// Config holds the acknowledgment timing of the link.
type Config struct {
	ReadTimeout time.Duration // serial read timeout for one reply line
	RetryDelay  time.Duration // wait between writing a command and reading its reply
	MaxRetries  int           // retransmissions of one command before ErrCommunicationTimeout
}

// Link is the exclusive owner of the controller's serial port.
type Link struct {
	path    string
	opts    PortOptions
	cfg     Config
	open    Opener
	port    Port
	pending []byte
}

// NewLink creates a closed link. open defaults to OpenSerial.
func NewLink(path string, opts PortOptions, cfg Config, open Opener) *Link {
	if open == nil {
		open = OpenSerial
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Link{path: path, opts: opts, cfg: cfg, open: open}
}

// Open opens the port and discards anything the controller sent before.
func (l *Link) Open() error {
	if l.port != nil {
		return ErrAlreadyOpen
	}
	port, err := l.open(l.path, l.opts)
	if err != nil {
		return err
	}
	if l.cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return fmt.Errorf("set read timeout: %w", err)
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return fmt.Errorf("reset input buffer: %w", err)
	}
	l.port = port
	l.pending = nil
	debug.Info("Motor controller connected on %s", l.path)
	return nil
}

// IsOpen reports whether the link has been opened.
func (l *Link) IsOpen() bool {
	return l.port != nil
}

// Close closes the port.
func (l *Link) Close() error {
	if l.port == nil {
		return ErrNotInitialized
	}
	err := l.port.Close()
	l.port = nil
	l.pending = nil
	debug.Info("Motor controller disconnected")
	return err
}

// Move sends steps unit commands on axis and returns how many were
// acknowledged. On error, done is the number of steps the controller
// confirmed before the failing one.
func (l *Link) Move(ctx context.Context, axis Axis, dir Direction, steps int) (done int, err error) {
	if l.port == nil {
		return 0, ErrNotInitialized
	}
	if !axis.valid() {
		return 0, fmt.Errorf("motorlink: unknown axis %q", axis)
	}
	if dir != Plus && dir != Minus {
		return 0, fmt.Errorf("motorlink: unknown direction %q", dir)
	}
	if steps <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSteps, steps)
	}

	debug.Move(string(axis), steps, string(dir))
	for done < steps {
		if err := l.sendOne(ctx, axis, dir); err != nil {
			return done, fmt.Errorf("%s%s step %d/%d: %w", axis, dir, done+1, steps, err)
		}
		done++
	}
	return done, nil
}

// sendOne transmits one command and waits for its acknowledgment,
// retransmitting up to MaxRetries times.
func (l *Link) sendOne(ctx context.Context, axis Axis, dir Direction) error {
	cmd := string(axis) + " " + string(dir) + "\n"
	attempts := l.cfg.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			debug.Verbose("Resending %q (attempt %d/%d)", strings.TrimSpace(cmd), attempt, attempts)
		}
		if _, err := io.WriteString(l.port, cmd); err != nil {
			return fmt.Errorf("write command: %w", err)
		}
		debug.Serial("tx", cmd)

		if err := timeutil.Sleep(ctx, l.cfg.RetryDelay); err != nil {
			return err
		}

		line, err := l.readLine()
		if err != nil {
			return fmt.Errorf("read acknowledgment: %w", err)
		}
		debug.Serial("rx", line)
		if line == ackLine {
			return nil
		}
	}
	return fmt.Errorf("%w: %q not acknowledged after %d attempts", ErrCommunicationTimeout, strings.TrimSpace(cmd), attempts)
}

// readLine returns the next reply line without its terminator. A read
// timeout ends the line early; whatever partial text arrived is returned
// and dropped from the buffer.
func (l *Link) readLine() (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := string(l.pending[:i])
			l.pending = l.pending[i+1:]
			return strings.TrimRight(line, "\r\t "), nil
		}

		n, err := l.port.Read(buf)
		if n > 0 {
			l.pending = append(l.pending, buf[:n]...)
		}
		if err != nil {
			return "", err
		}
		if n == 0 {
			line := string(l.pending)
			l.pending = nil
			return strings.TrimRight(line, "\r\t "), nil
		}
	}
}
