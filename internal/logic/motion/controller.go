package motion

import (
	"context"

	"github.com/cjeanneret/autoscope/internal/hw/motorlink"
)

// Position is the stage and focus location in motor steps from the
// power-on origin. The lens carousel has no tracked position.
type Position struct {
	X, Y, Z int
}

// Mover is the motor link as seen by the controller.
type Mover interface {
	Move(ctx context.Context, axis motorlink.Axis, dir motorlink.Direction, steps int) (int, error)
}

// Controller tracks the stage position over a Mover. It sits between the
// sequencing logic (focus sweeps, grid scans, zoom changes) and the serial
// protocol, and is the only place Position changes.
type Controller struct {
	link Mover
	pos  Position
}

func NewController(link Mover) *Controller {
	return &Controller{link: link}
}

// Position returns the tracked position.
func (c *Controller) Position() Position {
	return c.pos
}

// MoveX moves the stage along x by a signed number of steps.
func (c *Controller) MoveX(ctx context.Context, steps int) error {
	return c.move(ctx, motorlink.AxisX, steps, &c.pos.X)
}

// MoveY moves the stage along y by a signed number of steps.
func (c *Controller) MoveY(ctx context.Context, steps int) error {
	return c.move(ctx, motorlink.AxisY, steps, &c.pos.Y)
}

// MoveZ moves the focus by a signed number of steps. +z lowers the stage.
func (c *Controller) MoveZ(ctx context.Context, steps int) error {
	return c.move(ctx, motorlink.AxisZ, steps, &c.pos.Z)
}

// MoveLens turns the carousel by a signed number of objective positions.
func (c *Controller) MoveLens(ctx context.Context, steps int) error {
	return c.move(ctx, motorlink.AxisLens, steps, nil)
}

// MoveXY moves x first, then y.
func (c *Controller) MoveXY(ctx context.Context, dx, dy int) error {
	if err := c.MoveX(ctx, dx); err != nil {
		return err
	}
	return c.MoveY(ctx, dy)
}

// move applies only the acknowledged steps to the tracked coordinate, so
// a failed move leaves the position where the hardware actually is.
func (c *Controller) move(ctx context.Context, axis motorlink.Axis, steps int, coord *int) error {
	if steps == 0 {
		return nil
	}
	dir, sign, n := motorlink.Plus, 1, steps
	if steps < 0 {
		dir, sign, n = motorlink.Minus, -1, -steps
	}
	done, err := c.link.Move(ctx, axis, dir, n)
	if coord != nil {
		*coord += sign * done
	}
	return err
}
