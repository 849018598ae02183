// Package optics describes the microscope's magnification tiers and the
// per-tier camera and focus parameters bound to them.
package optics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidLevel is returned for a magnification level outside Low, Mid, High.
var ErrInvalidLevel = errors.New("optics: invalid magnification level")

// Level is a discrete objective on the lens carousel.
type Level int

const (
	Low  Level = iota // 4x objective
	Mid               // 10x objective
	High              // 40x objective
)

// Levels lists every level in carousel order.
var Levels = []Level{Low, Mid, High}

// Valid reports whether l is one of Low, Mid, High.
func (l Level) Valid() bool {
	return l >= Low && l <= High
}

func (l Level) String() string {
	switch l {
	case Low:
		return "4x"
	case Mid:
		return "10x"
	case High:
		return "40x"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Next returns the following level. ok is false at High.
func (l Level) Next() (next Level, ok bool) {
	if !l.Valid() || l == High {
		return l, false
	}
	return l + 1, true
}

// ParseLevel accepts "low"/"mid"/"high" or the objective names "4x"/"10x"/"40x".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "4x":
		return Low, nil
	case "mid", "10x":
		return Mid, nil
	case "high", "40x":
		return High, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// Direction is the sense of travel along a motor axis: +1 or -1.
type Direction int

const (
	Negative Direction = -1
	Positive Direction = 1
)

// Sweep is the focus search for one level: travel in Toward until z reaches Bound.
type Sweep struct {
	Toward Direction
	Bound  int
}

// Reached reports whether z is at or beyond the bound in the sweep direction.
func (s Sweep) Reached(z int) bool {
	if s.Toward == Positive {
		return z >= s.Bound
	}
	return z <= s.Bound
}

// Profile is the camera and focus configuration bound to a level.
type Profile struct {
	Exposure     time.Duration
	LensPosition float64
	Sweep        Sweep
}

// Profiles maps each level to its profile.
type Profiles map[Level]Profile

// Lookup returns the profile for l, failing for an invalid or unconfigured level.
func (p Profiles) Lookup(l Level) (Profile, error) {
	if !l.Valid() {
		return Profile{}, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	prof, ok := p[l]
	if !ok {
		return Profile{}, fmt.Errorf("%w: no profile for %s", ErrInvalidLevel, l)
	}
	return prof, nil
}
