package camera

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"github.com/cjeanneret/autoscope/internal/debug"
)

// FrameFunc produces the n-th frame (0-based) for the given settings.
type FrameFunc func(n int, s Settings) image.Image

// Mock is a Camera that writes synthetic JPEG frames. Used in mock
// hardware mode and by tests.
type Mock struct {
	Frame FrameFunc

	settings []Settings
	captures []string
	started  bool
	closed   bool
}

// NewMock returns a mock camera producing frame, or a striped test card when nil.
func NewMock(frame FrameFunc) *Mock {
	if frame == nil {
		frame = TestCard
	}
	return &Mock{Frame: frame}
}

func (m *Mock) Apply(s Settings) error {
	if m.closed {
		return errors.New("mock camera: closed")
	}
	m.settings = append(m.settings, s)
	return nil
}

func (m *Mock) Start() error {
	m.started = true
	return nil
}

func (m *Mock) Stop() error {
	m.started = false
	return nil
}

func (m *Mock) CaptureFile(path string) error {
	if !m.started {
		return errors.New("mock camera: not started")
	}
	var s Settings
	if len(m.settings) > 0 {
		s = m.settings[len(m.settings)-1]
	}
	img := m.Frame(len(m.captures), s)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	m.captures = append(m.captures, path)
	debug.Trace("mock camera wrote %s", path)
	return nil
}

func (m *Mock) Close() error {
	m.started = false
	m.closed = true
	return nil
}

// Captures returns the paths written, in order.
func (m *Mock) Captures() []string {
	return append([]string(nil), m.captures...)
}

// Applied returns every Settings value applied, in order.
func (m *Mock) Applied() []Settings {
	return append([]Settings(nil), m.settings...)
}

// Streaming reports whether the mock is started.
func (m *Mock) Streaming() bool {
	return m.started
}

// TestCard is a small gray frame with vertical stripes.
func TestCard(_ int, s Settings) image.Image {
	w, h := s.WidthPx, s.HeightPx
	if w <= 0 || h <= 0 {
		w, h = 64, 48
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(64)
			if (x/8)%2 == 0 {
				v = 192
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}
