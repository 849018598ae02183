package camera

import "time"

// Settings is the full still-capture configuration pushed to the sensor.
type Settings struct {
	WidthPx      int
	HeightPx     int
	AutoExposure bool
	Exposure     time.Duration // manual exposure; ignored when AutoExposure
	AnalogueGain float64
	LensPosition float64 // manual focus position in dioptres
}

// Camera is the narrow capability the rest of the application uses,
// independent of how frames are actually produced (libcamera tools,
// a driver binding, a synthetic source).
type Camera interface {
	// Apply replaces the active settings.
	Apply(s Settings) error
	// Start begins streaming; CaptureFile is only valid while started.
	Start() error
	// Stop ends streaming.
	Stop() error
	// CaptureFile writes one frame to path.
	CaptureFile(path string) error
	// Close releases the device.
	Close() error
}
