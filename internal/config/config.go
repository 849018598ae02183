package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/autoscope/internal/optics"
)

// MotorLinkConfig holds the serial connection to the motor controller.
type MotorLinkConfig struct {
	Port          string `yaml:"port"`            // e.g. "/dev/ttyUSB0"
	BaudRate      int    `yaml:"baud_rate"`       // controller firmware runs at 9600
	DataBits      int    `yaml:"data_bits"`
	StopBits      int    `yaml:"stop_bits"`
	Parity        string `yaml:"parity"`          // N, E or O
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // per readline
	RetryDelayMs  int    `yaml:"retry_delay_ms"`  // wait between sending a command and reading its ack
	MaxRetries    int    `yaml:"max_retries"`     // retransmissions before giving up on one step
	LensDirection string `yaml:"lens_direction"`  // "+" or "-": carousel direction for the next objective
}

// CameraConfig describes the still camera.
// Type selects a concrete implementation ("rpicam" or "mock").
type CameraConfig struct {
	Type          string  `yaml:"type"`
	Command       string  `yaml:"command"`         // rpicam-still binary
	WidthPx       int     `yaml:"width_px"`
	HeightPx      int     `yaml:"height_px"`
	AnalogueGain  float64 `yaml:"analogue_gain"`
	SettleDelayMs int     `yaml:"settle_delay_ms"` // wait after an exposure change
}

// ObjectiveConfig is the per-magnification camera setting.
type ObjectiveConfig struct {
	ExposureUs   int     `yaml:"exposure_us"`
	LensPosition float64 `yaml:"lens_position"`
}

// MagnificationConfig holds the three objectives and the level a run starts at.
type MagnificationConfig struct {
	Start string          `yaml:"start"` // low, mid (a run never starts at high)
	Low   ObjectiveConfig `yaml:"low"`
	Mid   ObjectiveConfig `yaml:"mid"`
	High  ObjectiveConfig `yaml:"high"`
}

// FocusConfig bounds the z sweep. Low and mid sweep down (+z) to BottomLimit,
// high sweeps up (-z) to TopLimit.
type FocusConfig struct {
	TopLimit    int    `yaml:"top_limit"`
	BottomLimit int    `yaml:"bottom_limit"`
	FramePath   string `yaml:"frame_path"` // scratch frame, relative to paths.scratch_dir
}

// GridConfig is the 3x3 tile spacing in stage steps.
type GridConfig struct {
	StepX       int `yaml:"step_x"`
	StepY       int `yaml:"step_y"`
	SettleMs    int `yaml:"settle_ms"`    // wait after a stage move before capturing
	SpiralRings int `yaml:"spiral_rings"` // dataset collection spiral size
}

// ClassifierConfig configures the cell-count exchange directory.
type ClassifierConfig struct {
	ExchangeDir    string `yaml:"exchange_dir"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	TimeoutS       int    `yaml:"timeout_s"`
}

// PathsConfig holds the scratch and persistent data directories.
type PathsConfig struct {
	ScratchDir string `yaml:"scratch_dir"`
	DataDir    string `yaml:"data_dir"`
}

// IlluminatorConfig is the sample lamp on a GPIO pin. Pin 0 = no lamp.
type IlluminatorConfig struct {
	Pin int `yaml:"pin"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel   int  `yaml:"debug_level"`   // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockHardware bool `yaml:"mock_hardware"` // fake motor controller and camera
	MockGPIO     bool `yaml:"mock_gpio"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	MotorLink     MotorLinkConfig     `yaml:"motor_link"`
	Camera        CameraConfig        `yaml:"camera"`
	Magnification MagnificationConfig `yaml:"magnification"`
	Focus         FocusConfig         `yaml:"focus"`
	Grid          GridConfig          `yaml:"grid"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Paths         PathsConfig         `yaml:"paths"`
	Illuminator   IlluminatorConfig   `yaml:"illuminator"`
	Defaults      DefaultsConfig      `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates. Fields where zero is
// a meaningful value are seeded before decoding so that an explicit 0 in
// the file survives.
func Parse(data []byte) (*Config, error) {
	cfg := Config{
		MotorLink: MotorLinkConfig{MaxRetries: 5},
		Focus:     FocusConfig{TopLimit: 35, BottomLimit: 50},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MotorLink.Port == "" {
		c.MotorLink.Port = "/dev/ttyUSB0"
	}
	if c.MotorLink.BaudRate <= 0 {
		c.MotorLink.BaudRate = 9600
	}
	if c.MotorLink.ReadTimeoutMs <= 0 {
		c.MotorLink.ReadTimeoutMs = 1000
	}
	if c.MotorLink.RetryDelayMs <= 0 {
		c.MotorLink.RetryDelayMs = 1000
	}
	if c.MotorLink.LensDirection == "" {
		c.MotorLink.LensDirection = "-"
	}

	if c.Camera.Type == "" {
		c.Camera.Type = "rpicam"
	}
	if c.Camera.Command == "" {
		c.Camera.Command = "rpicam-still"
	}
	if c.Camera.WidthPx <= 0 {
		c.Camera.WidthPx = 1280
	}
	if c.Camera.HeightPx <= 0 {
		c.Camera.HeightPx = 970
	}
	if c.Camera.AnalogueGain <= 0 {
		c.Camera.AnalogueGain = 1.0
	}
	if c.Camera.SettleDelayMs <= 0 {
		c.Camera.SettleDelayMs = 10000 // sensor needs ~10s after an exposure change
	}

	if c.Magnification.Start == "" {
		c.Magnification.Start = "low"
	}
	defaultObjective(&c.Magnification.Low, 100_000)
	defaultObjective(&c.Magnification.Mid, 500_000)
	defaultObjective(&c.Magnification.High, 3_000_000)

	if c.Focus.FramePath == "" {
		c.Focus.FramePath = "FOCUS.jpg"
	}

	if c.Grid.StepX <= 0 {
		c.Grid.StepX = 16
	}
	if c.Grid.StepY <= 0 {
		c.Grid.StepY = 3
	}
	if c.Grid.SettleMs <= 0 {
		c.Grid.SettleMs = 1000
	}
	if c.Grid.SpiralRings <= 0 {
		c.Grid.SpiralRings = 5
	}

	if c.Classifier.ExchangeDir == "" {
		c.Classifier.ExchangeDir = "./EXCHANGE"
	}
	if c.Classifier.PollIntervalMs <= 0 {
		c.Classifier.PollIntervalMs = 5000
	}
	if c.Classifier.TimeoutS <= 0 {
		c.Classifier.TimeoutS = 3600
	}

	if c.Paths.ScratchDir == "" {
		c.Paths.ScratchDir = "./TEMP"
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = "./DATA"
	}
}

func defaultObjective(o *ObjectiveConfig, exposureUs int) {
	if o.ExposureUs <= 0 {
		o.ExposureUs = exposureUs
	}
	if o.LensPosition <= 0 {
		o.LensPosition = 2.0
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.MotorLink.LensDirection {
	case "+", "-":
	default:
		return fmt.Errorf("motor_link.lens_direction must be \"+\" or \"-\", got %q", c.MotorLink.LensDirection)
	}
	if c.MotorLink.MaxRetries < 0 {
		return fmt.Errorf("motor_link.max_retries must be >= 0, got %d", c.MotorLink.MaxRetries)
	}
	switch c.Camera.Type {
	case "rpicam", "mock":
	default:
		return fmt.Errorf("unsupported camera.type: %s", c.Camera.Type)
	}
	start, err := optics.ParseLevel(c.Magnification.Start)
	if err != nil {
		return fmt.Errorf("magnification.start: %w", err)
	}
	if start == optics.High {
		return fmt.Errorf("magnification.start must be low or mid, got %s", c.Magnification.Start)
	}
	if c.Focus.TopLimit >= c.Focus.BottomLimit {
		return fmt.Errorf("focus.top_limit (%d) must be < focus.bottom_limit (%d)", c.Focus.TopLimit, c.Focus.BottomLimit)
	}
	if strings.ContainsAny(c.Focus.FramePath, `/\`) {
		return fmt.Errorf("focus.frame_path must be a bare file name, got %q", c.Focus.FramePath)
	}
	return nil
}

// StartLevel returns the configured starting magnification.
func (c *Config) StartLevel() optics.Level {
	l, _ := optics.ParseLevel(c.Magnification.Start)
	return l
}

// Profiles builds the per-level camera and focus profiles. Low and mid
// sweep toward the bottom limit; high sweeps back toward the top limit.
func (c *Config) Profiles() optics.Profiles {
	down := optics.Sweep{Toward: optics.Positive, Bound: c.Focus.BottomLimit}
	up := optics.Sweep{Toward: optics.Negative, Bound: c.Focus.TopLimit}
	return optics.Profiles{
		optics.Low:  objectiveProfile(c.Magnification.Low, down),
		optics.Mid:  objectiveProfile(c.Magnification.Mid, down),
		optics.High: objectiveProfile(c.Magnification.High, up),
	}
}

func objectiveProfile(o ObjectiveConfig, s optics.Sweep) optics.Profile {
	return optics.Profile{
		Exposure:     time.Duration(o.ExposureUs) * time.Microsecond,
		LensPosition: o.LensPosition,
		Sweep:        s,
	}
}

// LensDirection returns the carousel direction as an optics.Direction.
func (c *Config) LensDirection() optics.Direction {
	if c.MotorLink.LensDirection == "+" {
		return optics.Positive
	}
	return optics.Negative
}

// ReadTimeout returns the serial read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.MotorLink.ReadTimeoutMs) * time.Millisecond
}

// RetryDelay returns the wait between a command and reading its acknowledgment.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.MotorLink.RetryDelayMs) * time.Millisecond
}

// SettleDelay returns the wait after an exposure reconfiguration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Camera.SettleDelayMs) * time.Millisecond
}

// GridSettle returns the wait between a stage move and a tile capture.
func (c *Config) GridSettle() time.Duration {
	return time.Duration(c.Grid.SettleMs) * time.Millisecond
}

// PollInterval returns the classifier polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Classifier.PollIntervalMs) * time.Millisecond
}

// ClassifierTimeout returns how long a run waits for cell counts.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutS) * time.Second
}
