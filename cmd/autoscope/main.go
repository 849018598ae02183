package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cjeanneret/autoscope/internal/classifier"
	"github.com/cjeanneret/autoscope/internal/config"
	"github.com/cjeanneret/autoscope/internal/debug"
	"github.com/cjeanneret/autoscope/internal/hw/camera"
	"github.com/cjeanneret/autoscope/internal/hw/gpio"
	"github.com/cjeanneret/autoscope/internal/hw/lamp"
	"github.com/cjeanneret/autoscope/internal/hw/motorlink"
	"github.com/cjeanneret/autoscope/internal/logic/autoscope"
	"github.com/cjeanneret/autoscope/internal/logic/geometry"
	"github.com/cjeanneret/autoscope/internal/optics"
)

func main() {
	// CLI flags
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	port := flag.String("port", "", "override motor controller serial port")
	start := flag.String("start", "", "override starting magnification (low/4x or mid/10x)")
	mock := flag.Bool("mock", false, "run without hardware: mock motor controller, camera and GPIO")
	collect := flag.String("collect", "", "collect a dataset spiral into <data_dir>/<name> instead of a run")
	snap := flag.String("capture", "", "save one frame as <data_dir>/<name> instead of a run")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateCLIOverrides(*start, job{Collect: *collect, Capture: *snap}); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides{Port: *port, Start: *start, Mock: *mock})

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock hardware", cfg.Defaults.MockHardware)

	// Initialize GPIO driver and lamp
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(useMockGPIO(cfg))
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()
	light, err := lamp.New(gpioDriver, cfg.Illuminator.Pin)
	if err != nil {
		log.Fatalf("init lamp failed: %v", err)
	}
	debug.Value("Lamp pin", cfg.Illuminator.Pin)

	// Motor link
	debug.Step(2, "Preparing motor link")
	link := newLinkFromConfig(cfg)
	debug.PrintStruct("Motor link config", cfg.MotorLink)

	// Camera
	debug.Step(3, "Initializing camera")
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	source := camera.NewSource(cam, camera.Settings{
		WidthPx:      cfg.Camera.WidthPx,
		HeightPx:     cfg.Camera.HeightPx,
		AnalogueGain: cfg.Camera.AnalogueGain,
	}, cfg.Profiles(), cfg.SettleDelay(), light)

	// Classifier exchange
	box := classifier.NewDropBox(cfg.Classifier.ExchangeDir, cfg.PollInterval())
	box.Progress = func(tok classifier.Token, waited time.Duration) {
		debug.Live("Waiting for %s/%s/cell_counts.txt (%s)", cfg.Classifier.ExchangeDir, tok, waited.Truncate(time.Second))
	}

	debug.Step(4, "Creating controller")
	ctrl, err := autoscope.New(link, source, box, autoscope.Options{
		Start:             cfg.StartLevel(),
		Profiles:          cfg.Profiles(),
		LensDirection:     cfg.LensDirection(),
		Layout:            geometry.TileLayout{StepX: cfg.Grid.StepX, StepY: cfg.Grid.StepY},
		ScratchDir:        cfg.Paths.ScratchDir,
		DataDir:           cfg.Paths.DataDir,
		FrameName:         cfg.Focus.FramePath,
		GridSettle:        cfg.GridSettle(),
		SpiralRings:       cfg.Grid.SpiralRings,
		ClassifierTimeout: cfg.ClassifierTimeout(),
	})
	if err != nil {
		log.Fatalf("create controller failed: %v", err)
	}

	if err := run(ctx, ctrl, job{Collect: *collect, Capture: *snap}, promptOverwrite(os.Stdin, os.Stdout)); err != nil {
		log.Printf("autoscope failed: %v", err)
		os.Exit(1)
	}
}

// job selects what run does once the hardware is up. The zero value is a
// full run.
type job struct {
	Collect string
	Capture string
}

// run initializes the controller, performs a full run, a dataset
// collection or a single capture, and always shuts the hardware down.
func run(ctx context.Context, ctrl *autoscope.Controller, j job, overwrite camera.Overwrite) (err error) {
	if err := ctrl.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if shutErr := ctrl.Shutdown(); shutErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", shutErr))
		}
	}()

	switch {
	case j.Capture != "":
		path, err := ctrl.Capture(j.Capture, overwrite)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		debug.Summary(fmt.Sprintf("Saved %s", path))
		return nil
	case j.Collect != "":
		paths, err := ctrl.CollectDataset(ctx, j.Collect, overwrite)
		if err != nil {
			return fmt.Errorf("collect dataset: %w", err)
		}
		debug.Summary(fmt.Sprintf("Collected %d images", len(paths)))
		return nil
	}

	rep, err := ctrl.Run(ctx)
	printReport(rep)
	if err != nil {
		return err
	}
	debug.Section("Sequence Complete")
	return nil
}

func printReport(rep autoscope.Report) {
	if len(rep.Levels) == 0 {
		return
	}
	debug.Summary("Run Summary")
	for _, lr := range rep.Levels {
		debug.Info("%s: best focus z=%d", lr.Level, lr.Focus.Best.Z)
		if lr.Median != 0 {
			debug.Info("%s: median tile %d of counts %v", lr.Level, lr.Median, lr.Counts)
		}
	}
	debug.Value("Final position", rep.Final)
}

// overrides are the CLI values applied on top of the config file. Zero
// values mean "use config".
type overrides struct {
	Port  string
	Start string
	Mock  bool
}

// validateCLIOverrides checks non-empty CLI values.
func validateCLIOverrides(start string, j job) error {
	if start != "" {
		level, err := optics.ParseLevel(start)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		if level == optics.High {
			return fmt.Errorf("start must be low or mid, got %s", start)
		}
	}
	if j.Collect != "" && j.Capture != "" {
		return errors.New("collect and capture are mutually exclusive")
	}
	if j.Collect != "" && !filepath.IsLocal(j.Collect) {
		return fmt.Errorf("collect must be a relative folder name, got %q", j.Collect)
	}
	if j.Capture != "" && !filepath.IsLocal(j.Capture) {
		return fmt.Errorf("capture must be a relative file name, got %q", j.Capture)
	}
	return nil
}

// useMockGPIO reports whether the lamp runs on the mock driver. Without a
// lamp pin there is nothing to drive, so /dev/gpiomem is left alone.
func useMockGPIO(cfg *config.Config) bool {
	return cfg.Defaults.MockGPIO || cfg.Illuminator.Pin <= 0
}

// applyOverrides mutates cfg with the non-zero overrides. Mock mode also
// drops the hardware timing delays, which only matter for real devices.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.Port != "" {
		cfg.MotorLink.Port = o.Port
	}
	if o.Start != "" {
		cfg.Magnification.Start = o.Start
	}
	if o.Mock {
		cfg.Defaults.MockHardware = true
		cfg.Defaults.MockGPIO = true
	}
	if cfg.Defaults.MockHardware {
		cfg.Camera.Type = "mock"
		cfg.MotorLink.RetryDelayMs = 0
		cfg.Camera.SettleDelayMs = 0
		cfg.Grid.SettleMs = 0
	}
}

// newLinkFromConfig returns the serial link, or one to the mock
// controller in mock mode.
func newLinkFromConfig(cfg *config.Config) *motorlink.Link {
	opts := motorlink.PortOptions{
		BaudRate: cfg.MotorLink.BaudRate,
		DataBits: cfg.MotorLink.DataBits,
		StopBits: cfg.MotorLink.StopBits,
		Parity:   cfg.MotorLink.Parity,
	}
	linkCfg := motorlink.Config{
		ReadTimeout: cfg.ReadTimeout(),
		RetryDelay:  cfg.RetryDelay(),
		MaxRetries:  cfg.MotorLink.MaxRetries,
	}
	if cfg.Defaults.MockHardware {
		_, opener := motorlink.NewMockPort()
		return motorlink.NewLink("mock", opts, linkCfg, opener)
	}
	return motorlink.NewLink(cfg.MotorLink.Port, opts, linkCfg, motorlink.OpenSerial)
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "rpicam":
		return camera.NewRPiCam(cfg.Camera.Command, nil), nil
	case "mock":
		return camera.NewMock(nil), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// promptOverwrite asks on out whether an existing file may be replaced
// and reads a y/n answer from in. Anything but y/yes keeps the file.
func promptOverwrite(in io.Reader, out io.Writer) camera.Overwrite {
	r := bufio.NewReader(in)
	return func(path string) bool {
		fmt.Fprintf(out, "%s exists. Overwrite? [y/N] ", path)
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}
