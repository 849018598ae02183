package debug

import (
	"io"
	"log"
	"os"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (level changes, chosen tiles)
	LevelLive    = 2 // Live info (moves, captures, focus samples)
	LevelVerbose = 3 // Verbose (configuration, sequencing details)
	LevelTrace   = 4 // Trace (serial traffic, GPIO)
)

var (
	level  int
	out    io.Writer = os.Stdout
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (magnification changes, median tile, summaries)
// 2 = live info (motor moves, captures, sharpness samples)
// 3 = verbose (settings, sequencing steps)
// 4 = trace (serial lines, GPIO)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(out, "[Autoscope] ", log.LstdFlags|log.Lmicroseconds)
	} else {
		logger = nil
	}
}

// SetOutput redirects debug output. Takes effect for the current logger
// and any later Init.
func SetOutput(w io.Writer) {
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// --- Level 1 functions (Info) ---

// Info prints a level 1 message.
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Summary prints a boxed title (level 1).
func Summary(title string) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 2 functions (Live) ---

// Live prints a level 2 message.
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Move prints a motor movement (level 2).
func Move(axis string, steps int, direction string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Axis %s: %d steps (%s)", axis, steps, direction)
	}
}

// Shot prints a capture (level 2).
func Shot(path string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Frame captured: %s", path)
	}
}

// Sample prints one focus sample, z zero-padded like the bench logs.
func Sample(z int, score float64) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] z=%02d sharpness=%.0f", z, score)
	}
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message.
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace) ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// Serial prints one line of serial traffic (level 4). dir is "tx" or "rx".
func Serial(dir string, line string) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[SERIAL] %s %q", dir, line)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// --- General functions ---

// Error prints an error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}
