package motorlink

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the part of a serial port the link uses. A read that times out
// returns (0, nil), matching go.bug.st/serial.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
	ResetInputBuffer() error
}

// Opener opens the port at path. Swapped out in tests and mock mode.
type Opener func(path string, opts PortOptions) (Port, error)

// OpenSerial opens a real serial port with go.bug.st/serial.
func OpenSerial(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// MockPort emulates the motor controller firmware: every complete command
// line written is answered with "Done". Used for development without the
// stage attached.
type MockPort struct {
	mu       sync.Mutex
	out      bytes.Buffer
	partial  []byte
	commands []string
	closed   bool
}

// NewMockPort returns an Opener that always hands out the same MockPort.
func NewMockPort() (*MockPort, Opener) {
	m := &MockPort{}
	return m, func(string, PortOptions) (Port, error) {
		m.mu.Lock()
		m.closed = false
		m.mu.Unlock()
		return m, nil
	}
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.partial = append(m.partial, p...)
	for {
		i := bytes.IndexByte(m.partial, '\n')
		if i < 0 {
			break
		}
		m.commands = append(m.commands, string(m.partial[:i]))
		m.partial = m.partial[i+1:]
		m.out.WriteString("Done\r\n")
	}
	return len(p), nil
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.out.Len() == 0 {
		return 0, nil
	}
	return m.out.Read(p)
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPort) SetReadTimeout(time.Duration) error { return nil }

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out.Reset()
	return nil
}

// Commands returns the command lines received so far, without newlines.
func (m *MockPort) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}
