package zigbee

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the byte stream to a coordinator dongle.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the port at address.
type Opener func(address string, opts Options) (Port, error)

// SerialPort wraps a serial connection to the Zigbee USB dongle.
type SerialPort struct {
	port serial.Port
	mu   sync.Mutex
}

// OpenSerial opens the serial port 8N1 at opts.Baud. A read timeout keeps
// the reader from blocking forever on a silent dongle.
func OpenSerial(address string, opts Options) (Port, error) {
	mode := &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", address, err)
	}

	// Silicon Labs EZSP dongles require RTS/CTS hardware flow control.
	if opts.RTSCTS {
		if err := port.SetRTS(true); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set RTS: %w", err)
		}
	}
	if opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}

	return &SerialPort{port: port}, nil
}

// Write sends raw bytes to the serial port.
func (s *SerialPort) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Write(data)
}

// Read reads raw bytes. It returns 0, nil when the read timeout expires.
func (s *SerialPort) Read(buf []byte) (int, error) {
	return s.port.Read(buf)
}

// Close closes the serial port.
func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// Options are the per-interface link settings.
type Options struct {
	Baud             int
	RTSCTS           bool
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration

	// StaleAfter is how recently a frame must have arrived for a probe to
	// pass without a handshake round trip.
	StaleAfter time.Duration
}

// DefaultOptions returns 115200 baud with flow control and a 5s handshake.
func DefaultOptions() Options {
	return Options{
		Baud:             115200,
		RTSCTS:           true,
		ReadTimeout:      500 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		StaleAfter:       30 * time.Second,
	}
}

// ParseOptions overlays interface options (as validated by the zigbee
// kind schema) on the defaults.
func ParseOptions(raw map[string]any) Options {
	o := DefaultOptions()
	if v, ok := number(raw["baud"]); ok {
		o.Baud = int(v)
	}
	if v, ok := raw["rtscts"].(bool); ok {
		o.RTSCTS = v
	}
	if v, ok := number(raw["read_timeout_ms"]); ok {
		o.ReadTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := number(raw["handshake_timeout_ms"]); ok {
		o.HandshakeTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := number(raw["stale_after_ms"]); ok {
		o.StaleAfter = time.Duration(v) * time.Millisecond
	}
	return o
}

func number(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
