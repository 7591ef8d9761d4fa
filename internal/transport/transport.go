// Package transport provides the byte-oriented duplex channels the protocol
// engine drives: a POSIX serial line and a spawned interpreter subprocess.
// Both are exposed through the single Port interface so the rest of the
// core never branches on which one it is holding.
package transport

import (
	"time"

	"github.com/rjboer/mpyrepl/internal/devicerr"
)

// Port is the contract every transport variant satisfies: open is implied
// by the constructor, everything else is here.
type Port interface {
	// Read places up to len(buf) bytes into buf and returns how many were
	// read. It returns 0, nil on a clean end of stream, and a
	// *devicerr.DeviceError wrapping devicerr.TimeoutError if no byte
	// arrives before deadline.
	Read(buf []byte, deadline time.Time) (int, error)
	// WriteAll blocks until every byte of b has been accepted by the OS.
	WriteAll(b []byte) error
	// DrainInput discards anything currently readable without blocking.
	DrainInput() error
	// Close is idempotent.
	Close() error
}

// Endpoint is the immutable, already-parsed description of where to
// connect. Exactly one of Serial or Subprocess is non-nil.
type Endpoint struct {
	Serial     *SerialEndpoint
	Subprocess *SubprocessEndpoint
}

// SerialEndpoint describes a fixed-configuration serial line.
type SerialEndpoint struct {
	Path         string
	Baud         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SubprocessEndpoint describes a locally spawned interpreter.
type SubprocessEndpoint struct {
	Executable string
	Args       []string
}

// Open dispatches to the concrete constructor for the endpoint's variant.
func Open(ep Endpoint) (Port, error) {
	switch {
	case ep.Serial != nil:
		return OpenSerial(*ep.Serial)
	case ep.Subprocess != nil:
		return OpenSubprocess(*ep.Subprocess)
	default:
		return nil, devicerr.New(devicerr.TransportError{Cause: errNoEndpoint}, nil)
	}
}

var errNoEndpoint = errEndpoint("transport: endpoint has neither Serial nor Subprocess set")

type errEndpoint string

func (e errEndpoint) Error() string { return string(e) }
