// Package promptdriver drives a MicroPython device from an unknown
// interactive state into Raw (and, opportunistically, RawPaste) submode by
// issuing the control-byte sequences from the wire protocol and waiting for
// the sentinels each transition expects. Retries use an exponential backoff
// policy from github.com/cenkalti/backoff.
package promptdriver

import (
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/mpyrepl/internal/devicerr"
	"github.com/rjboer/mpyrepl/internal/linebuf"
	"github.com/rjboer/mpyrepl/internal/logging"
)

// Submode mirrors the device's current interactive mode.
type Submode int

const (
	Unknown Submode = iota
	Friendly
	Raw
	RawPaste
)

func (s Submode) String() string {
	switch s {
	case Friendly:
		return "friendly"
	case Raw:
		return "raw"
	case RawPaste:
		return "raw-paste"
	default:
		return "unknown"
	}
}

const (
	ctrlA = 0x01
	ctrlB = 0x02
	ctrlC = 0x03
	ctrlD = 0x04
	ctrlE = 0x05
)

var (
	rawSentinel      = []byte("raw REPL; CTRL-B to exit\r\n>")
	friendlySentinel = []byte("\r\n>>> ")
)

// Writer is the subset of transport.Port the driver writes through.
type Writer interface {
	WriteAll([]byte) error
	DrainInput() error
}

// Options configures retry behavior. Zero value is usable; MaxRetries
// defaults to 3 and HandshakeTimeout to 2s.
type Options struct {
	MaxRetries       int
	HandshakeTimeout time.Duration
	Logger           logging.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}

// EnterRaw drives w/buf from whatever state the device is in to Raw submode,
// retrying the handshake up to opts.MaxRetries times with exponential
// backoff between attempts. On success it additionally attempts RawPaste and
// reports the submode actually reached (Raw or RawPaste) plus the advertised
// window size when RawPaste was entered.
func EnterRaw(w Writer, buf *linebuf.Buffer, opts Options) (Submode, uint16, error) {
	opts = opts.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(b.NextBackOff())
			opts.Logger.Debug("retrying raw REPL handshake", logging.Field{Key: "attempt", Value: attempt})
		}
		if err := attemptEnterRaw(w, buf, opts.HandshakeTimeout); err != nil {
			lastErr = err
			continue
		}
		mode, window, err := tryEnterRawPaste(w, buf, opts.HandshakeTimeout)
		if err != nil {
			return Unknown, 0, err
		}
		return mode, window, nil
	}
	if lastErr != nil {
		return Unknown, 0, lastErr
	}
	return Unknown, 0, devicerr.New(devicerr.ProtocolViolation{Expected: "raw prompt"}, nil)
}

func attemptEnterRaw(w Writer, buf *linebuf.Buffer, timeout time.Duration) error {
	if err := w.WriteAll([]byte("\r\n")); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	if err := w.WriteAll([]byte{ctrlC}); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	time.Sleep(50 * time.Millisecond)
	if err := w.WriteAll([]byte{ctrlC}); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	_ = w.DrainInput()

	if err := w.WriteAll([]byte{ctrlA}); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}

	deadline := time.Now().Add(timeout)
	_, err := buf.ReadUntil(rawSentinel, deadline)
	if err != nil {
		observed := buf.Bytes()
		tail := observed
		if len(tail) > 64 {
			tail = tail[len(tail)-64:]
		}
		return devicerr.New(devicerr.ProtocolViolation{Expected: "raw prompt", Observed: tail},
			map[string]any{"phase": devicerr.PhaseModeEntry})
	}
	return nil
}

// ExitToFriendly writes Ctrl-B and waits for the friendly-prompt sentinel.
func ExitToFriendly(w Writer, buf *linebuf.Buffer, timeout time.Duration) error {
	if err := w.WriteAll([]byte{ctrlB}); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	deadline := time.Now().Add(timeout)
	if _, err := buf.ReadUntil(friendlySentinel, deadline); err != nil {
		return devicerr.New(devicerr.ProtocolViolation{Expected: "friendly prompt"}, nil)
	}
	return nil
}

// tryEnterRawPaste requests RawPaste from Raw submode. A rejection (R\x00)
// is not an error: the caller remains in Raw.
func tryEnterRawPaste(w Writer, buf *linebuf.Buffer, timeout time.Duration) (Submode, uint16, error) {
	if err := w.WriteAll([]byte{ctrlE, 'A', 0x01}); err != nil {
		return Unknown, 0, devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	deadline := time.Now().Add(timeout)
	head, err := buf.ReadN(2, deadline)
	if err != nil {
		return Unknown, 0, devicerr.New(devicerr.ProtocolViolation{Expected: "raw-paste negotiation reply"}, nil)
	}
	switch {
	case head[0] == 'R' && head[1] == 0x00:
		return Raw, 0, nil
	case head[0] == 'R' && head[1] == 0x01:
		lo, err := buf.ReadByte(deadline)
		if err != nil {
			return Unknown, 0, devicerr.New(devicerr.ProtocolViolation{Expected: "window size low byte"}, nil)
		}
		hi, err := buf.ReadByte(deadline)
		if err != nil {
			return Unknown, 0, devicerr.New(devicerr.ProtocolViolation{Expected: "window size high byte"}, nil)
		}
		window := uint16(lo) | uint16(hi)<<8
		return RawPaste, window, nil
	default:
		return Unknown, 0, devicerr.New(devicerr.ProtocolViolation{Expected: "R\\x00 or R\\x01<window>", Observed: head}, nil)
	}
}
