// Package rawpaste implements the windowed flow-controlled sender used once
// a device has negotiated RawPaste submode, plus the classic-Raw fallback
// for devices that rejected the negotiation.
package rawpaste

import (
	"time"

	"github.com/rjboer/mpyrepl/internal/devicerr"
	"github.com/rjboer/mpyrepl/internal/linebuf"
)

const (
	ctrlD = 0x04
	ctrlA = 0x01 // window increment byte, not Ctrl-A in this context
)

// Writer is the subset of transport.Port the sender writes through.
type Writer interface {
	WriteAll([]byte) error
}

// SendPaste ships code to a device that is in RawPaste submode with the
// given advertised initial window size, honoring cooperative flow control:
// the cumulative bytes written between any two window-increment signals
// never exceeds initialWindow. flowControlDelay, when non-zero, is slept
// between write bursts to give a device with a small USB-serial input
// buffer time to drain before the next chunk lands.
func SendPaste(w Writer, buf *linebuf.Buffer, code []byte, initialWindow uint16, flowControlDelay time.Duration, deadline time.Time) error {
	window := initialWindow
	remaining := code
	first := true
	for len(remaining) > 0 {
		if !first && flowControlDelay > 0 {
			time.Sleep(flowControlDelay)
		}
		first = false
		for window == 0 {
			b, err := buf.ReadByte(deadline)
			if err != nil {
				return devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseSendCode}, nil)
			}
			switch b {
			case ctrlA:
				window += initialWindow
			case ctrlD:
				if err := resyncAfterAbort(buf, deadline); err != nil {
					return err
				}
				return devicerr.New(devicerr.ProtocolViolation{Expected: "window capacity", Observed: []byte{ctrlD}},
					map[string]any{"reason": "device_abort"})
			default:
				return devicerr.New(devicerr.ProtocolViolation{Expected: "window-control byte", Observed: []byte{b}}, nil)
			}
		}

		for buf.Peek([]byte{ctrlA}) || buf.Peek([]byte{ctrlD}) {
			b, err := buf.ReadByte(deadline)
			if err != nil {
				break
			}
			switch b {
			case ctrlA:
				window += initialWindow
			case ctrlD:
				if err := resyncAfterAbort(buf, deadline); err != nil {
					return err
				}
				return devicerr.New(devicerr.ProtocolViolation{Expected: "window capacity", Observed: []byte{ctrlD}},
					map[string]any{"reason": "device_abort"})
			}
		}

		n := int(window)
		if n > len(remaining) {
			n = len(remaining)
		}
		if n > int(initialWindow) {
			n = int(initialWindow)
		}
		if err := w.WriteAll(remaining[:n]); err != nil {
			return devicerr.New(devicerr.TransportError{Cause: err}, nil)
		}
		remaining = remaining[n:]
		window -= uint16(n)
	}

	if err := w.WriteAll([]byte{ctrlD}); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	if _, err := buf.ReadUntil([]byte{ctrlD}, deadline); err != nil {
		return devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseSendCode}, nil)
	}
	return nil
}

// resyncAfterAbort reads until the device's second \x04, the documented way
// to resynchronize after a device-initiated abort mid-transfer.
func resyncAfterAbort(buf *linebuf.Buffer, deadline time.Time) error {
	if _, err := buf.ReadUntil([]byte{ctrlD}, deadline); err != nil {
		return devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseSendCode}, nil)
	}
	return nil
}

// SendClassic ships code to a device in plain Raw submode (no flow control):
// the code followed by a single Ctrl-D.
func SendClassic(w Writer, code []byte) error {
	if err := w.WriteAll(code); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	if err := w.WriteAll([]byte{ctrlD}); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	return nil
}
