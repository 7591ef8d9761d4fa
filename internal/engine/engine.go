// Package engine implements the top-level execute operation: it selects a
// submode, transfers code through rawpaste, demultiplexes the device's
// stdout/stderr frames, classifies the outcome, and returns either the
// decoded result or a structured devicerr.DeviceError.
package engine

import (
	"context"
	"time"

	"github.com/rjboer/mpyrepl/internal/decode"
	"github.com/rjboer/mpyrepl/internal/devicerr"
	"github.com/rjboer/mpyrepl/internal/errmap"
	"github.com/rjboer/mpyrepl/internal/linebuf"
	"github.com/rjboer/mpyrepl/internal/promptdriver"
	"github.com/rjboer/mpyrepl/internal/rawpaste"
)

const ctrlC = 0x03
const ctrlD = 0x04

var okPrefix = []byte("OK")

// Port is the subset of transport.Port the engine needs directly; reads go
// through the shared linebuf.Buffer instead.
type Port interface {
	WriteAll([]byte) error
}

// Reply is the decoded result of one execution, before kind-specific
// decoding: the raw stdout/stderr split the wire protocol guarantees.
type Reply struct {
	Stdout             []byte
	Stderr             []byte
	TerminatedNormally bool
}

// Execute ships code to the device in submode (Raw or RawPaste), waits for
// its reply, and returns the decoded value for kind or a *devicerr.DeviceError.
// window is the RawPaste window size negotiated by promptdriver; it is
// ignored when submode is Raw.
func Execute(
	ctx context.Context,
	w Port,
	buf *linebuf.Buffer,
	submode promptdriver.Submode,
	window uint16,
	flowControlDelay time.Duration,
	kind decode.Kind,
	rawCode string,
	deadline time.Time,
) (any, error) {
	code := []byte(decode.WrapCode(kind, rawCode))

	if err := send(w, buf, submode, window, flowControlDelay, code, deadline); err != nil {
		return nil, recoverOrFault(w, buf, err, deadline)
	}

	reply, err := readReply(ctx, buf, deadline)
	if err != nil {
		return nil, recoverOrFault(w, buf, err, deadline)
	}

	if len(reply.Stderr) > 0 {
		return nil, errmap.Map(reply.Stderr).WithContext(map[string]any{"phase": devicerr.PhaseReadStderr})
	}

	return decode.Decode(kind, reply.Stdout)
}

func send(w Port, buf *linebuf.Buffer, submode promptdriver.Submode, window uint16, flowControlDelay time.Duration, code []byte, deadline time.Time) error {
	if submode == promptdriver.RawPaste {
		return rawpaste.SendPaste(w, buf, code, window, flowControlDelay, deadline)
	}
	if err := rawpaste.SendClassic(w, code); err != nil {
		return err
	}
	// Classic Raw echoes a literal "OK" before the stdout frame begins;
	// RawPaste's structural \x04 ack (consumed inside SendPaste) plays
	// the equivalent role without the literal text.
	ok, err := buf.ReadN(len(okPrefix), deadline)
	if err != nil {
		return devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseSendCode}, nil)
	}
	if string(ok) != string(okPrefix) {
		return devicerr.New(devicerr.ProtocolViolation{Expected: "OK", Observed: ok}, nil)
	}
	return nil
}

func readReply(ctx context.Context, buf *linebuf.Buffer, deadline time.Time) (Reply, error) {
	stdout, err := readFrameCancelable(ctx, buf, deadline, devicerr.PhaseReadStdout)
	if err != nil {
		return Reply{}, err
	}
	stderr, err := readFrameCancelable(ctx, buf, deadline, devicerr.PhaseReadStderr)
	if err != nil {
		return Reply{}, err
	}
	if _, err := buf.ReadUntil([]byte(">"), deadline); err != nil {
		return Reply{}, devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseReadPrompt}, nil)
	}
	return Reply{Stdout: stdout, Stderr: stderr, TerminatedNormally: true}, nil
}

// readFrameCancelable reads up to and including the next \x04 and returns
// the frame without it, reporting a timeout under phase. ctx is checked
// before the read and again if the read fails; the read itself is not
// interrupted, so a cancellation arriving while it blocks takes effect only
// once it returns (the frame completes or deadline passes).
func readFrameCancelable(ctx context.Context, buf *linebuf.Buffer, deadline time.Time, phase string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, devicerr.New(devicerr.InterruptedError{}, nil)
	default:
	}
	data, err := buf.ReadUntil([]byte{ctrlD}, deadline)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, devicerr.New(devicerr.InterruptedError{}, nil)
		default:
		}
		return nil, devicerr.New(devicerr.TimeoutError{Phase: phase}, nil)
	}
	return data[:len(data)-1], nil
}

// recoverOrFault performs the deadline/cancellation recovery contract:
// interrupt, then re-sync to a prompt through the same buffer subsequent
// reads use (draining the raw port here instead would race the resync read
// below and could swallow the prompt bytes it is waiting for). If
// resynchronization itself fails, the caller must transition the session to
// Faulted; recoverOrFault reports that by returning the original error
// unchanged when resync succeeds, or a TransportError when it does not (the
// session layer maps that to Faulted).
func recoverOrFault(w Port, buf *linebuf.Buffer, original error, deadline time.Time) error {
	_ = w.WriteAll([]byte{ctrlC})
	resyncDeadline := deadline
	if resyncDeadline.IsZero() || time.Until(resyncDeadline) < 2*time.Second {
		resyncDeadline = time.Now().Add(2 * time.Second)
	}
	if _, err := buf.ReadUntil([]byte(">"), resyncDeadline); err != nil {
		return devicerr.New(devicerr.TransportError{Cause: err}, map[string]any{"phase": devicerr.PhaseResync})
	}
	return original
}
