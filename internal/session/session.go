// Package session guards a single device connection with the state machine
// that keeps protocol-core packages from being driven concurrently.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/mpyrepl/internal/config"
	"github.com/rjboer/mpyrepl/internal/decode"
	"github.com/rjboer/mpyrepl/internal/devicerr"
	"github.com/rjboer/mpyrepl/internal/engine"
	"github.com/rjboer/mpyrepl/internal/linebuf"
	"github.com/rjboer/mpyrepl/internal/logging"
	"github.com/rjboer/mpyrepl/internal/promptdriver"
	"github.com/rjboer/mpyrepl/internal/transport"
)

// State is the connection lifecycle stage a Session is in.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Executing
	Disconnecting
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Executing:
		return "executing"
	case Disconnecting:
		return "disconnecting"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// openTransport is overridden in tests to hand Connect a scripted
// transport.Port without dialing real hardware.
var openTransport = transport.Open

// Session serializes Execute calls against a single device connection and
// tracks the lifecycle state that Connect/Execute/Disconnect transition
// through.
type Session struct {
	opts config.Options

	mu    sync.Mutex // serializes Connect/Execute/Disconnect transitions
	state atomic.Int32

	port    transport.Port
	buf     *linebuf.Buffer
	submode promptdriver.Submode
	window  uint16
}

// New constructs a disconnected Session with the given options.
func New(opts config.Options) *Session {
	s := &Session{opts: opts}
	s.state.Store(int32(Disconnected))
	return s
}

// State reports the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Connect opens ep and drives the device into Raw (or RawPaste) submode.
func (s *Session) Connect(ep transport.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != Disconnected {
		return devicerr.New(devicerr.ProtocolViolation{Expected: "disconnected session"}, nil)
	}
	s.state.Store(int32(Connecting))
	s.opts.Logger.Info("connecting", logging.Field{Key: "advisory_paste_window", Value: s.opts.PasteWindow})

	port, err := openTransport(ep)
	if err != nil {
		s.state.Store(int32(Faulted))
		return err
	}

	buf := linebuf.New(port)
	submode, window, err := promptdriver.EnterRaw(port, buf, promptdriver.Options{
		MaxRetries:       s.opts.MaxRetries,
		HandshakeTimeout: s.opts.HandshakeTimeout,
		Logger:           s.opts.Logger,
	})
	if err != nil {
		_ = port.Close()
		s.state.Store(int32(Faulted))
		if de, ok := err.(*devicerr.DeviceError); ok {
			s.opts.Logger.Error("raw REPL handshake failed", logging.DeviceErrorFields(de)...)
		} else {
			s.opts.Logger.Error("raw REPL handshake failed", logging.Field{Key: "error", Value: err})
		}
		return err
	}

	s.port, s.buf, s.submode, s.window = port, buf, submode, window
	s.state.Store(int32(Connected))
	s.opts.Logger.Info("connected", logging.Field{Key: "submode", Value: submode.String()})
	return nil
}

// Execute runs code on the device and decodes its stdout as kind. If the
// session was constructed with WithFailFast and a call is already
// in-flight, Execute returns a busy error immediately instead of queuing.
func (s *Session) Execute(ctx context.Context, kind decode.Kind, code string, timeout time.Duration) (any, error) {
	if s.opts.FailFast && !s.mu.TryLock() {
		return nil, devicerr.New(devicerr.ProtocolViolation{Expected: "idle session"}, map[string]any{"reason": "busy"})
	}
	if !s.opts.FailFast {
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	if st := s.State(); st != Connected {
		return nil, devicerr.New(devicerr.DisconnectedError{}, nil)
	}

	if timeout <= 0 {
		timeout = s.opts.CommandTimeout
	}
	submodeBefore := s.submode
	s.state.Store(int32(Executing))
	deadline := time.Now().Add(timeout)
	start := time.Now()

	result, err := engine.Execute(ctx, s.port, s.buf, s.submode, s.window, s.opts.FlowControlDelay, kind, code, deadline)
	if err != nil {
		if de, ok := err.(*devicerr.DeviceError); ok {
			de = de.WithContext(map[string]any{
				"submode_before":          submodeBefore.String(),
				"submode_after":           s.submode.String(),
				"bytes_pending_in_buffer": s.buf.Len(),
				"elapsed_ms":              time.Since(start).Milliseconds(),
			})
			err = de
			if _, isTransport := de.Variant.(devicerr.TransportError); isTransport {
				s.state.Store(int32(Faulted))
				s.opts.Logger.Error("execute failed", logging.DeviceErrorFields(de)...)
				return nil, err
			}
			s.opts.Logger.Warn("execute failed", logging.DeviceErrorFields(de)...)
		}
		s.state.Store(int32(Connected))
		return nil, err
	}

	s.state.Store(int32(Connected))
	return result, nil
}

// Disconnect exits Raw submode and closes the underlying port. Safe to call
// from Connected, Executing (waits for the in-flight call to finish), or
// Faulted (only closes, skipping the friendly-mode handshake).
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.State()
	if st == Disconnected {
		return nil
	}
	s.state.Store(int32(Disconnecting))

	var exitErr error
	if st != Faulted && s.port != nil && s.buf != nil {
		exitErr = promptdriver.ExitToFriendly(s.port, s.buf, s.opts.HandshakeTimeout)
	}

	var closeErr error
	if s.port != nil {
		closeErr = s.port.Close()
	}
	s.port, s.buf = nil, nil
	s.state.Store(int32(Disconnected))
	s.opts.Logger.Info("disconnected")

	if exitErr != nil {
		return exitErr
	}
	if closeErr != nil {
		return fmt.Errorf("session: close transport: %w", closeErr)
	}
	return nil
}

// Submode reports the submode negotiated at Connect time.
func (s *Session) Submode() promptdriver.Submode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submode
}
