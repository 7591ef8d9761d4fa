// Package device is the public facade: it exposes a Session type that
// connects to a MicroPython/CircuitPython device, runs code against it with
// typed results, transfers files, and runs declared tasks, logging phase
// transitions through the same logging.Logger the protocol core accepts but
// never branches on.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rjboer/mpyrepl/internal/config"
	"github.com/rjboer/mpyrepl/internal/decode"
	"github.com/rjboer/mpyrepl/internal/filexfer"
	"github.com/rjboer/mpyrepl/internal/logging"
	"github.com/rjboer/mpyrepl/internal/session"
	"github.com/rjboer/mpyrepl/internal/transport"
)

// Session is a connected (or not-yet-connected) handle to one device.
type Session struct {
	inner *session.Session
	log   logging.Logger
}

// Open parses connStr (see config.ParseEndpoint) and connects a new Session.
func Open(connStr string, opts ...config.Option) (*Session, error) {
	ep, err := config.ParseEndpoint(connStr)
	if err != nil {
		return nil, err
	}
	return Connect(ep, opts...)
}

// Connect connects a new Session to an already-parsed endpoint.
func Connect(ep transport.Endpoint, opts ...config.Option) (*Session, error) {
	cfg := config.New(opts...)
	s := &Session{inner: session.New(cfg), log: cfg.Logger}
	s.log.Info("device: connecting", logging.Field{Key: "endpoint", Value: describeEndpoint(ep)})
	if err := s.inner.Connect(ep); err != nil {
		s.log.Error("device: connect failed", logging.Field{Key: "error", Value: err})
		return nil, err
	}
	s.log.Info("device: connected")
	return s, nil
}

// Disconnect exits raw mode and releases the underlying transport.
func (s *Session) Disconnect() error {
	s.log.Info("device: disconnecting")
	err := s.inner.Disconnect()
	if err != nil {
		s.log.Error("device: disconnect failed", logging.Field{Key: "error", Value: err})
	}
	return err
}

// ExecuteString runs code and returns stdout as a string.
func (s *Session) ExecuteString(ctx context.Context, code string, timeout time.Duration) (string, error) {
	v, err := s.inner.Execute(ctx, decode.RawString, code, timeout)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ExecuteInt evaluates an expression on the device and parses it as an
// integer.
func (s *Session) ExecuteInt(ctx context.Context, code string, timeout time.Duration) (int64, error) {
	v, err := s.inner.Execute(ctx, decode.Integer, code, timeout)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// ExecuteFloat evaluates an expression on the device and parses it as a
// float64.
func (s *Session) ExecuteFloat(ctx context.Context, code string, timeout time.Duration) (float64, error) {
	v, err := s.inner.Execute(ctx, decode.Float, code, timeout)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// ExecuteBool evaluates an expression on the device and parses it as a bool.
func (s *Session) ExecuteBool(ctx context.Context, code string, timeout time.Duration) (bool, error) {
	v, err := s.inner.Execute(ctx, decode.Boolean, code, timeout)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// ExecuteJSON evaluates an expression on the device and decodes its
// JSON-encoded result into a Go value (map[string]any, []any, string,
// json.Number, bool, or nil).
func (s *Session) ExecuteJSON(ctx context.Context, code string, timeout time.Duration) (any, error) {
	return s.inner.Execute(ctx, decode.Structured, code, timeout)
}

// PutFile writes data to path on the device.
func (s *Session) PutFile(ctx context.Context, path string, data []byte, timeout time.Duration) error {
	return filexfer.PutFile(ctx, s.inner, path, data, timeout)
}

// GetFile reads the full contents of path from the device.
func (s *Session) GetFile(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	return filexfer.GetFile(ctx, s.inner, path, timeout)
}

// ParamType names the Go-side type a TaskDescriptor parameter accepts.
type ParamType int

const (
	ParamInt ParamType = iota
	ParamFloat
	ParamString
	ParamBool
)

// ReturnKind names the decode.Kind a TaskDescriptor's result is read back as.
type ReturnKind int

const (
	ReturnInt ReturnKind = iota
	ReturnFloat
	ReturnString
	ReturnBool
	ReturnJSON
	ReturnNone
)

// TaskDescriptor declares a callable device-side function explicitly: no
// reflection is used to infer argument shape, the descriptor states it.
// Template is a Python call expression with %v-style verbs, one per
// ParamTypes entry, e.g. "blink(%d, %d)".
type TaskDescriptor struct {
	Name       string
	ParamTypes []ParamType
	Return     ReturnKind
	Template   string
}

// RunTask renders descriptor.Template with args, executes it, and decodes
// the result per descriptor.Return. len(args) must equal
// len(descriptor.ParamTypes).
func (s *Session) RunTask(ctx context.Context, descriptor TaskDescriptor, timeout time.Duration, args ...any) (any, error) {
	if len(args) != len(descriptor.ParamTypes) {
		return nil, fmt.Errorf("device: task %s expects %d arguments, got %d",
			descriptor.Name, len(descriptor.ParamTypes), len(args))
	}
	for i, pt := range descriptor.ParamTypes {
		if err := checkParamType(pt, args[i]); err != nil {
			return nil, fmt.Errorf("device: task %s argument %d: %w", descriptor.Name, i, err)
		}
	}

	code := fmt.Sprintf(descriptor.Template, args...)
	switch descriptor.Return {
	case ReturnInt:
		return s.ExecuteInt(ctx, code, timeout)
	case ReturnFloat:
		return s.ExecuteFloat(ctx, code, timeout)
	case ReturnString:
		return s.ExecuteString(ctx, code, timeout)
	case ReturnBool:
		return s.ExecuteBool(ctx, code, timeout)
	case ReturnJSON:
		return s.ExecuteJSON(ctx, code, timeout)
	case ReturnNone:
		_, err := s.ExecuteString(ctx, code, timeout)
		return nil, err
	default:
		return nil, fmt.Errorf("device: task %s has unknown return kind", descriptor.Name)
	}
}

func checkParamType(pt ParamType, v any) error {
	ok := false
	switch pt {
	case ParamInt:
		switch v.(type) {
		case int, int32, int64:
			ok = true
		}
	case ParamFloat:
		switch v.(type) {
		case float32, float64:
			ok = true
		}
	case ParamString:
		_, ok = v.(string)
	case ParamBool:
		_, ok = v.(bool)
	}
	if !ok {
		return fmt.Errorf("value %v does not match declared parameter type", v)
	}
	return nil
}

func describeEndpoint(ep transport.Endpoint) string {
	switch {
	case ep.Serial != nil:
		return fmt.Sprintf("serial:%s@%d", ep.Serial.Path, ep.Serial.Baud)
	case ep.Subprocess != nil:
		return fmt.Sprintf("subprocess:%s %s", ep.Subprocess.Executable, strings.Join(ep.Subprocess.Args, " "))
	default:
		return "unknown"
	}
}
