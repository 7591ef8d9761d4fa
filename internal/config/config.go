// Package config defines the functional-options configuration surface for a
// device session and the connection-string parser used by callers that want
// to name a device with a single string rather than building an
// transport.Endpoint by hand.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/mpyrepl/internal/logging"
	"github.com/rjboer/mpyrepl/internal/transport"
)

// Options holds every tunable a Session accepts. The zero value is not
// directly usable; construct with New, which applies defaults before Opts
// are applied.
type Options struct {
	Baud             int
	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration
	MaxRetries       int
	PasteWindow      uint16
	FlowControlDelay time.Duration
	FailFast         bool
	Logger           logging.Logger
}

func defaults() Options {
	return Options{
		Baud:             115200,
		HandshakeTimeout: 2 * time.Second,
		CommandTimeout:   30 * time.Second,
		MaxRetries:       3,
		PasteWindow:      256,
		FlowControlDelay: 0,
		FailFast:         false,
		Logger:           logging.Default(),
	}
}

// Option mutates an in-progress Options during New.
type Option func(*Options)

// WithBaud overrides the serial baud rate (ignored for subprocess endpoints).
func WithBaud(baud int) Option { return func(o *Options) { o.Baud = baud } }

// WithHandshakeTimeout overrides how long EnterRaw waits for each sentinel.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandshakeTimeout = d }
}

// WithCommandTimeout overrides the default deadline given to Execute calls
// that don't supply their own.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *Options) { o.CommandTimeout = d }
}

// WithMaxRetries overrides the handshake retry budget.
func WithMaxRetries(n int) Option { return func(o *Options) { o.MaxRetries = n } }

// WithPasteWindow sets the advisory raw-paste window size reported in
// connection logs before negotiation; the device's own advertised window
// (from the R\x01 negotiation reply) always wins once a session is
// connected, so this only shapes diagnostics, never flow control.
func WithPasteWindow(w uint16) Option { return func(o *Options) { o.PasteWindow = w } }

// WithFlowControlDelay inserts a pause between raw-paste write bursts, for
// devices whose USB-serial buffers need breathing room.
func WithFlowControlDelay(d time.Duration) Option {
	return func(o *Options) { o.FlowControlDelay = d }
}

// WithFailFast makes Execute return a devicerr.ProtocolViolation busy error
// (context "reason": "busy") immediately when the session is already executing, instead of
// queuing behind the in-flight call.
func WithFailFast(b bool) Option { return func(o *Options) { o.FailFast = b } }

// WithLogger overrides the logger the session and its components log
// through.
func WithLogger(l logging.Logger) Option { return func(o *Options) { o.Logger = l } }

// New builds an Options from defaults and the given overrides in order. A
// persisted defaults file takes part only when the Option returned by
// LoadDefaults is passed in.
func New(opts ...Option) Options {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// persistentConfig mirrors the on-disk shape a defaults file may provide.
type persistentConfig struct {
	Baud               int    `json:"baud"`
	HandshakeTimeoutMS int    `json:"handshake_timeout_ms"`
	CommandTimeoutMS   int    `json:"command_timeout_ms"`
	MaxRetries         int    `json:"max_retries"`
	PasteWindow        int    `json:"paste_window"`
	FlowControlDelayMS int    `json:"flow_control_delay_ms"`
	FailFast           bool   `json:"fail_fast"`
	LogLevel           string `json:"log_level"`
	LogFormat          string `json:"log_format"`
}

// LoadDefaults reads a JSON defaults file and returns an Option applying its
// contents; a missing file is not an error and yields a no-op Option, so
// callers can unconditionally chain LoadDefaults ahead of explicit overrides.
func LoadDefaults(path string) (Option, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return func(*Options) {}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read defaults file: %w", err)
	}

	var pc persistentConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("config: parse defaults file: %w", err)
	}

	return func(o *Options) {
		if pc.Baud != 0 {
			o.Baud = pc.Baud
		}
		if pc.HandshakeTimeoutMS != 0 {
			o.HandshakeTimeout = time.Duration(pc.HandshakeTimeoutMS) * time.Millisecond
		}
		if pc.CommandTimeoutMS != 0 {
			o.CommandTimeout = time.Duration(pc.CommandTimeoutMS) * time.Millisecond
		}
		if pc.MaxRetries != 0 {
			o.MaxRetries = pc.MaxRetries
		}
		if pc.PasteWindow != 0 {
			o.PasteWindow = uint16(pc.PasteWindow)
		}
		if pc.FlowControlDelayMS != 0 {
			o.FlowControlDelay = time.Duration(pc.FlowControlDelayMS) * time.Millisecond
		}
		o.FailFast = pc.FailFast
		if lvl, err := logging.ParseLevel(pc.LogLevel); err == nil && pc.LogLevel != "" {
			if format, ferr := logging.ParseFormat(pc.LogFormat); ferr == nil {
				o.Logger = logging.New(lvl, format, os.Stderr)
			}
		}
	}, nil
}

// ParseEndpoint parses a connection string of the form "serial:<path>[@<baud>]"
// or "subprocess:<path> [args...]" into a transport.Endpoint.
func ParseEndpoint(s string) (transport.Endpoint, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return transport.Endpoint{}, fmt.Errorf("config: connection string %q missing scheme", s)
	}

	switch scheme {
	case "serial":
		path, baudStr, hasBaud := strings.Cut(rest, "@")
		baud := 115200
		if hasBaud {
			b, err := strconv.Atoi(baudStr)
			if err != nil {
				return transport.Endpoint{}, fmt.Errorf("config: invalid baud %q: %w", baudStr, err)
			}
			baud = b
		}
		if path == "" {
			return transport.Endpoint{}, fmt.Errorf("config: serial connection string %q missing device path", s)
		}
		return transport.Endpoint{Serial: &transport.SerialEndpoint{
			Path: path,
			Baud: baud,
		}}, nil

	case "subprocess":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return transport.Endpoint{}, fmt.Errorf("config: subprocess connection string %q missing executable", s)
		}
		return transport.Endpoint{Subprocess: &transport.SubprocessEndpoint{
			Executable: fields[0],
			Args:       fields[1:],
		}}, nil

	default:
		return transport.Endpoint{}, fmt.Errorf("config: unknown connection scheme %q", scheme)
	}
}
