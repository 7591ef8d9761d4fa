package decode

import (
	"testing"

	"github.com/rjboer/mpyrepl/internal/devicerr"
)

func TestWrapCode(t *testing.T) {
	tests := []struct {
		kind Kind
		code string
		want string
	}{
		{RawString, "print('hi')", "print('hi')"},
		{Integer, "1+1", "print(repr((1+1)))"},
		{Float, "1/4", "print(repr((1/4)))"},
		{Boolean, "True", "print(repr((True)))"},
		{Structured, "{'a': 1}", "import json as __mpyrepl_json; print(__mpyrepl_json.dumps({'a': 1}))"},
	}
	for _, tt := range tests {
		if got := WrapCode(tt.kind, tt.code); got != tt.want {
			t.Errorf("WrapCode(%v, %q) = %q, want %q", tt.kind, tt.code, got, tt.want)
		}
	}
}

func TestDecodeScalars(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		stdin []byte
		want  any
	}{
		{"raw string strips crlf", RawString, []byte("hello\r\n"), "hello"},
		{"integer", Integer, []byte("42\r\n"), int64(42)},
		{"negative integer", Integer, []byte("-7\r\n"), int64(-7)},
		{"float", Float, []byte("3.25\r\n"), 3.25},
		{"true", Boolean, []byte("True\r\n"), true},
		{"false", Boolean, []byte("False\r\n"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.kind, tt.stdin)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Decode = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	got, err := Decode(Structured, []byte(`{"a": 1, "b": [1, 2, 3]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("Decode result type = %T, want map[string]any", got)
	}
	if _, ok := m["a"]; !ok {
		t.Fatalf("missing key %q in %#v", "a", m)
	}
}

func TestDecodeRejectsNonFiniteStructured(t *testing.T) {
	_, err := Decode(Structured, []byte(`{"a": NaN}`))
	if err == nil {
		t.Fatalf("Decode: expected error for NaN payload, got nil")
	}
	if _, ok := devicerr.AsProtocolViolation(err); !ok {
		t.Fatalf("error type = %T, want *devicerr.DeviceError wrapping ProtocolViolation", err)
	}
}

func TestDecodeBadIntegerIsProtocolViolation(t *testing.T) {
	_, err := Decode(Integer, []byte("not-a-number\r\n"))
	if _, ok := devicerr.AsProtocolViolation(err); !ok {
		t.Fatalf("error type = %T, want ProtocolViolation", err)
	}
}
