package devicerr

import (
	"errors"
	"testing"
)

func TestDeviceErrorUnwrapsTransportCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(TransportError{Cause: cause}, nil)

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
}

func TestAsHelpersRecoverConcreteVariant(t *testing.T) {
	err := New(SyntaxError{Message: "invalid syntax"}, nil)

	v, ok := AsSyntaxError(err)
	if !ok {
		t.Fatalf("AsSyntaxError: ok = false, want true")
	}
	if v.Message != "invalid syntax" {
		t.Fatalf("Message = %q, want %q", v.Message, "invalid syntax")
	}

	if _, ok := AsRuntimeError(err); ok {
		t.Fatalf("AsRuntimeError on a SyntaxError: ok = true, want false")
	}
}

func TestIsInterrupted(t *testing.T) {
	if !IsInterrupted(New(InterruptedError{}, nil)) {
		t.Fatalf("IsInterrupted = false, want true")
	}
	if IsInterrupted(New(TimeoutError{Phase: PhaseSendCode}, nil)) {
		t.Fatalf("IsInterrupted on TimeoutError = true, want false")
	}
	if IsInterrupted(errors.New("plain error")) {
		t.Fatalf("IsInterrupted on a non-DeviceError = true, want false")
	}
}

func TestWithContextMergesWithoutMutatingOriginal(t *testing.T) {
	base := New(TimeoutError{Phase: PhaseSendCode}, map[string]any{"a": 1})
	extended := base.WithContext(map[string]any{"b": 2})

	if _, ok := base.Context["b"]; ok {
		t.Fatalf("WithContext mutated the original Context")
	}
	if extended.Context["a"] != 1 || extended.Context["b"] != 2 {
		t.Fatalf("extended.Context = %#v, want a=1 b=2", extended.Context)
	}
}
