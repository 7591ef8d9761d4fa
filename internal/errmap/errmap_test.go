package errmap

import (
	"testing"

	"github.com/rjboer/mpyrepl/internal/devicerr"
)

func TestMapSyntaxError(t *testing.T) {
	stderr := []byte("  File \"<stdin>\", line 1\nSyntaxError: invalid syntax\n")
	err := Map(stderr)

	v, ok := devicerr.AsSyntaxError(err)
	if !ok {
		t.Fatalf("Map did not produce a SyntaxError: %#v", err.Variant)
	}
	if v.Message != "invalid syntax" {
		t.Fatalf("Message = %q, want %q", v.Message, "invalid syntax")
	}
	if v.CodeExcerpt != `File "<stdin>", line 1` {
		t.Fatalf("CodeExcerpt = %q", v.CodeExcerpt)
	}
}

func TestMapRuntimeError(t *testing.T) {
	stderr := []byte(
		"Traceback (most recent call last):\n" +
			"  File \"<stdin>\", line 2, in <module>\n" +
			"ZeroDivisionError: division by zero\n",
	)
	err := Map(stderr)

	v, ok := devicerr.AsRuntimeError(err)
	if !ok {
		t.Fatalf("Map did not produce a RuntimeError: %#v", err.Variant)
	}
	if v.ExceptionClass != "ZeroDivisionError" {
		t.Fatalf("ExceptionClass = %q, want %q", v.ExceptionClass, "ZeroDivisionError")
	}
	if v.Message != "division by zero" {
		t.Fatalf("Message = %q, want %q", v.Message, "division by zero")
	}
	if v.DeviceTraceback != string(stderr) {
		t.Fatalf("DeviceTraceback = %q", v.DeviceTraceback)
	}
}

func TestMapUnrecognizedTextFallsBackToUnknown(t *testing.T) {
	err := Map([]byte("garbled device output with no class prefix"))

	v, ok := devicerr.AsRuntimeError(err)
	if !ok {
		t.Fatalf("Map did not produce a RuntimeError: %#v", err.Variant)
	}
	if v.ExceptionClass != "Unknown" {
		t.Fatalf("ExceptionClass = %q, want %q", v.ExceptionClass, "Unknown")
	}
}

func TestMapTrimsTrailingBlankLines(t *testing.T) {
	err := Map([]byte("ValueError: bad value\n\n\n"))
	v, ok := devicerr.AsRuntimeError(err)
	if !ok {
		t.Fatalf("Map did not produce a RuntimeError: %#v", err.Variant)
	}
	if v.Message != "bad value" {
		t.Fatalf("Message = %q, want %q", v.Message, "bad value")
	}
}
