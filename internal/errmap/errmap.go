// Package errmap parses a device traceback captured from stderr into a
// typed devicerr.DeviceError.
package errmap

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rjboer/mpyrepl/internal/devicerr"
)

var (
	lastLineRE  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*):\s?(.*)$`)
	fileLineRE  = regexp.MustCompile(`File "<stdin>", line \d+`)
)

var syntaxClasses = map[string]bool{
	"SyntaxError":      true,
	"IndentationError": true,
	"TabError":         true,
}

// Map turns the (always non-empty) stderr bytes from a failed execution
// into a *devicerr.DeviceError of variant SyntaxError or RuntimeError.
func Map(stderr []byte) *devicerr.DeviceError {
	text := toUTF8(stderr)
	lastLine := lastNonEmptyLine(text)

	m := lastLineRE.FindStringSubmatch(lastLine)
	if m == nil {
		return devicerr.New(devicerr.RuntimeError{
			ExceptionClass:  "Unknown",
			Message:         text,
			DeviceTraceback: text,
		}, nil)
	}

	class, message := m[1], m[2]
	if syntaxClasses[class] {
		return devicerr.New(devicerr.SyntaxError{
			Message:     message,
			CodeExcerpt: fileLineRE.FindString(text),
		}, nil)
	}
	return devicerr.New(devicerr.RuntimeError{
		ExceptionClass:  class,
		Message:         message,
		DeviceTraceback: text,
	}, nil)
}

func toUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

func lastNonEmptyLine(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
