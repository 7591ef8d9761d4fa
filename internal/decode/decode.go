// Package decode converts captured device stdout into a caller-requested
// scalar or structured value, and wraps source fragments so the device
// emits the canonical textual encoding each Kind needs.
package decode

import (
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/rjboer/mpyrepl/internal/devicerr"
)

// Kind is the decodable result shape a caller may request.
type Kind int

const (
	RawString Kind = iota
	Integer
	Float
	Boolean
	Structured
)

// WrapCode returns the source fragment actually shipped to the device for
// the requested kind, instructing it to print a round-trippable encoding of
// the expression's value.
func WrapCode(kind Kind, code string) string {
	switch kind {
	case Integer, Float, Boolean:
		return "print(repr((" + code + ")))"
	case Structured:
		return "import json as __mpyrepl_json; print(__mpyrepl_json.dumps(" + code + "))"
	default:
		return code
	}
}

// Decode parses stdout per kind, returning a devicerr.ProtocolViolation if
// the bytes don't match what WrapCode's wrapping promised.
func Decode(kind Kind, stdout []byte) (any, error) {
	switch kind {
	case RawString:
		return string(stripTrailingCRLF(stdout)), nil
	case Integer:
		s := strings.TrimSpace(string(stdout))
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, protoViolation("integer", stdout)
		}
		return v, nil
	case Float:
		s := strings.TrimSpace(string(stdout))
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, protoViolation("float", stdout)
		}
		return v, nil
	case Boolean:
		s := strings.TrimSpace(string(stdout))
		switch s {
		case "True":
			return true, nil
		case "False":
			return false, nil
		default:
			return nil, protoViolation("boolean", stdout)
		}
	case Structured:
		var v any
		dec := gojson.NewDecoder(strings.NewReader(strings.TrimSpace(string(stdout))))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, protoViolation("structured", stdout)
		}
		if containsNonFinite(v) {
			return nil, protoViolation("structured", stdout)
		}
		return v, nil
	default:
		return nil, protoViolation("unknown", stdout)
	}
}

func protoViolation(kind string, observed []byte) error {
	return devicerr.New(devicerr.ProtocolViolation{Expected: kind, Observed: observed}, nil)
}

func stripTrailingCRLF(b []byte) []byte {
	if len(b) >= 2 && b[len(b)-2] == '\r' && b[len(b)-1] == '\n' {
		return b[:len(b)-2]
	}
	return b
}

// containsNonFinite walks a decoded JSON value looking for json.Number
// tokens that encode NaN/Infinity, which callers should never see even
// though some permissive decoders accept them.
func containsNonFinite(v any) bool {
	switch t := v.(type) {
	case gojson.Number:
		s := t.String()
		return s == "NaN" || s == "Infinity" || s == "-Infinity"
	case map[string]any:
		for _, elem := range t {
			if containsNonFinite(elem) {
				return true
			}
		}
	case []any:
		for _, elem := range t {
			if containsNonFinite(elem) {
				return true
			}
		}
	}
	return false
}
