// Package filexfer implements file transfer to and from a connected device
// by driving small bootstrap scripts through a session's Execute, chunking
// payloads through base64 the way the raw REPL's text-only channel requires.
package filexfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rjboer/mpyrepl/internal/decode"
)

// Executor is the subset of session.Session that file transfer needs: one
// Execute call per chunk.
type Executor interface {
	Execute(ctx context.Context, kind decode.Kind, code string, timeout time.Duration) (any, error)
}

// chunkSize is the number of file bytes moved per Execute call; a 512-byte
// chunk becomes 684 base64 characters in the generated line, which raw-paste
// flow control splits across window refills when it exceeds the window.
const chunkSize = 512

// PutFile writes data to path on the device, overwriting any existing file.
func PutFile(ctx context.Context, ex Executor, path string, data []byte, timeout time.Duration) error {
	openCode := fmt.Sprintf("__mpyrepl_f = open(%q, 'wb')", path)
	if _, err := ex.Execute(ctx, decode.RawString, openCode, timeout); err != nil {
		return fmt.Errorf("filexfer: open %s for write: %w", path, err)
	}

	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		encoded := base64.StdEncoding.EncodeToString(data[offset:end])
		writeCode := fmt.Sprintf(
			"import ubinascii as __mpyrepl_b64\n__mpyrepl_f.write(__mpyrepl_b64.a2b_base64(%q))",
			encoded,
		)
		if _, err := ex.Execute(ctx, decode.RawString, writeCode, timeout); err != nil {
			return fmt.Errorf("filexfer: write chunk at offset %d: %w", offset, err)
		}
	}

	if _, err := ex.Execute(ctx, decode.RawString, "__mpyrepl_f.close()", timeout); err != nil {
		return fmt.Errorf("filexfer: close %s after write: %w", path, err)
	}
	return nil
}

// GetFile reads the full contents of path from the device.
func GetFile(ctx context.Context, ex Executor, path string, timeout time.Duration) ([]byte, error) {
	sizeCode := fmt.Sprintf("__import__('os').stat(%q)[6]", path)
	sizeResult, err := ex.Execute(ctx, decode.Integer, sizeCode, timeout)
	if err != nil {
		return nil, fmt.Errorf("filexfer: stat %s: %w", path, err)
	}
	size, _ := sizeResult.(int64)

	openCode := fmt.Sprintf("__mpyrepl_f = open(%q, 'rb')", path)
	if _, err := ex.Execute(ctx, decode.RawString, openCode, timeout); err != nil {
		return nil, fmt.Errorf("filexfer: open %s for read: %w", path, err)
	}

	out := make([]byte, 0, size)
	for remaining := size; remaining > 0; {
		n := int64(chunkSize)
		if n > remaining {
			n = remaining
		}
		readCode := fmt.Sprintf(
			"import ubinascii as __mpyrepl_b64\nprint(__mpyrepl_b64.b2a_base64(__mpyrepl_f.read(%d)).strip().decode())",
			n,
		)
		chunkResult, err := ex.Execute(ctx, decode.RawString, readCode, timeout)
		if err != nil {
			_, _ = ex.Execute(ctx, decode.RawString, "__mpyrepl_f.close()", timeout)
			return nil, fmt.Errorf("filexfer: read chunk: %w", err)
		}
		encoded, _ := chunkResult.(string)
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			_, _ = ex.Execute(ctx, decode.RawString, "__mpyrepl_f.close()", timeout)
			return nil, fmt.Errorf("filexfer: decode chunk: %w", err)
		}
		out = append(out, decoded...)
		remaining -= n
	}

	if _, err := ex.Execute(ctx, decode.RawString, "__mpyrepl_f.close()", timeout); err != nil {
		return nil, fmt.Errorf("filexfer: close %s after read: %w", path, err)
	}
	return out, nil
}
