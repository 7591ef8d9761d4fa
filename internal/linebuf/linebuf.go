// Package linebuf accumulates bytes read from a transport and answers
// pattern searches against the accumulated stream without ever dropping a
// byte: a prompt match consumes exactly the bytes up to and including the
// match, anything else is non-destructive lookahead.
package linebuf

import (
	"bytes"
	"time"
)

// Reader is the subset of transport.Port the buffer needs to pull more
// bytes on a miss. Declared locally; transport.Port satisfies it.
type Reader interface {
	Read(buf []byte, deadline time.Time) (int, error)
}

// Buffer is a growing byte accumulator fed from a Reader on demand.
type Buffer struct {
	r   Reader
	buf bytes.Buffer
	tmp [4096]byte
}

// New returns a Buffer that pulls from r when a pattern search needs more
// bytes than are already buffered.
func New(r Reader) *Buffer {
	return &Buffer{r: r}
}

// Feed appends bytes directly to the buffer without touching the Reader.
// Used by tests and by callers that already pulled bytes out-of-band.
func (b *Buffer) Feed(data []byte) {
	b.buf.Write(data)
}

// Len reports how many unconsumed bytes are currently buffered.
func (b *Buffer) Len() int {
	return b.buf.Len()
}

// Bytes returns the currently buffered, unconsumed bytes. The slice is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.buf.Bytes()
}

// Peek reports whether pattern currently appears in the buffered bytes,
// without consuming anything and without pulling more bytes from the
// Reader.
func (b *Buffer) Peek(pattern []byte) bool {
	return bytes.Contains(b.buf.Bytes(), pattern)
}

// ReadUntil pulls bytes from the Reader, if necessary, until pattern is
// found, then returns everything up to and including the first match,
// consuming those bytes. Bytes read past the match remain buffered for the
// next call.
func (b *Buffer) ReadUntil(pattern []byte, deadline time.Time) ([]byte, error) {
	for {
		if idx := bytes.Index(b.buf.Bytes(), pattern); idx >= 0 {
			end := idx + len(pattern)
			out := make([]byte, end)
			copy(out, b.buf.Bytes()[:end])
			b.buf.Next(end)
			return out, nil
		}
		if err := b.fill(deadline); err != nil {
			return nil, err
		}
	}
}

// ReadUntilAny behaves like ReadUntil but recognizes any of patterns,
// reporting which one matched first in the stream.
func (b *Buffer) ReadUntilAny(patterns [][]byte, deadline time.Time) (matchIndex int, data []byte, err error) {
	for {
		best := -1
		bestPos := -1
		for i, p := range patterns {
			if idx := bytes.Index(b.buf.Bytes(), p); idx >= 0 {
				if best == -1 || idx < bestPos {
					best = i
					bestPos = idx
				}
			}
		}
		if best >= 0 {
			end := bestPos + len(patterns[best])
			out := make([]byte, end)
			copy(out, b.buf.Bytes()[:end])
			b.buf.Next(end)
			return best, out, nil
		}
		if ferr := b.fill(deadline); ferr != nil {
			return -1, nil, ferr
		}
	}
}

// ReadN consumes and returns exactly n buffered bytes, pulling more from the
// Reader as needed.
func (b *Buffer) ReadN(n int, deadline time.Time) ([]byte, error) {
	for b.buf.Len() < n {
		if err := b.fill(deadline); err != nil {
			return nil, err
		}
	}
	out := make([]byte, n)
	copy(out, b.buf.Bytes()[:n])
	b.buf.Next(n)
	return out, nil
}

// ReadByte consumes and returns exactly one buffered byte, pulling more from
// the Reader if the buffer is currently empty.
func (b *Buffer) ReadByte(deadline time.Time) (byte, error) {
	out, err := b.ReadN(1, deadline)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (b *Buffer) fill(deadline time.Time) error {
	n, err := b.r.Read(b.tmp[:], deadline)
	if n > 0 {
		b.buf.Write(b.tmp[:n])
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return errEOF
	}
	return nil
}

var errEOF = errEOFType{}

type errEOFType struct{}

func (errEOFType) Error() string { return "linebuf: end of stream" }
