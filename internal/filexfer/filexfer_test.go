package filexfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rjboer/mpyrepl/internal/decode"
)

// scriptedExecutor replays a fixed sequence of (kind, code) -> (result, err)
// expectations at the Executor level instead of the byte level.
type scriptedExecutor struct {
	t     *testing.T
	calls []call
	idx   int
}

type call struct {
	wantKind decode.Kind
	result   any
	err      error
}

func (s *scriptedExecutor) Execute(ctx context.Context, kind decode.Kind, code string, timeout time.Duration) (any, error) {
	s.t.Helper()
	if s.idx >= len(s.calls) {
		s.t.Fatalf("unexpected Execute call %d: kind=%v code=%q", s.idx, kind, code)
	}
	c := s.calls[s.idx]
	s.idx++
	if kind != c.wantKind {
		s.t.Fatalf("call %d: kind = %v, want %v", s.idx-1, kind, c.wantKind)
	}
	return c.result, c.err
}

func TestPutFileChunksAndClosesOnSuccess(t *testing.T) {
	data := []byte("hello device")
	ex := &scriptedExecutor{t: t, calls: []call{
		{wantKind: decode.RawString, result: ""}, // open
		{wantKind: decode.RawString, result: ""}, // one chunk (fits in chunkSize)
		{wantKind: decode.RawString, result: ""}, // close
	}}

	if err := PutFile(context.Background(), ex, "/data.txt", data, time.Second); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if ex.idx != len(ex.calls) {
		t.Fatalf("Execute called %d times, want %d", ex.idx, len(ex.calls))
	}
}

func TestPutFileClosesEvenOnErrorIsNotAttempted(t *testing.T) {
	ex := &scriptedExecutor{t: t, calls: []call{
		{wantKind: decode.RawString, err: errors.New("open failed")},
	}}
	if err := PutFile(context.Background(), ex, "/data.txt", []byte("x"), time.Second); err == nil {
		t.Fatalf("PutFile: expected an error, got nil")
	}
}

func TestGetFileReassemblesChunks(t *testing.T) {
	want := []byte("round trip payload")
	encoded := "cm91bmQgdHJpcCBwYXlsb2Fk" // base64 of the string above

	ex := &scriptedExecutor{t: t, calls: []call{
		{wantKind: decode.Integer, result: int64(len(want))}, // stat
		{wantKind: decode.RawString, result: ""},             // open
		{wantKind: decode.RawString, result: encoded},        // one chunk
		{wantKind: decode.RawString, result: ""},             // close
	}}

	got, err := GetFile(context.Background(), ex, "/data.txt", time.Second)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
