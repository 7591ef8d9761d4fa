package rawpaste

import (
	"testing"
	"time"

	"github.com/rjboer/mpyrepl/internal/linebuf"
	"github.com/rjboer/mpyrepl/internal/prototest"
)

func TestSendPasteRespectsWindow(t *testing.T) {
	// 8 bytes over a window of 4 forces exactly one mid-stream refill.
	code := []byte("12345678")
	conn := prototest.Device(t, []prototest.Step{
		{Name: "first burst", ExpectLen: 4, Expect: code[:4], Reply: []byte{ctrlA}},
		{Name: "second burst", ExpectLen: 4, Expect: code[4:], Reply: nil},
		{Name: "terminator", Expect: []byte{ctrlD}, Reply: []byte{ctrlD}},
	})
	port := prototest.ConnPort{Conn: conn}
	buf := linebuf.New(port)

	err := SendPaste(port, buf, code, 4, 0, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("SendPaste: %v", err)
	}
}

func TestSendPasteResyncsAfterDeviceAbort(t *testing.T) {
	code := []byte("while True: pass")
	conn := prototest.Device(t, []prototest.Step{
		{Name: "burst", ExpectLen: 4, Expect: code[:4], Reply: []byte{ctrlD}},
		{Name: "resync marker", Reply: []byte{ctrlD}},
	})
	port := prototest.ConnPort{Conn: conn}
	buf := linebuf.New(port)

	err := SendPaste(port, buf, code, 4, 0, time.Now().Add(time.Second))
	if err == nil {
		t.Fatalf("SendPaste: expected an error after device abort, got nil")
	}
}

func TestSendPasteSleepsBetweenBurstsWhenDelaySet(t *testing.T) {
	// 8 bytes over a window of 4 forces exactly two bursts; with a nonzero
	// delay the second burst must not start until the delay has elapsed.
	code := []byte("12345678")
	conn := prototest.Device(t, []prototest.Step{
		{Name: "first burst", ExpectLen: 4, Expect: code[:4], Reply: []byte{ctrlA}},
		{Name: "second burst", ExpectLen: 4, Expect: code[4:], Reply: nil},
		{Name: "terminator", Expect: []byte{ctrlD}, Reply: []byte{ctrlD}},
	})
	port := prototest.ConnPort{Conn: conn}
	buf := linebuf.New(port)

	delay := 20 * time.Millisecond
	start := time.Now()
	err := SendPaste(port, buf, code, 4, delay, time.Now().Add(time.Second))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("SendPaste: %v", err)
	}
	if elapsed < delay {
		t.Fatalf("elapsed = %v, want at least the configured delay %v", elapsed, delay)
	}
}

func TestSendClassic(t *testing.T) {
	code := []byte("1+1")
	conn := prototest.Device(t, []prototest.Step{
		{Name: "code", Expect: code},
		{Name: "terminator", Expect: []byte{ctrlD}},
	})
	port := prototest.ConnPort{Conn: conn}

	if err := SendClassic(port, code); err != nil {
		t.Fatalf("SendClassic: %v", err)
	}
}
