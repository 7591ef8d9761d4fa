package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/mpyrepl/internal/devicerr"
)

// subprocessPort spawns a local interpreter and wires its stdin/stdout
// through pipes using os/exec.
type subprocessPort struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu       sync.Mutex
	closed   atomic.Bool
	exitErr  error
	exitedCh chan struct{}
}

// OpenSubprocess spawns ep.Executable with ep.Args and wires its pipes.
func OpenSubprocess(ep SubprocessEndpoint) (Port, error) {
	cmd := exec.Command(ep.Executable, ep.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("stdin pipe: %w", err)}, nil)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("stdout pipe: %w", err)}, nil)
	}
	if err := cmd.Start(); err != nil {
		return nil, devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("start %s: %w", ep.Executable, err)}, nil)
	}

	p := &subprocessPort{cmd: cmd, stdin: stdin, stdout: stdout, exitedCh: make(chan struct{})}
	go p.waitForExit()
	return p, nil
}

func (p *subprocessPort) waitForExit() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.exitedCh)
}

// ExitStatus reports the child's exit error, or nil if it has not exited
// yet or exited cleanly. Only meaningful after Close.
func (p *subprocessPort) ExitStatus() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *subprocessPort) Read(buf []byte, deadline time.Time) (int, error) {
	if p.closed.Load() {
		return 0, devicerr.New(devicerr.DisconnectedError{}, nil)
	}
	if f, ok := p.stdout.(*os.File); ok {
		_ = f.SetReadDeadline(deadline)
	}
	n, err := p.stdout.Read(buf)
	if err != nil {
		select {
		case <-p.exitedCh:
			return n, devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("child_exited: %w", p.ExitStatus())}, map[string]any{"kind": "child_exited"})
		default:
		}
		if isTimeout(err) {
			return n, devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseReadPrompt}, nil)
		}
		if err == io.EOF {
			return n, nil
		}
		return n, devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	return n, nil
}

func (p *subprocessPort) WriteAll(b []byte) error {
	if p.closed.Load() {
		return devicerr.New(devicerr.DisconnectedError{}, nil)
	}
	for len(b) > 0 {
		n, err := p.stdin.Write(b)
		if err != nil {
			return devicerr.New(devicerr.TransportError{Cause: err}, nil)
		}
		b = b[n:]
	}
	return nil
}

func (p *subprocessPort) DrainInput() error {
	if f, ok := p.stdout.(*os.File); ok {
		_ = f.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	}
	var scratch [4096]byte
	for {
		n, err := p.stdout.Read(scratch[:])
		if n == 0 || err != nil {
			return nil
		}
	}
}

func (p *subprocessPort) Close() error {
	if p.closed.Swap(true) {
		return devicerr.New(devicerr.DisconnectedError{}, nil)
	}
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	select {
	case <-p.exitedCh:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exitedCh
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
