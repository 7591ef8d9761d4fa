//go:build linux

package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rjboer/mpyrepl/internal/devicerr"
)

// baudToTermiosSpeed maps the handful of baud rates MicroPython boards
// commonly expose to the termios CBAUD constant golang.org/x/sys/unix
// re-exports. A rate missing from this map is not set as a custom speed:
// OpenSerial configures the line at 115200 instead.
var baudToTermiosSpeed = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// serialPort is a POSIX serial line opened and configured directly through
// termios ioctls, and read with a poll(2)-based deadline so that a caller
// deadline finer than the kernel's VTIME decisecond granularity is honored.
type serialPort struct {
	fd          int
	closed      atomic.Bool
	writeDead   time.Duration
}

// OpenSerial opens and configures ep as a raw, 8N1, no-flow-control line.
func OpenSerial(ep SerialEndpoint) (Port, error) {
	fd, err := unix.Open(ep.Path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("open %s: %w", ep.Path, err)}, nil)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("get termios: %w", err)}, nil)
	}

	makeRaw(t)
	speed, ok := baudToTermiosSpeed[ep.Baud]
	if !ok {
		speed = unix.B115200
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		_ = unix.Close(fd)
		return nil, devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("set termios: %w", err)}, nil)
	}

	return &serialPort{fd: fd, writeDead: ep.WriteTimeout}, nil
}

func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
}

func (p *serialPort) Read(buf []byte, deadline time.Time) (int, error) {
	if p.closed.Load() {
		return 0, devicerr.New(devicerr.DisconnectedError{}, nil)
	}
	if err := p.waitReadable(deadline); err != nil {
		return 0, err
	}
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		return 0, devicerr.New(devicerr.TransportError{Cause: err}, nil)
	}
	return n, nil
}

// waitReadable polls the descriptor for input, returning a DeviceError
// wrapping TimeoutError if deadline elapses first.
func (p *serialPort) waitReadable(deadline time.Time) error {
	for {
		timeout := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseReadPrompt}, nil)
			}
			timeout = int(remaining / time.Millisecond)
			if timeout == 0 {
				timeout = 1
			}
		}
		fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return devicerr.New(devicerr.TransportError{Cause: err}, nil)
		}
		if n == 0 {
			return devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseReadPrompt}, nil)
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			return nil
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return devicerr.New(devicerr.TransportError{Cause: fmt.Errorf("serial: hangup or error")}, nil)
		}
	}
}

func (p *serialPort) WriteAll(b []byte) error {
	if p.closed.Load() {
		return devicerr.New(devicerr.DisconnectedError{}, nil)
	}
	deadline := time.Time{}
	if p.writeDead > 0 {
		deadline = time.Now().Add(p.writeDead)
	}
	for len(b) > 0 {
		if !deadline.IsZero() {
			fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
			remaining := int(time.Until(deadline) / time.Millisecond)
			if remaining <= 0 {
				return devicerr.New(devicerr.TimeoutError{Phase: devicerr.PhaseSendCode}, nil)
			}
			if _, err := unix.Poll(fds, remaining); err != nil {
				return devicerr.New(devicerr.TransportError{Cause: err}, nil)
			}
		}
		n, err := unix.Write(p.fd, b)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return devicerr.New(devicerr.TransportError{Cause: err}, nil)
		}
		b = b[n:]
	}
	return nil
}

func (p *serialPort) DrainInput() error {
	deadline := time.Now().Add(50 * time.Millisecond)
	var scratch [4096]byte
	for {
		fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
		remaining := int(time.Until(deadline) / time.Millisecond)
		if remaining <= 0 {
			return nil
		}
		n, err := unix.Poll(fds, remaining)
		if err != nil || n == 0 {
			return nil
		}
		if _, err := unix.Read(p.fd, scratch[:]); err != nil {
			return nil
		}
	}
}

func (p *serialPort) Close() error {
	if p.closed.Swap(true) {
		return devicerr.New(devicerr.DisconnectedError{}, nil)
	}
	return unix.Close(p.fd)
}
