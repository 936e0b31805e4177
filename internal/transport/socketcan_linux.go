//go:build linux

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// SocketCAN is a CAN_RAW socket bound to one interface.
type SocketCAN struct {
	ifname string
	fd     int

	wmu    sync.Mutex
	rmu    sync.Mutex
	closed atomic.Bool
}

// OpenSocketCAN binds a raw socket to ifname. The interface must exist and
// be administratively up.
func OpenSocketCAN(ifname string) (Conn, error) {
	if ifname == "" {
		return nil, fmt.Errorf("%w: empty interface name", ErrUnavailable)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrUnavailable, err)
	}

	ifindex, err := interfaceIndex(fd, ifname)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: bind %s: %v", ErrUnavailable, ifname, err)
	}

	return &SocketCAN{ifname: ifname, fd: fd}, nil
}

func interfaceIndex(fd int, ifname string) (int, error) {
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnavailable, ifname, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifr); err != nil {
		return 0, fmt.Errorf("%w: %s does not exist: %v", ErrUnavailable, ifname, err)
	}
	index := int(ifr.Uint32())

	flags, err := unix.NewIfreq(ifname)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnavailable, ifname, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, flags); err != nil {
		return 0, fmt.Errorf("%w: %s flags: %v", ErrUnavailable, ifname, err)
	}
	if flags.Uint16()&unix.IFF_UP == 0 {
		return 0, fmt.Errorf("%w: %s is down", ErrUnavailable, ifname)
	}
	return index, nil
}

// Interface returns the bound interface name.
func (s *SocketCAN) Interface() string {
	return s.ifname
}

// Send writes one frame. ctx is checked before the write; the kernel write
// itself does not block on a healthy bus.
func (s *SocketCAN) Send(ctx context.Context, id uint32, data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var rec [FrameSize]byte
	if err := EncodeFrame(binary.NativeEndian, rec[:], id, data); err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := unix.Write(s.fd, rec[:]); err != nil {
		return fmt.Errorf("write %s: %w", s.ifname, err)
	}
	return nil
}

// Receive waits up to timeout for a data frame. Remote and error frames are
// skipped.
func (s *SocketCAN) Receive(timeout time.Duration) ([]byte, uint32, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	deadline := time.Now().Add(timeout)
	var rec [FrameSize]byte
	for {
		if s.closed.Load() {
			return nil, 0, ErrClosed
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)

		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, 0, fmt.Errorf("poll %s: %w", s.ifname, err)
		}
		if n == 0 {
			return nil, 0, ErrTimeout
		}

		if _, err := unix.Read(s.fd, rec[:]); err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, 0, fmt.Errorf("read %s: %w", s.ifname, err)
		}

		id, data, err := DecodeFrame(binary.NativeEndian, rec[:])
		if err != nil {
			return nil, 0, err
		}
		if id&(RTRFlag|ERRFlag) != 0 {
			continue
		}
		return data, id, nil
	}
}

// Close releases the socket.
func (s *SocketCAN) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(s.fd)
}
