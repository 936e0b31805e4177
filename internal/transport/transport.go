// Package transport provides the raw CAN channels the SDO engine runs over:
// SocketCAN, a CAN-over-TCP gateway, and an in-process virtual bus.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Frame record layout, identical to the SocketCAN struct can_frame.
const (
	FrameSize  = 16
	MaxDataLen = 8

	EFFFlag = 0x80000000 // extended frame format
	RTRFlag = 0x40000000 // remote transmission request
	ERRFlag = 0x20000000 // error frame

	SFFMask = 0x000007FF
	EFFMask = 0x1FFFFFFF
)

var (
	ErrUnavailable  = errors.New("transport: channel unavailable")
	ErrTimeout      = errors.New("transport: receive timeout")
	ErrClosed       = errors.New("transport: closed")
	ErrFrameTooLong = errors.New("transport: frame data exceeds 8 bytes")
	ErrBadRecord    = errors.New("transport: bad frame record")
)

// Conn is a raw CAN channel. Receive is the only call that waits.
type Conn interface {
	Send(ctx context.Context, id uint32, data []byte) error
	Receive(timeout time.Duration) ([]byte, uint32, error)
	Close() error
}

// Open resolves a channel name to a Conn.
//
//	can0, socketcan://can0   SocketCAN raw socket
//	tcp://host:port          CAN-over-TCP gateway (see Hub)
//	mem://name               named in-process bus
func Open(ctx context.Context, channel string, dialTimeout time.Duration) (Conn, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: empty channel name", ErrUnavailable)
	}
	if !strings.Contains(channel, "://") {
		return OpenSocketCAN(channel)
	}

	u, err := url.Parse(channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch u.Scheme {
	case "socketcan", "can":
		return OpenSocketCAN(u.Host)
	case "tcp":
		t := NewTCPTransport(u.Host, dialTimeout)
		if err := t.Connect(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return t, nil
	case "mem":
		return JoinBus(u.Host), nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrUnavailable, u.Scheme)
	}
}

// EncodeFrame writes a can_frame record for id/data into buf.
func EncodeFrame(order binary.ByteOrder, buf []byte, id uint32, data []byte) error {
	if len(buf) < FrameSize {
		return ErrBadRecord
	}
	if len(data) > MaxDataLen {
		return ErrFrameTooLong
	}
	clear(buf[:FrameSize])
	order.PutUint32(buf[0:4], id)
	buf[4] = uint8(len(data))
	copy(buf[8:], data)
	return nil
}

// DecodeFrame parses a can_frame record. The returned data is a fresh copy.
func DecodeFrame(order binary.ByteOrder, buf []byte) (uint32, []byte, error) {
	if len(buf) < FrameSize {
		return 0, nil, ErrBadRecord
	}
	n := int(buf[4])
	if n > MaxDataLen {
		return 0, nil, fmt.Errorf("%w: dlc %d", ErrBadRecord, n)
	}
	data := make([]byte, n)
	copy(data, buf[8:8+n])
	return order.Uint32(buf[0:4]), data, nil
}
