package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// TCPTransport carries CAN frames to a gateway over TCP, one 16-byte
// can_frame record per frame, little-endian.
type TCPTransport struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex // guards conn
	conn net.Conn

	wmu sync.Mutex
	rmu sync.Mutex
	// partial record carried across receive timeouts
	rbuf [FrameSize]byte
	rlen int
}

// NewTCPTransport creates a new gateway transport.
func NewTCPTransport(addr string, timeout time.Duration) *TCPTransport {
	return &TCPTransport{
		addr:    addr,
		timeout: timeout,
	}
}

// Connect dials the gateway.
func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   t.timeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("tcp connect: %w", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	t.conn = conn
	return nil
}

// Close closes the gateway connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsConnected returns true if the transport is connected.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCPTransport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Send writes one frame record.
func (t *TCPTransport) Send(ctx context.Context, id uint32, data []byte) error {
	var rec [FrameSize]byte
	if err := EncodeFrame(binary.LittleEndian, rec[:], id, data); err != nil {
		return err
	}

	conn := t.current()
	if conn == nil {
		return ErrClosed
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.timeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	written := 0
	for written < len(rec) {
		n, err := conn.Write(rec[written:])
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		written += n
	}
	return nil
}

// Receive reads one frame record, waiting at most timeout. A record cut by
// the deadline is kept and completed by the next call.
func (t *TCPTransport) Receive(timeout time.Duration) ([]byte, uint32, error) {
	conn := t.current()
	if conn == nil {
		return nil, 0, ErrClosed
	}

	t.rmu.Lock()
	defer t.rmu.Unlock()

	if timeout <= 0 {
		timeout = time.Millisecond
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, 0, fmt.Errorf("set deadline: %w", err)
	}

	for t.rlen < FrameSize {
		n, err := conn.Read(t.rbuf[t.rlen:])
		t.rlen += n
		if err != nil {
			if t.rlen == FrameSize {
				break
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, 0, ErrTimeout
			}
			return nil, 0, fmt.Errorf("read: %w", err)
		}
	}

	t.rlen = 0
	id, data, err := DecodeFrame(binary.LittleEndian, t.rbuf[:])
	if err != nil {
		return nil, 0, err
	}
	return data, id, nil
}
