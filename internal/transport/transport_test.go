package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func TestEncodeDecodeFrame(t *testing.T) {
	var rec [FrameSize]byte
	data := []byte{0x43, 0x00, 0x10, 0x00, 0x91, 0x01, 0x00, 0x00}

	if err := EncodeFrame(binary.LittleEndian, rec[:], 0x581, data); err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if rec[4] != 8 {
		t.Errorf("DLC: expected 8, got %d", rec[4])
	}

	id, got, err := DecodeFrame(binary.LittleEndian, rec[:])
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if id != 0x581 {
		t.Errorf("ID: expected 0x581, got 0x%X", id)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Data: expected % X, got % X", data, got)
	}
}

func TestEncodeFrameTooLong(t *testing.T) {
	var rec [FrameSize]byte
	err := EncodeFrame(binary.LittleEndian, rec[:], 0x181, make([]byte, 9))
	if !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("expected ErrFrameTooLong, got %v", err)
	}
}

func TestDecodeFrameBadDLC(t *testing.T) {
	var rec [FrameSize]byte
	rec[4] = 12
	if _, _, err := DecodeFrame(binary.LittleEndian, rec[:]); !errors.Is(err, ErrBadRecord) {
		t.Errorf("expected ErrBadRecord, got %v", err)
	}
}

func TestBusBroadcast(t *testing.T) {
	bus := NewBus()
	a := bus.Attach(4)
	b := bus.Attach(4)
	c := bus.Attach(4)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if err := a.Send(context.Background(), 0x181, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for name, p := range map[string]*Port{"b": b, "c": c} {
		data, id, err := p.Receive(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("%s: Receive failed: %v", name, err)
		}
		if id != 0x181 || !bytes.Equal(data, []byte{1, 2, 3}) {
			t.Errorf("%s: unexpected frame 0x%X % X", name, id, data)
		}
	}

	if _, _, err := a.Receive(0); !errors.Is(err, ErrTimeout) {
		t.Errorf("sender should not see its own frame, got %v", err)
	}
}

func TestBusFullQueueDrops(t *testing.T) {
	bus := NewBus()
	a := bus.Attach(1)
	b := bus.Attach(1)
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	a.Send(ctx, 0x1, nil)
	a.Send(ctx, 0x2, nil)

	if b.Dropped() != 1 {
		t.Errorf("Dropped: expected 1, got %d", b.Dropped())
	}
	_, id, _ := b.Receive(10 * time.Millisecond)
	if id != 0x1 {
		t.Errorf("expected first frame to survive, got 0x%X", id)
	}
}

func TestPortReceiveTimeoutAndClose(t *testing.T) {
	p := NewBus().Attach(1)

	start := time.Now()
	if _, _, err := p.Receive(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Receive returned before the timeout")
	}

	p.Close()
	if _, _, err := p.Receive(time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := p.Send(context.Background(), 0x1, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on send, got %v", err)
	}
}

func TestJoinBusByName(t *testing.T) {
	a := JoinBus("transport-test")
	b := JoinBus("transport-test")
	other := JoinBus("transport-test-other")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	a.Send(context.Background(), 0x701, []byte{0x05})

	if _, id, err := b.Receive(100 * time.Millisecond); err != nil || id != 0x701 {
		t.Errorf("expected 0x701 on same bus, got 0x%X (%v)", id, err)
	}
	if _, _, err := other.Receive(0); !errors.Is(err, ErrTimeout) {
		t.Errorf("other bus should be silent, got %v", err)
	}
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "udp://localhost:1", time.Second)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestOpenMissingInterface(t *testing.T) {
	_, err := Open(context.Background(), "nosuchcan9", time.Second)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestOpenTCPRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	_, err = Open(context.Background(), "tcp://"+addr, 200*time.Millisecond)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHubRelaysFrames(t *testing.T) {
	hub := NewHub(nil, 4)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go hub.Serve(l)
	defer hub.Close()

	ctx := context.Background()
	url := "tcp://" + l.Addr().String()

	a, err := Open(ctx, url, time.Second)
	if err != nil {
		t.Fatalf("Open a failed: %v", err)
	}
	defer a.Close()
	b, err := Open(ctx, url, time.Second)
	if err != nil {
		t.Fatalf("Open b failed: %v", err)
	}
	defer b.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ActiveConnections() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.Send(ctx, 0x601, []byte{0x40, 0x00, 0x10, 0x00, 0, 0, 0, 0}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	data, id, err := b.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if id != 0x601 || data[0] != 0x40 {
		t.Errorf("unexpected frame 0x%X % X", id, data)
	}

	if _, _, err := b.Receive(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout on idle gateway, got %v", err)
	}
	if hub.Frames() != 1 {
		t.Errorf("Frames: expected 1, got %d", hub.Frames())
	}
}

// closingListener closes the hub from inside the first Accept, so the
// accepted connection arrives after Close has run.
type closingListener struct {
	hub      *Hub
	peer     net.Conn
	accepted bool
}

func (l *closingListener) Accept() (net.Conn, error) {
	if l.accepted {
		return nil, net.ErrClosed
	}
	l.accepted = true
	l.hub.Close()
	local, peer := net.Pipe()
	l.peer = peer
	return local, nil
}

func (l *closingListener) Close() error   { return nil }
func (l *closingListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestHubDropsConnAcceptedDuringClose(t *testing.T) {
	hub := NewHub(nil, 4)
	l := &closingListener{hub: hub}

	done := make(chan error, 1)
	go func() { done <- hub.Serve(l) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}

	if n := hub.ActiveConnections(); n != 0 {
		t.Errorf("ActiveConnections: expected 0, got %d", n)
	}

	l.peer.SetReadDeadline(time.Now().Add(time.Second))
	var buf [1]byte
	if _, err := l.peer.Read(buf[:]); err == nil {
		t.Error("connection accepted after Close should be closed")
	}
}
