package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPortBuffer is the receive queue depth of a bus port.
const DefaultPortBuffer = 256

type memFrame struct {
	id   uint32
	data []byte
}

// Bus is an in-process broadcast segment. Every frame sent by one port is
// delivered to all other ports, like a physical CAN bus.
type Bus struct {
	mu    sync.Mutex
	ports map[*Port]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{ports: make(map[*Port]struct{})}
}

var (
	namedMu    sync.Mutex
	namedBuses = make(map[string]*Bus)
)

// JoinBus attaches a new port to the bus registered under name, creating it
// on first use.
func JoinBus(name string) *Port {
	namedMu.Lock()
	b, ok := namedBuses[name]
	if !ok {
		b = NewBus()
		namedBuses[name] = b
	}
	namedMu.Unlock()
	return b.Attach(DefaultPortBuffer)
}

// Attach creates a port with the given receive buffer.
func (b *Bus) Attach(buffer int) *Port {
	if buffer < 1 {
		buffer = DefaultPortBuffer
	}
	p := &Port{
		bus:    b,
		rx:     make(chan memFrame, buffer),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.ports[p] = struct{}{}
	b.mu.Unlock()
	return p
}

func (b *Bus) detach(p *Port) {
	b.mu.Lock()
	delete(b.ports, p)
	b.mu.Unlock()
}

// Port is one node's attachment to a Bus. It implements Conn.
type Port struct {
	bus     *Bus
	rx      chan memFrame
	closed  chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Send delivers the frame to every other port. A port whose queue is full
// loses the frame; the bus never blocks the sender.
func (p *Port) Send(ctx context.Context, id uint32, data []byte) error {
	if len(data) > MaxDataLen {
		return ErrFrameTooLong
	}
	select {
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	for peer := range p.bus.ports {
		if peer == p {
			continue
		}
		f := memFrame{id: id, data: append([]byte(nil), data...)}
		select {
		case peer.rx <- f:
		default:
			peer.dropped.Add(1)
		}
	}
	return nil
}

// Receive waits up to timeout for a frame. A non-positive timeout polls.
func (p *Port) Receive(timeout time.Duration) ([]byte, uint32, error) {
	if timeout <= 0 {
		select {
		case f := <-p.rx:
			return f.data, f.id, nil
		case <-p.closed:
			return nil, 0, ErrClosed
		default:
			return nil, 0, ErrTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-p.rx:
		return f.data, f.id, nil
	case <-p.closed:
		return nil, 0, ErrClosed
	case <-timer.C:
		return nil, 0, ErrTimeout
	}
}

// Dropped returns the number of frames lost to a full receive queue.
func (p *Port) Dropped() int64 {
	return p.dropped.Load()
}

// Close detaches the port from its bus.
func (p *Port) Close() error {
	p.once.Do(func() {
		close(p.closed)
		p.bus.detach(p)
	})
	return nil
}
