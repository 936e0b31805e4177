package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Hub is a virtual CAN segment served over TCP. Every frame record received
// from one connection is rebroadcast to all other connections.
type Hub struct {
	logger   *slog.Logger
	maxConns int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]*sync.Mutex // per-connection write lock
	closed   int32
	wg       sync.WaitGroup

	frames atomic.Int64
}

// NewHub creates a hub. maxConns <= 0 means 64.
func NewHub(logger *slog.Logger, maxConns int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Hub{
		logger:   logger,
		maxConns: maxConns,
		conns:    make(map[net.Conn]*sync.Mutex),
	}
}

// ListenAndServe starts the hub on the given address.
func (h *Hub) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(listener)
}

// Serve accepts connections until Close is called.
func (h *Hub) Serve(listener net.Listener) error {
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()
	h.logger.Info("can hub started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&h.closed) == 1 {
				return nil
			}
			h.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		h.mu.Lock()
		if atomic.LoadInt32(&h.closed) == 1 {
			h.mu.Unlock()
			conn.Close()
			return nil
		}
		if len(h.conns) >= h.maxConns {
			h.mu.Unlock()
			h.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		h.conns[conn] = &sync.Mutex{}
		h.wg.Add(1)
		h.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		go h.handleConn(conn)
	}
}

// Close stops the hub and drops every connection.
func (h *Hub) Close() error {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return nil
	}

	h.mu.Lock()
	var err error
	if h.listener != nil {
		err = h.listener.Close()
	}
	for conn := range h.conns {
		conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info("can hub stopped")
	return err
}

// Addr returns the listening address, or nil before Serve.
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of attached peers.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Frames returns the number of frames relayed so far.
func (h *Hub) Frames() int64 {
	return h.frames.Load()
}

func (h *Hub) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in hub connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		conn.Close()
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		h.wg.Done()
	}()

	h.logger.Debug("peer attached", slog.String("remote", conn.RemoteAddr().String()))

	var rec [FrameSize]byte
	for {
		if _, err := io.ReadFull(conn, rec[:]); err != nil {
			if !errors.Is(err, io.EOF) && atomic.LoadInt32(&h.closed) == 0 {
				h.logger.Debug("read error",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("error", err.Error()))
			}
			return
		}
		if _, _, err := DecodeFrame(binary.LittleEndian, rec[:]); err != nil {
			h.logger.Warn("dropping bad record",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			continue
		}
		h.frames.Add(1)
		h.broadcast(conn, rec[:])
	}
}

func (h *Hub) broadcast(from net.Conn, rec []byte) {
	h.mu.Lock()
	peers := make(map[net.Conn]*sync.Mutex, len(h.conns))
	for c, wmu := range h.conns {
		if c != from {
			peers[c] = wmu
		}
	}
	h.mu.Unlock()

	for c, wmu := range peers {
		wmu.Lock()
		c.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := c.Write(rec); err != nil {
			h.logger.Debug("write error",
				slog.String("remote", c.RemoteAddr().String()),
				slog.String("error", err.Error()))
		}
		wmu.Unlock()
	}
}
