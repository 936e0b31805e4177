// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package canopen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeo-scada/canopen/internal/transport"
)

// ErrReceiveTimeout is what a Transport returns when Receive times out.
// Custom transports must return an error matching it.
var ErrReceiveTimeout = transport.ErrTimeout

// Client performs expedited SDO reads against one node over a Transport.
// Exchanges are serialized: the protocol allows one outstanding request
// per client/server pair.
type Client struct {
	transport Transport
	node      NodeID
	opts      *clientOptions
	dir       *Directory

	mu          sync.Mutex
	closed      bool
	unsolicited func(Frame)

	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a client on an already open transport. The client owns
// the transport from then on and closes it in Close.
func NewClient(t Transport, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, errors.New("canopen: transport cannot be nil")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if !options.node.Valid() {
		return nil, fmt.Errorf("canopen: node id %d out of range 1..127", options.node)
	}
	if options.timeout <= 0 {
		options.timeout = DefaultTimeout
	}

	c := &Client{
		transport:   t,
		node:        options.node,
		opts:        options,
		dir:         options.directory,
		unsolicited: options.unsolicited,
		metrics:     options.metrics,
		logger:      options.logger,
		now:         time.Now,
	}
	if c.dir == nil {
		c.dir = NewDirectory()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c, nil
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Debug("closing transport", slog.Uint64("node", uint64(c.node)))
	return c.transport.Close()
}

// Node returns the addressed node id.
func (c *Client) Node() NodeID {
	return c.node
}

// Timeout returns the exchange bound.
func (c *Client) Timeout() time.Duration {
	return c.opts.timeout
}

// Directory returns the client's object directory.
func (c *Client) Directory() *Directory {
	return c.dir
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// SetUnsolicitedHandler replaces the callback for frames that do not
// complete a pending exchange.
func (c *Client) SetUnsolicitedHandler(fn func(Frame)) {
	c.mu.Lock()
	c.unsolicited = fn
	c.mu.Unlock()
}

// Read performs one exchange for addr and decodes the result with the type
// declared in the directory. On failure the returned Reading carries the
// same error and the cached value is left untouched.
func (c *Client) Read(ctx context.Context, addr Address) (Reading, error) {
	r := c.read(ctx, addr, SourceRequest)
	return r, r.Err
}

func (c *Client) read(ctx context.Context, addr Address, src Source) Reading {
	r := Reading{Address: addr, Source: src}

	entry, ok := c.dir.Lookup(addr)
	if !ok {
		r.Timestamp = c.now()
		r.Err = fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
		return r
	}
	r.Type = entry.Type
	r.Name = entry.Name

	raw, latency, err := c.exchange(ctx, addr)
	r.Timestamp = c.now()
	r.Latency = latency
	if err != nil {
		r.Err = err
		return r
	}

	if size := entry.Type.Size(); size > 0 {
		if len(raw) < size {
			r.Err = fmt.Errorf("%w: %s declared %s, response carried %d bytes",
				ErrLengthMismatch, addr, entry.Type, len(raw))
			c.metrics.Malformed.Add(1)
			return r
		}
		raw = raw[:size]
	}

	v, err := DecodeValue(entry.Type, raw)
	if err != nil {
		r.Err = err
		return r
	}
	if err := c.dir.UpdateLastValue(addr, raw); err != nil {
		r.Err = err
		return r
	}
	r.Value = v
	return r
}

// ReadRaw performs one exchange without consulting the directory and
// returns the data bytes as declared by the node.
func (c *Client) ReadRaw(ctx context.Context, addr Address) ([]byte, error) {
	raw, _, err := c.exchange(ctx, addr)
	return raw, err
}

// ReadUint32 reads addr and decodes up to four bytes as an unsigned value.
func (c *Client) ReadUint32(ctx context.Context, addr Address) (uint32, error) {
	raw, err := c.ReadRaw(ctx, addr)
	if err != nil {
		return 0, err
	}
	var v uint32
	for i := len(raw) - 1; i >= 0; i-- {
		v = v<<8 | uint32(raw[i])
	}
	return v, nil
}

// ReceiveFrame waits up to timeout for a frame while no exchange is in
// flight. ok is false when nothing arrived.
func (c *Client) ReceiveFrame(timeout time.Duration) (Frame, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Frame{}, false, ErrClosed
	}

	data, id, err := c.transport.Receive(timeout)
	if err != nil {
		if errors.Is(err, ErrReceiveTimeout) {
			return Frame{}, false, nil
		}
		return Frame{}, false, c.transportErr(err)
	}
	c.metrics.UnsolicitedFrames.Add(1)
	return Frame{ID: id, Data: data}, true, nil
}

func (c *Client) exchange(ctx context.Context, addr Address) ([]byte, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, 0, ErrClosed
	}

	start := time.Now()
	deadline := start.Add(c.opts.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	am := c.metrics.ForAddress(addr)
	c.metrics.RequestsTotal.Add(1)
	am.Requests.Add(1)

	fail := func(err error) ([]byte, time.Duration, error) {
		c.metrics.RequestsErrors.Add(1)
		am.Errors.Add(1)
		return nil, time.Since(start), err
	}

	req := EncodeReadRequest(addr)
	c.logger.Debug("sdo upload request",
		slog.Uint64("node", uint64(c.node)),
		slog.String("addr", addr.String()))

	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	err := c.transport.Send(sendCtx, RequestID(c.node), req[:])
	cancel()
	if err != nil {
		return fail(fmt.Errorf("send request %s: %w", addr, c.transportErr(err)))
	}

	respID := ResponseID(c.node)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.metrics.Timeouts.Add(1)
			return fail(fmt.Errorf("%w: %s after %v", ErrExchangeTimeout, addr, deadline.Sub(start)))
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		data, id, err := c.transport.Receive(remaining)
		if err != nil {
			if errors.Is(err, ErrReceiveTimeout) {
				continue
			}
			return fail(c.transportErr(err))
		}

		frame := Frame{ID: id, Data: data}
		if id != respID {
			c.forwardLocked(frame)
			continue
		}

		got, payload, _, err := DecodeResponse(data)
		if err != nil {
			var abortErr *AbortError
			if errors.As(err, &abortErr) {
				if got != addr {
					c.forwardLocked(frame)
					continue
				}
				c.metrics.Aborts.Add(1)
				c.logger.Debug("sdo abort",
					slog.String("addr", addr.String()),
					slog.String("code", abortErr.Code.String()))
				return fail(err)
			}

			if len(data) == FrameLen && got != addr {
				c.forwardLocked(frame)
				continue
			}
			c.metrics.Malformed.Add(1)
			c.logger.Warn("malformed sdo response",
				slog.String("addr", addr.String()),
				slog.String("frame", frame.String()),
				slog.String("error", err.Error()))
			return fail(fmt.Errorf("response to %s: %w", addr, err))
		}

		if got != addr {
			c.forwardLocked(frame)
			continue
		}

		duration := time.Since(start)
		c.metrics.RequestsSuccess.Add(1)
		c.metrics.Latency.Observe(duration)
		am.Latency.Observe(duration)

		c.logger.Debug("sdo upload response",
			slog.String("addr", addr.String()),
			slog.Int("size", len(payload)),
			slog.Duration("duration", duration))

		return payload, duration, nil
	}
}

// forwardLocked hands a frame that does not belong to the pending exchange
// to the unsolicited path. Must be called with mu held.
func (c *Client) forwardLocked(f Frame) {
	c.metrics.UnsolicitedFrames.Add(1)
	if c.unsolicited != nil {
		c.unsolicited(f)
	}
}

func (c *Client) transportErr(err error) error {
	if errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
