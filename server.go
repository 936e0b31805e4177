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
	"math"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ObjectStore supplies object values to a simulated node. ReadObject
// returns the little-endian bytes of addr. An *AbortError result is sent
// as is; ErrUnknownAddress becomes "object does not exist" and anything
// else a general error.
type ObjectStore interface {
	ReadObject(addr Address) ([]byte, error)
}

// Node is a simulated SDO server. It answers expedited upload requests
// from an ObjectStore and broadcasts its enabled TPDOs periodically.
type Node struct {
	transport Transport
	id        NodeID
	store     ObjectStore
	opts      *nodeOptions
	silent    atomic.Bool
	metrics   *NodeMetrics
}

// NodeMetrics holds node-side metrics.
type NodeMetrics struct {
	Requests   Counter
	Responses  Counter
	Aborts     Counter
	Broadcasts Counter
}

// NewNode creates a node with the given id on t.
func NewNode(t Transport, id NodeID, store ObjectStore, opts ...NodeOption) (*Node, error) {
	if t == nil {
		return nil, errors.New("canopen: transport cannot be nil")
	}
	if !id.Valid() {
		return nil, fmt.Errorf("canopen: node id %d out of range 1..127", id)
	}
	if store == nil {
		store = DefaultObjectStore(id)
	}

	options := defaultNodeOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	n := &Node{
		transport: t,
		id:        id,
		store:     store,
		opts:      options,
		metrics:   &NodeMetrics{},
	}
	n.silent.Store(options.silent)
	return n, nil
}

// ID returns the node id.
func (n *Node) ID() NodeID {
	return n.id
}

// Metrics returns the node metrics.
func (n *Node) Metrics() *NodeMetrics {
	return n.metrics
}

// SetSilent makes the node stop (or resume) answering requests.
// Broadcasts continue.
func (n *Node) SetSilent(silent bool) {
	n.silent.Store(silent)
}

// Close closes the node's transport.
func (n *Node) Close() error {
	return n.transport.Close()
}

// Serve handles requests until ctx is done.
func (n *Node) Serve(ctx context.Context) error {
	logger := n.opts.logger.With(slog.Uint64("node", uint64(n.id)))
	logger.Info("node started",
		slog.String("request_id", fmt.Sprintf("0x%03X", RequestID(n.id))),
		slog.Duration("broadcast_interval", n.opts.broadcastInterval))
	defer logger.Info("node stopped")

	var nextBroadcast time.Time
	if n.opts.broadcastInterval > 0 {
		nextBroadcast = time.Now().Add(n.opts.broadcastInterval)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := 10 * time.Millisecond
		if !nextBroadcast.IsZero() {
			if d := time.Until(nextBroadcast); d < wait {
				wait = d
			}
		}

		data, id, err := n.transport.Receive(wait)
		switch {
		case err == nil:
			if id == RequestID(n.id) {
				n.handleRequest(ctx, logger, data)
			}
		case errors.Is(err, ErrReceiveTimeout):
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("node %d receive: %w", n.id, err)
		}

		if !nextBroadcast.IsZero() && !time.Now().Before(nextBroadcast) {
			n.broadcast(ctx, logger)
			nextBroadcast = nextBroadcast.Add(n.opts.broadcastInterval)
			if time.Now().After(nextBroadcast) {
				nextBroadcast = time.Now().Add(n.opts.broadcastInterval)
			}
		}
	}
}

func (n *Node) handleRequest(ctx context.Context, logger *slog.Logger, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in request handler",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	n.metrics.Requests.Add(1)
	if n.silent.Load() {
		return
	}

	resp, ok := n.processRequest(payload)
	if !ok {
		logger.Debug("ignoring malformed request", slog.Int("length", len(payload)))
		return
	}

	if d := n.opts.responseDelay; d > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}

	if err := n.transport.Send(ctx, ResponseID(n.id), resp[:]); err != nil {
		logger.Debug("send response failed", slog.String("error", err.Error()))
		return
	}
	if resp[0] == CmdAbort {
		n.metrics.Aborts.Add(1)
	} else {
		n.metrics.Responses.Add(1)
	}
}

func (n *Node) processRequest(payload []byte) ([FrameLen]byte, bool) {
	addr, err := DecodeRequest(payload)
	if err != nil {
		if errors.Is(err, ErrUnexpectedCommand) {
			return EncodeAbort(addr, AbortCommandSpecifier), true
		}
		return [FrameLen]byte{}, false
	}

	data, err := n.store.ReadObject(addr)
	if err != nil {
		return EncodeAbort(addr, abortCodeFor(err)), true
	}
	if len(data) == 0 || len(data) > MaxExpeditedSize {
		return EncodeAbort(addr, AbortCommandSpecifier), true
	}

	resp, err := EncodeExpeditedResponse(addr, data)
	if err != nil {
		return EncodeAbort(addr, AbortGeneral), true
	}
	return resp, true
}

func abortCodeFor(err error) AbortCode {
	var abortErr *AbortError
	switch {
	case errors.As(err, &abortErr):
		return abortErr.Code
	case errors.Is(err, ErrUnknownAddress):
		return AbortNoObject
	default:
		return AbortGeneral
	}
}

// broadcast sends every enabled TPDO, built from the node's own
// communication and mapping parameters.
func (n *Node) broadcast(ctx context.Context, logger *slog.Logger) {
	if adv, ok := n.store.(interface{ Advance() }); ok {
		adv.Advance()
	}

	for i := 0; i < MaxTPDO; i++ {
		cobID, payload, ok := n.composeTPDO(i)
		if !ok {
			continue
		}
		if err := n.transport.Send(ctx, cobID, payload); err != nil {
			logger.Debug("tpdo send failed",
				slog.Int("tpdo", i+1),
				slog.String("error", err.Error()))
			continue
		}
		n.metrics.Broadcasts.Add(1)
	}
}

func (n *Node) composeTPDO(i int) (uint32, []byte, bool) {
	raw, err := n.store.ReadObject(Address{Index: TPDOCommBase + uint16(i), Sub: 0x01})
	if err != nil {
		return 0, nil, false
	}
	cobID := leUint32(raw)
	if cobID&PDOInvalidBit != 0 {
		return 0, nil, false
	}

	mapIndex := TPDOMappingBase + uint16(i)
	raw, err = n.store.ReadObject(Address{Index: mapIndex, Sub: 0x00})
	if err != nil {
		return 0, nil, false
	}
	count := int(leUint32(raw))

	payload := make([]byte, 0, FrameLen)
	for sub := 1; sub <= count; sub++ {
		raw, err := n.store.ReadObject(Address{Index: mapIndex, Sub: uint8(sub)})
		if err != nil {
			return 0, nil, false
		}
		obj := DecodeMappingValue(leUint32(raw))
		width := int(obj.BitLength) / 8

		value, err := n.store.ReadObject(obj.Address)
		if err != nil || len(value) < width || len(payload)+width > FrameLen {
			return 0, nil, false
		}
		payload = append(payload, value[:width]...)
	}
	return cobID & COBIDMask, payload, true
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// MemoryStore is an in-memory ObjectStore. Values are either fixed bytes
// or produced by a function on every read.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[Address]func() []byte
	advances []func()
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[Address]func() []byte)}
}

// Set encodes v as t and stores it at addr.
func (s *MemoryStore) Set(addr Address, t DataType, v any) error {
	raw, err := EncodeValue(t, v)
	if err != nil {
		return err
	}
	s.SetRaw(addr, raw)
	return nil
}

// SetRaw stores raw bytes at addr.
func (s *MemoryStore) SetRaw(addr Address, raw []byte) {
	b := append([]byte(nil), raw...)
	s.SetFunc(addr, func() []byte { return b })
}

// SetFunc makes addr produce fn() on every read.
func (s *MemoryStore) SetFunc(addr Address, fn func() []byte) {
	s.mu.Lock()
	s.objects[addr] = fn
	s.mu.Unlock()
}

// Delete removes addr.
func (s *MemoryStore) Delete(addr Address) {
	s.mu.Lock()
	delete(s.objects, addr)
	s.mu.Unlock()
}

// OnAdvance registers fn to run before each broadcast cycle.
func (s *MemoryStore) OnAdvance(fn func()) {
	s.mu.Lock()
	s.advances = append(s.advances, fn)
	s.mu.Unlock()
}

// Advance runs the registered advance functions.
func (s *MemoryStore) Advance() {
	s.mu.RLock()
	fns := append([]func(){}, s.advances...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// ReadObject implements ObjectStore.
func (s *MemoryStore) ReadObject(addr Address) ([]byte, error) {
	s.mu.RLock()
	fn, ok := s.objects[addr]
	s.mu.RUnlock()
	if !ok {
		return nil, NewAbortError(addr, AbortNoObject)
	}
	return fn(), nil
}

// Len returns the number of objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Process data objects of the default store, carried in TPDO1.
var (
	TemperatureAddress = Address{Index: 0x2100, Sub: 0x01}
	PressureAddress    = Address{Index: 0x2100, Sub: 0x02}
	StatusAddress      = Address{Index: 0x2100, Sub: 0x03}
)

// DefaultObjectStore returns the dictionary of the demo device: identity
// objects, a set of sensor values and a TPDO1 carrying temperature
// (0.01 °C), pressure (hPa) and a status byte.
func DefaultObjectStore(id NodeID) *MemoryStore {
	s := NewMemoryStore()

	s.Set(Address{0x1000, 0x00}, UInt32, 0x00000191)
	s.Set(Address{0x1001, 0x00}, UInt8, 0)
	s.SetRaw(Address{0x1008, 0x00}, []byte("Mock"))
	s.SetRaw(Address{0x1009, 0x00}, []byte("MockCANopenNode"))
	s.Set(Address{0x1018, 0x00}, UInt8, 4)
	s.Set(Address{0x1018, 0x01}, UInt32, 0x00000001)
	s.Set(Address{0x1018, 0x02}, UInt32, 0x00000002)
	s.Set(Address{0x1018, 0x03}, UInt32, 0x00010000)
	s.Set(Address{0x1018, 0x04}, UInt32, 0x12345678)

	s.SetFunc(Address{0x2000, 0x01}, randomReal32(20, 30))
	s.SetFunc(Address{0x2000, 0x02}, randomReal32(95, 105))
	var counter atomic.Uint32
	s.SetFunc(Address{0x2001, 0x01}, func() []byte {
		raw, _ := EncodeValue(UInt32, counter.Add(1)-1)
		return raw
	})
	s.SetFunc(Address{0x2002, 0x01}, randomReal32(11.5, 12.5))
	s.SetFunc(Address{0x2002, 0x02}, randomReal32(0.5, 5))
	s.Set(Address{0x2003, 0x01}, UInt16, 0x0031)
	s.Set(Address{0x2003, 0x02}, UInt16, 0x000F)
	s.SetFunc(Address{0x2004, 0x01}, func() []byte {
		raw, _ := EncodeValue(Int32, 1000+rand.IntN(2000))
		return raw
	})
	var position atomic.Int32
	s.SetFunc(Address{0x2005, 0x01}, func() []byte {
		raw, _ := EncodeValue(Int32, position.Add(10)-10)
		return raw
	})

	var (
		mu          sync.Mutex
		temperature uint16 = 2350
		pressure    uint16 = 1013
		status      uint8  = 1
	)
	s.OnAdvance(func() {
		mu.Lock()
		temperature = (temperature + 1) % 3000
		pressure = 1000 + (pressure-1000+1)%50
		if status == 1 {
			status = 2
		} else {
			status = 1
		}
		mu.Unlock()
	})
	s.SetFunc(TemperatureAddress, func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return []byte{byte(temperature), byte(temperature >> 8)}
	})
	s.SetFunc(PressureAddress, func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return []byte{byte(pressure), byte(pressure >> 8)}
	})
	s.SetFunc(StatusAddress, func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return []byte{status}
	})

	for i := 0; i < MaxTPDO; i++ {
		cobID := DefaultTPDOCOBID(i+1, id)
		if i > 0 {
			cobID |= PDOInvalidBit
		}
		s.Set(Address{TPDOCommBase + uint16(i), 0x01}, UInt32, cobID)
		s.Set(Address{TPDOMappingBase + uint16(i), 0x00}, UInt8, 0)
	}
	s.Set(Address{TPDOMappingBase, 0x00}, UInt8, 3)
	s.Set(Address{TPDOMappingBase, 0x01}, UInt32,
		EncodeMappingValue(MappedObject{Address: TemperatureAddress, BitLength: 16}))
	s.Set(Address{TPDOMappingBase, 0x02}, UInt32,
		EncodeMappingValue(MappedObject{Address: PressureAddress, BitLength: 16}))
	s.Set(Address{TPDOMappingBase, 0x03}, UInt32,
		EncodeMappingValue(MappedObject{Address: StatusAddress, BitLength: 8}))

	return s
}

func randomReal32(lo, hi float64) func() []byte {
	return func() []byte {
		v := float32(lo + rand.Float64()*(hi-lo))
		bits := math.Float32bits(v)
		return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
	}
}
