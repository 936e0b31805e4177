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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// maxPendingFrames bounds frames forwarded by exchanges between two loop
// iterations.
const maxPendingFrames = 256

type controlKind int

const (
	ctlSubscribe controlKind = iota
	ctlUnsubscribe
	ctlWatch
	ctlUnwatch
	ctlRegister
)

type controlRequest struct {
	kind     controlKind
	addr     Address
	interval time.Duration
	mapping  PDOMapping
	cobID    uint32
	dtype    DataType
	name     string
}

// Supervisor owns one session: it multiplexes polling subscriptions, the
// identity watchdog and broadcast decoding onto the client's transport,
// and hands events to the consumer through a bounded queue.
//
// Only Run touches the transport. Every other method is safe to call from
// any goroutine and never blocks.
type Supervisor struct {
	client  *Client
	opts    *supervisorOptions
	logger  *slog.Logger
	metrics *Metrics
	session string

	mu       sync.Mutex // guards sched and registry for snapshots
	sched    *Scheduler
	registry *BroadcastRegistry
	health   *HealthMonitor

	state atomic.Int32

	pendMu  sync.Mutex
	pending []Frame

	control chan controlRequest
	events  chan Event

	running  atomic.Bool
	stopped  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSupervisor creates a supervisor for client. The supervisor takes
// ownership of the client and closes it when Run returns.
func NewSupervisor(client *Client, opts ...SupervisorOption) (*Supervisor, error) {
	if client == nil {
		return nil, errors.New("canopen: client cannot be nil")
	}

	options := defaultSupervisorOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.healthEnabled {
		if err := options.health.Validate(); err != nil {
			return nil, err
		}
	}
	if options.eventBuffer < 1 {
		return nil, fmt.Errorf("canopen: event buffer must be at least 1, got %d", options.eventBuffer)
	}
	if options.controlBuffer < 1 {
		return nil, fmt.Errorf("canopen: control buffer must be at least 1, got %d", options.controlBuffer)
	}
	if options.sessionID == "" {
		options.sessionID = uuid.NewString()
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.now == nil {
		options.now = time.Now
	}

	s := &Supervisor{
		client:   client,
		opts:     options,
		logger:   options.logger.With(slog.String("session", options.sessionID)),
		metrics:  client.Metrics(),
		session:  options.sessionID,
		sched:    NewScheduler(),
		registry: NewBroadcastRegistry(),
		control:  make(chan controlRequest, options.controlBuffer),
		events:   make(chan Event, options.eventBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if options.healthEnabled {
		s.health = NewHealthMonitor(options.health)
	}
	s.state.Store(int32(HealthUnknown))
	return s, nil
}

// SessionID returns the id carried on every event of this session.
func (s *Supervisor) SessionID() string {
	return s.session
}

// Client returns the supervised client.
func (s *Supervisor) Client() *Client {
	return s.client
}

// HealthState returns the last known health state.
func (s *Supervisor) HealthState() HealthState {
	return HealthState(s.state.Load())
}

// Events returns the event queue. It is closed when Run returns.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// TryNext returns the next queued event without waiting.
func (s *Supervisor) TryNext() (Event, bool) {
	select {
	case ev, ok := <-s.events:
		return ev, ok
	default:
		return Event{}, false
	}
}

// Done is closed once Run has returned and the transport is closed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Stop asks Run to return after the exchange in flight.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Subscribe polls addr every interval. The address must be registered in
// the directory by the time the request is processed; otherwise a
// diagnostic event is published.
func (s *Supervisor) Subscribe(addr Address, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %v for %s", ErrInvalidInterval, interval, addr)
	}
	return s.submit(controlRequest{kind: ctlSubscribe, addr: addr, interval: interval})
}

// Unsubscribe stops polling addr.
func (s *Supervisor) Unsubscribe(addr Address) error {
	return s.submit(controlRequest{kind: ctlUnsubscribe, addr: addr})
}

// Watch decodes broadcasts described by m. Mapped objects are registered
// in the directory with their mapped type.
func (s *Supervisor) Watch(m PDOMapping) error {
	return s.submit(controlRequest{kind: ctlWatch, mapping: m})
}

// Unwatch stops decoding broadcasts on cobID.
func (s *Supervisor) Unwatch(cobID uint32) error {
	return s.submit(controlRequest{kind: ctlUnwatch, cobID: cobID})
}

// Register declares addr in the directory from the session goroutine.
func (s *Supervisor) Register(addr Address, t DataType, name string) error {
	return s.submit(controlRequest{kind: ctlRegister, addr: addr, dtype: t, name: name})
}

// Subscriptions returns a snapshot of the active subscriptions.
func (s *Supervisor) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.Subscriptions()
}

// Mappings returns a snapshot of the watched broadcasts.
func (s *Supervisor) Mappings() []PDOMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Mappings()
}

func (s *Supervisor) submit(req controlRequest) error {
	if s.stopped.Load() {
		return ErrSupervisorStopped
	}
	select {
	case s.control <- req:
		return nil
	default:
		return ErrControlBusy
	}
}

// Run drives the session until ctx is done or Stop is called. Each
// iteration drains control requests, processes unsolicited frames, runs
// the health check when due and then the due polls. An exchange that has
// started always completes before Run returns. The client is closed and
// the event queue is closed on return.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("canopen: supervisor already running")
	}
	defer s.shutdown()

	s.client.SetUnsolicitedHandler(s.enqueueFrame)
	s.logger.Info("supervisor started",
		slog.Uint64("node", uint64(s.client.Node())),
		slog.Bool("health", s.health != nil))

	xctx := context.WithoutCancel(ctx)
	for {
		if s.exiting(ctx) {
			return nil
		}

		s.drainControl()

		if err := s.intake(); err != nil {
			return err
		}

		if s.health != nil && s.health.Due(s.opts.now()) {
			if s.exiting(ctx) {
				return nil
			}
			s.checkHealth(xctx)
		}

		s.mu.Lock()
		due := s.sched.Tick(s.opts.now())
		s.mu.Unlock()
		for _, addr := range due {
			if s.exiting(ctx) {
				return nil
			}
			r := s.client.read(xctx, addr, SourcePoll)
			if r.Err != nil {
				s.logger.Debug("poll failed",
					slog.String("addr", addr.String()),
					slog.String("error", r.Err.Error()))
			}
			s.publish(Classify(r))
		}
	}
}

func (s *Supervisor) exiting(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Supervisor) shutdown() {
	s.stopped.Store(true)
	s.client.SetUnsolicitedHandler(nil)
	if err := s.client.Close(); err != nil {
		s.logger.Warn("close transport", slog.String("error", err.Error()))
	}
	close(s.events)
	close(s.done)
	s.logger.Info("supervisor stopped",
		slog.Int64("events_published", s.metrics.EventsPublished.Value()),
		slog.Int64("events_dropped", s.metrics.EventsDropped.Value()))
}

func (s *Supervisor) drainControl() {
	for {
		select {
		case req := <-s.control:
			s.apply(req)
		default:
			return
		}
	}
}

func (s *Supervisor) apply(req controlRequest) {
	now := s.opts.now()
	dir := s.client.Directory()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.kind {
	case ctlSubscribe:
		if _, ok := dir.Lookup(req.addr); !ok {
			s.reject(req.addr, fmt.Errorf("subscribe: %w: %s", ErrUnknownAddress, req.addr), now)
			return
		}
		if err := s.sched.Add(req.addr, req.interval); err != nil {
			s.reject(req.addr, err, now)
			return
		}
		s.logger.Debug("subscribed",
			slog.String("addr", req.addr.String()),
			slog.Duration("interval", req.interval))

	case ctlUnsubscribe:
		if !s.sched.Remove(req.addr) {
			s.reject(req.addr, fmt.Errorf("unsubscribe: %s is not subscribed", req.addr), now)
		}

	case ctlWatch:
		m, err := resolveMapping(req.mapping)
		if err != nil {
			s.reject(Address{}, err, now)
			return
		}
		if tc := checkMapped(dir, m); tc != nil {
			s.reject(tc.Address, fmt.Errorf("watch 0x%03X: %w", m.COBID, tc), now)
			return
		}
		for _, o := range m.Objects {
			if err := dir.Register(o.Address, o.Type, WithName(o.Name)); err != nil {
				s.reject(o.Address, fmt.Errorf("watch 0x%03X: %w", m.COBID, err), now)
				return
			}
		}
		if err := s.registry.Watch(m); err != nil {
			s.reject(Address{}, err, now)
			return
		}
		s.logger.Debug("watching broadcast",
			slog.String("cob_id", fmt.Sprintf("0x%03X", m.COBID)),
			slog.Int("objects", len(m.Objects)))

	case ctlUnwatch:
		if !s.registry.Unwatch(req.cobID) {
			s.reject(Address{}, fmt.Errorf("unwatch: 0x%03X is not watched", req.cobID), now)
		}

	case ctlRegister:
		if err := dir.Register(req.addr, req.dtype, WithName(req.name)); err != nil {
			s.reject(req.addr, err, now)
		}
	}
}

// checkMapped reports the first mapped object whose type conflicts with the
// directory or with an earlier object of the same mapping.
func checkMapped(dir *Directory, m PDOMapping) *TypeConflictError {
	seen := make(map[Address]DataType, len(m.Objects))
	for _, o := range m.Objects {
		if t, ok := seen[o.Address]; ok && t != o.Type {
			return &TypeConflictError{Address: o.Address, Existing: t, Got: o.Type}
		}
		seen[o.Address] = o.Type
		if e, ok := dir.Lookup(o.Address); ok && e.Type != o.Type {
			return &TypeConflictError{Address: o.Address, Existing: e.Type, Got: o.Type}
		}
	}
	return nil
}

func (s *Supervisor) reject(addr Address, err error, now time.Time) {
	s.logger.Warn("control request rejected",
		slog.String("addr", addr.String()),
		slog.String("error", err.Error()))
	s.publish(DiagnosticEvent(addr, err, now))
}

// enqueueFrame is the client's unsolicited handler. It runs with the
// client lock held, so it only buffers.
func (s *Supervisor) enqueueFrame(f Frame) {
	s.pendMu.Lock()
	if len(s.pending) >= maxPendingFrames {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, f)
	s.pendMu.Unlock()
}

func (s *Supervisor) takePending() []Frame {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// intake routes frames forwarded by earlier exchanges, then waits for one
// more frame no longer than the idle wait or the next due time.
func (s *Supervisor) intake() error {
	for _, f := range s.takePending() {
		s.route(f)
	}

	f, ok, err := s.client.ReceiveFrame(s.receiveWait())
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		s.logger.Warn("receive failed", slog.String("error", err.Error()))
		s.publish(DiagnosticEvent(Address{}, err, s.opts.now()))
		return nil
	}
	if ok {
		s.route(f)
	}
	return nil
}

func (s *Supervisor) receiveWait() time.Duration {
	wait := s.opts.idleWait
	now := s.opts.now()

	s.mu.Lock()
	next, ok := s.sched.Next()
	s.mu.Unlock()
	if ok {
		if next.IsZero() {
			return 0
		}
		if d := next.Sub(now); d < wait {
			wait = d
		}
	}
	if s.health != nil {
		next := s.health.NextDue()
		if next.IsZero() {
			return 0
		}
		if d := next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Supervisor) route(f Frame) {
	s.mu.Lock()
	readings := s.registry.Decode(f.ID, f.Data, s.opts.now())
	s.mu.Unlock()
	if readings == nil {
		return
	}

	s.metrics.BroadcastFrames.Add(1)
	dir := s.client.Directory()
	for _, r := range readings {
		if r.Err == nil {
			dir.UpdateLastValue(r.Address, r.Value.Raw)
		}
		s.publish(Classify(r))
	}
}

func (s *Supervisor) checkHealth(ctx context.Context) {
	r := s.client.read(ctx, IdentityAddress, SourceHealth)
	s.publish(Classify(r))

	t, changed := s.health.Observe(r.Err)
	if !changed {
		return
	}
	s.state.Store(int32(t.To))
	s.logger.Info("health changed",
		slog.String("from", t.From.String()),
		slog.String("to", t.To.String()),
		slog.Int("failures", t.Failures))
	s.publish(HealthEvent(t, r.Timestamp))
}

// publish appends ev to the event queue. When the queue is full the oldest
// event is evicted.
func (s *Supervisor) publish(ev Event) {
	ev.Session = s.session
	for {
		select {
		case s.events <- ev:
			s.metrics.EventsPublished.Add(1)
			return
		default:
		}

		select {
		case <-s.events:
			s.metrics.EventsDropped.Add(1)
		default:
		}
	}
}
