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
	"log/slog"
	"time"
)

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	node        NodeID
	timeout     time.Duration
	dialTimeout time.Duration

	directory   *Directory
	unsolicited func(Frame)

	logger  *slog.Logger
	metrics *Metrics
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		node:        DefaultNodeID,
		timeout:     DefaultTimeout,
		dialTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
}

// WithNodeID sets the node the client talks to.
func WithNodeID(id NodeID) Option {
	return func(o *clientOptions) {
		o.node = id
	}
}

// WithTimeout sets the bound of one exchange.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithDialTimeout sets the connect timeout for gateway channels.
func WithDialTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.dialTimeout = d
	}
}

// WithDirectory supplies a pre-populated object directory.
func WithDirectory(d *Directory) Option {
	return func(o *clientOptions) {
		o.directory = d
	}
}

// WithUnsolicitedHandler sets the callback receiving every frame that does
// not complete a pending exchange.
func WithUnsolicitedHandler(fn func(Frame)) Option {
	return func(o *clientOptions) {
		o.unsolicited = fn
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics shares a metrics instance with the client.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// SupervisorOption is a functional option for configuring the supervisor.
type SupervisorOption func(*supervisorOptions)

type supervisorOptions struct {
	health        HealthConfig
	healthEnabled bool

	eventBuffer   int
	controlBuffer int
	idleWait      time.Duration

	sessionID string
	logger    *slog.Logger
	now       func() time.Time
}

func defaultSupervisorOptions() *supervisorOptions {
	return &supervisorOptions{
		health:        DefaultHealthConfig(),
		healthEnabled: true,
		eventBuffer:   1024,
		controlBuffer: 64,
		idleWait:      10 * time.Millisecond,
		logger:        slog.Default(),
		now:           time.Now,
	}
}

// WithHealthConfig sets the health check interval and failure threshold.
func WithHealthConfig(cfg HealthConfig) SupervisorOption {
	return func(o *supervisorOptions) {
		o.health = cfg
	}
}

// WithHealthCheck enables or disables the identity object watchdog.
func WithHealthCheck(enable bool) SupervisorOption {
	return func(o *supervisorOptions) {
		o.healthEnabled = enable
	}
}

// WithEventBuffer sets the capacity of the event handoff queue.
func WithEventBuffer(n int) SupervisorOption {
	return func(o *supervisorOptions) {
		o.eventBuffer = n
	}
}

// WithControlBuffer sets the capacity of the control request queue.
func WithControlBuffer(n int) SupervisorOption {
	return func(o *supervisorOptions) {
		o.controlBuffer = n
	}
}

// WithIdleWait caps how long one loop iteration waits for unsolicited
// frames when nothing is due.
func WithIdleWait(d time.Duration) SupervisorOption {
	return func(o *supervisorOptions) {
		o.idleWait = d
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SupervisorOption {
	return func(o *supervisorOptions) {
		o.sessionID = id
	}
}

// WithSupervisorLogger sets the logger for the supervisor.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(o *supervisorOptions) {
		o.logger = logger
	}
}

// WithClock replaces time.Now for scheduling decisions.
func WithClock(now func() time.Time) SupervisorOption {
	return func(o *supervisorOptions) {
		o.now = now
	}
}

// NodeOption is a functional option for configuring the simulated node.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	logger            *slog.Logger
	broadcastInterval time.Duration
	responseDelay     time.Duration
	silent            bool
}

func defaultNodeOptions() *nodeOptions {
	return &nodeOptions{
		logger:            slog.Default(),
		broadcastInterval: 100 * time.Millisecond,
	}
}

// WithNodeLogger sets the logger for the node.
func WithNodeLogger(logger *slog.Logger) NodeOption {
	return func(o *nodeOptions) {
		o.logger = logger
	}
}

// WithBroadcastInterval sets the TPDO1 period. Zero disables broadcasts.
func WithBroadcastInterval(d time.Duration) NodeOption {
	return func(o *nodeOptions) {
		o.broadcastInterval = d
	}
}

// WithResponseDelay delays every SDO response.
func WithResponseDelay(d time.Duration) NodeOption {
	return func(o *nodeOptions) {
		o.responseDelay = d
	}
}

// WithSilent makes the node ignore SDO requests.
func WithSilent(silent bool) NodeOption {
	return func(o *nodeOptions) {
		o.silent = silent
	}
}
