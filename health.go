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
	"errors"
	"time"
)

// HealthConfig controls the identity object watchdog.
type HealthConfig struct {
	// Interval between two identity reads.
	Interval time.Duration
	// FailureThreshold is the number of consecutive failures that mark
	// the node as disconnected.
	FailureThreshold int
}

// DefaultHealthConfig returns a 2 second interval and a threshold of 2.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:         2 * time.Second,
		FailureThreshold: 2,
	}
}

// DetectionDelay is the worst-case time between the node going silent and
// the Disconnected transition.
func (c HealthConfig) DetectionDelay() time.Duration {
	return c.Interval * time.Duration(c.FailureThreshold)
}

// Validate checks the configuration.
func (c HealthConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.FailureThreshold < 1 {
		return errors.New("canopen: health failure threshold must be at least 1")
	}
	return nil
}

// HealthMonitor tracks the liveness of one node from the outcome of
// periodic identity reads. It is owned by a single goroutine.
type HealthMonitor struct {
	cfg      HealthConfig
	state    HealthState
	failures int
	next     time.Time
}

// NewHealthMonitor creates a monitor in the Unknown state. Invalid values
// fall back to the defaults.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	def := DefaultHealthConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	return &HealthMonitor{cfg: cfg, state: HealthUnknown}
}

// Config returns the effective configuration.
func (m *HealthMonitor) Config() HealthConfig {
	return m.cfg
}

// State returns the current state.
func (m *HealthMonitor) State() HealthState {
	return m.state
}

// Failures returns the consecutive failure count.
func (m *HealthMonitor) Failures() int {
	return m.failures
}

// Due reports whether a check should run at now. The first call is always
// due and anchors the schedule; each due result advances the next check by
// one interval.
func (m *HealthMonitor) Due(now time.Time) bool {
	if m.next.IsZero() {
		m.next = now
	}
	if now.Before(m.next) {
		return false
	}
	m.next = m.next.Add(m.cfg.Interval)
	return true
}

// NextDue returns the time of the next check, zero before the first one.
func (m *HealthMonitor) NextDue() time.Time {
	return m.next
}

// Observe feeds the outcome of one check. It returns the transition and
// true when the state changed.
func (m *HealthMonitor) Observe(err error) (Transition, bool) {
	prev := m.state

	if err == nil {
		m.failures = 0
		if prev == HealthConnected {
			return Transition{}, false
		}
		m.state = HealthConnected
		return Transition{From: prev, To: HealthConnected}, true
	}

	m.failures++
	if prev == HealthDisconnected || m.failures < m.cfg.FailureThreshold {
		return Transition{}, false
	}
	m.state = HealthDisconnected
	return Transition{From: prev, To: HealthDisconnected, Failures: m.failures, Err: err}, true
}
