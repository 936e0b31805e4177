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
	"testing"
	"time"
)

func TestHealthConfigDefaults(t *testing.T) {
	cfg := DefaultHealthConfig()
	if cfg.Interval != 2*time.Second || cfg.FailureThreshold != 2 {
		t.Errorf("defaults: got %+v", cfg)
	}
	if cfg.DetectionDelay() != 4*time.Second {
		t.Errorf("DetectionDelay: expected 4s, got %v", cfg.DetectionDelay())
	}
	if err := (HealthConfig{Interval: 0, FailureThreshold: 2}).Validate(); err == nil {
		t.Error("zero interval should be rejected")
	}
}

func TestHealthMonitorTransitions(t *testing.T) {
	m := NewHealthMonitor(DefaultHealthConfig())
	if m.State() != HealthUnknown {
		t.Fatalf("initial state: expected unknown, got %s", m.State())
	}

	tr, changed := m.Observe(nil)
	if !changed || tr.From != HealthUnknown || tr.To != HealthConnected {
		t.Errorf("first success: got %+v changed=%v", tr, changed)
	}

	if _, changed := m.Observe(ErrExchangeTimeout); changed {
		t.Error("first failure should not change state")
	}
	if m.State() != HealthConnected || m.Failures() != 1 {
		t.Errorf("after one failure: state %s failures %d", m.State(), m.Failures())
	}

	tr, changed = m.Observe(ErrExchangeTimeout)
	if !changed || tr.To != HealthDisconnected || tr.Failures != 2 {
		t.Errorf("second failure: got %+v changed=%v", tr, changed)
	}
	if tr.Err != ErrExchangeTimeout {
		t.Errorf("transition error: expected timeout, got %v", tr.Err)
	}

	if _, changed := m.Observe(ErrExchangeTimeout); changed {
		t.Error("further failures should not repeat the transition")
	}

	tr, changed = m.Observe(nil)
	if !changed || tr.From != HealthDisconnected || tr.To != HealthConnected {
		t.Errorf("recovery: got %+v changed=%v", tr, changed)
	}
	if m.Failures() != 0 {
		t.Errorf("failures after recovery: expected 0, got %d", m.Failures())
	}
}

func TestHealthMonitorFailuresFromUnknown(t *testing.T) {
	m := NewHealthMonitor(HealthConfig{Interval: time.Second, FailureThreshold: 3})
	for i := 0; i < 2; i++ {
		if _, changed := m.Observe(ErrExchangeTimeout); changed {
			t.Fatalf("failure %d should not change state", i+1)
		}
	}
	tr, changed := m.Observe(ErrExchangeTimeout)
	if !changed || tr.From != HealthUnknown || tr.To != HealthDisconnected {
		t.Errorf("third failure: got %+v changed=%v", tr, changed)
	}
}

func TestHealthMonitorDue(t *testing.T) {
	m := NewHealthMonitor(HealthConfig{Interval: 2 * time.Second, FailureThreshold: 2})
	t0 := time.Unix(1000, 0)

	if !m.Due(t0) {
		t.Fatal("first check should be due immediately")
	}
	if m.Due(t0.Add(1999 * time.Millisecond)) {
		t.Error("check should not be due before the interval")
	}
	if !m.Due(t0.Add(2100 * time.Millisecond)) {
		t.Error("check should be due after the interval")
	}
	if !m.NextDue().Equal(t0.Add(4 * time.Second)) {
		t.Errorf("next due should advance from the schedule, got %v", m.NextDue().Sub(t0))
	}
}
