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

func TestCounter(t *testing.T) {
	var c Counter

	if c.Value() != 0 {
		t.Errorf("Initial value: expected 0, got %d", c.Value())
	}

	c.Add(5)
	if c.Value() != 5 {
		t.Errorf("After Add(5): expected 5, got %d", c.Value())
	}

	c.Add(-2)
	if c.Value() != 3 {
		t.Errorf("After Add(-2): expected 3, got %d", c.Value())
	}

	c.Reset()
	if c.Value() != 0 {
		t.Errorf("After Reset: expected 0, got %d", c.Value())
	}
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram()

	h.Observe(400 * time.Microsecond)
	h.Observe(2 * time.Millisecond)
	h.Observe(3 * time.Millisecond)
	h.Observe(40 * time.Millisecond)
	h.Observe(2 * time.Second)

	stats := h.Stats()

	if stats.Count != 5 {
		t.Errorf("Count: expected 5, got %d", stats.Count)
	}
	if stats.Min < 0.3 || stats.Min > 0.5 {
		t.Errorf("Min: expected ~0.4, got %.2f", stats.Min)
	}
	if stats.Max < 1999 || stats.Max > 2001 {
		t.Errorf("Max: expected ~2000, got %.2f", stats.Max)
	}

	expected := map[string]int64{
		"<=0.5ms":  1,
		"<=2ms":    1,
		"<=5ms":    1,
		"<=50ms":   1,
		">1000ms":  1,
		"<=1000ms": 0,
	}
	for label, n := range expected {
		if stats.Buckets[label] != n {
			t.Errorf("Bucket %s: expected %d, got %d", label, n, stats.Buckets[label])
		}
	}
}

func TestLatencyHistogramReset(t *testing.T) {
	h := NewLatencyHistogram()
	h.Observe(time.Millisecond)
	h.Reset()

	stats := h.Stats()
	if stats.Count != 0 || stats.Sum != 0 {
		t.Errorf("After Reset: count %d sum %.2f", stats.Count, stats.Sum)
	}
	if stats.Buckets["<=1ms"] != 0 {
		t.Errorf("Bucket <=1ms: expected 0 after reset, got %d", stats.Buckets["<=1ms"])
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RequestsTotal.Add(10)
	m.RequestsSuccess.Add(8)
	m.RequestsErrors.Add(2)
	m.Timeouts.Add(1)
	m.EventsDropped.Add(3)
	m.Latency.Observe(time.Millisecond)

	collected := m.Collect()

	if collected["requests_total"].(int64) != 10 {
		t.Errorf("requests_total: expected 10, got %v", collected["requests_total"])
	}
	if collected["requests_success"].(int64) != 8 {
		t.Errorf("requests_success: expected 8, got %v", collected["requests_success"])
	}
	if collected["timeouts"].(int64) != 1 {
		t.Errorf("timeouts: expected 1, got %v", collected["timeouts"])
	}
	if collected["events_dropped"].(int64) != 3 {
		t.Errorf("events_dropped: expected 3, got %v", collected["events_dropped"])
	}
	if _, ok := collected["addresses"]; ok {
		t.Error("addresses should be omitted when empty")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RequestsTotal.Add(10)
	m.ForAddress(IdentityAddress).Requests.Add(1)

	m.Reset()

	if m.RequestsTotal.Value() != 0 {
		t.Errorf("RequestsTotal after Reset: expected 0, got %d", m.RequestsTotal.Value())
	}
	if _, ok := m.Collect()["addresses"]; ok {
		t.Error("per-address metrics should be cleared")
	}
}

func TestAddressMetrics(t *testing.T) {
	m := NewMetrics()
	addr := Address{0x2000, 0x01}

	am := m.ForAddress(addr)
	am.Requests.Add(3)
	am.Errors.Add(1)

	if m.ForAddress(addr) != am {
		t.Error("ForAddress should return the same instance")
	}

	addrs := m.Collect()["addresses"].(map[string]interface{})
	entry, ok := addrs["0x2000:01"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing entry for 0x2000:01: %v", addrs)
	}
	if entry["requests"].(int64) != 3 || entry["errors"].(int64) != 1 {
		t.Errorf("unexpected address metrics: %v", entry)
	}
}
