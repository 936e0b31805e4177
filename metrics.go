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
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// exchangeBounds are histogram upper bounds in milliseconds. A healthy
// expedited exchange on a 125..1000 kbit/s bus completes well under 5 ms.
var exchangeBounds = []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000}

// LatencyHistogram tracks the round-trip time of exchanges.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64 // last bucket counts everything above the last bound
	sum     float64
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates a histogram with the exchange buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(exchangeBounds)+1),
		min:     -1,
		max:     -1,
	}
}

// Observe records one round trip.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++
	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	i := 0
	for i < len(exchangeBounds) && ms > exchangeBounds[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(h.buckets)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	for i, n := range h.buckets {
		stats.Buckets[bucketLabel(i)] = n
	}
	return stats
}

func bucketLabel(i int) string {
	if i >= len(exchangeBounds) {
		return ">" + strconv.FormatFloat(exchangeBounds[len(exchangeBounds)-1], 'f', -1, 64) + "ms"
	}
	return "<=" + strconv.FormatFloat(exchangeBounds[i], 'f', -1, 64) + "ms"
}

// Reset clears the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buckets)
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics in milliseconds.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// Metrics collects exchange and session counters.
type Metrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Timeouts        Counter
	Aborts          Counter
	Malformed       Counter

	UnsolicitedFrames Counter
	BroadcastFrames   Counter
	EventsPublished   Counter
	EventsDropped     Counter

	Latency *LatencyHistogram

	perAddress sync.Map // Address -> *AddressMetrics
}

// AddressMetrics holds the counters of one polled address.
type AddressMetrics struct {
	Requests Counter
	Errors   Counter
	Latency  *LatencyHistogram
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForAddress returns the metrics of addr, creating them on first use.
func (m *Metrics) ForAddress(addr Address) *AddressMetrics {
	if v, ok := m.perAddress.Load(addr); ok {
		return v.(*AddressMetrics)
	}
	v, _ := m.perAddress.LoadOrStore(addr, &AddressMetrics{Latency: NewLatencyHistogram()})
	return v.(*AddressMetrics)
}

// Collect returns a snapshot suitable for JSON encoding.
func (m *Metrics) Collect() map[string]interface{} {
	out := map[string]interface{}{
		"requests_total":     m.RequestsTotal.Value(),
		"requests_success":   m.RequestsSuccess.Value(),
		"requests_errors":    m.RequestsErrors.Value(),
		"timeouts":           m.Timeouts.Value(),
		"aborts":             m.Aborts.Value(),
		"malformed":          m.Malformed.Value(),
		"unsolicited_frames": m.UnsolicitedFrames.Value(),
		"broadcast_frames":   m.BroadcastFrames.Value(),
		"events_published":   m.EventsPublished.Value(),
		"events_dropped":     m.EventsDropped.Value(),
		"latency":            m.Latency.Stats(),
	}

	addrs := make(map[string]interface{})
	m.perAddress.Range(func(k, v interface{}) bool {
		am := v.(*AddressMetrics)
		addrs[k.(Address).String()] = map[string]interface{}{
			"requests": am.Requests.Value(),
			"errors":   am.Errors.Value(),
			"latency":  am.Latency.Stats(),
		}
		return true
	})
	if len(addrs) > 0 {
		out["addresses"] = addrs
	}
	return out
}

// Reset zeroes every counter and histogram.
func (m *Metrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.RequestsErrors.Reset()
	m.Timeouts.Reset()
	m.Aborts.Reset()
	m.Malformed.Reset()
	m.UnsolicitedFrames.Reset()
	m.BroadcastFrames.Reset()
	m.EventsPublished.Reset()
	m.EventsDropped.Reset()
	m.Latency.Reset()
	m.perAddress.Range(func(k, _ interface{}) bool {
		m.perAddress.Delete(k)
		return true
	})
}
