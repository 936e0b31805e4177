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
	"testing"
	"time"
)

func TestSchedulerAddInvalid(t *testing.T) {
	s := NewScheduler()
	if err := s.Add(Address{0x2000, 1}, 0); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len: expected 0, got %d", s.Len())
	}
}

func TestSchedulerFixedRate(t *testing.T) {
	s := NewScheduler()
	addr := Address{0x2000, 0x01}
	s.Add(addr, 250*time.Millisecond)

	t0 := time.Unix(0, 0).Add(time.Hour)
	var fires []time.Time
	for i := 0; i < 4; i++ {
		now := t0.Add(time.Duration(i) * 250 * time.Millisecond)
		due := s.Tick(now)
		if len(due) != 1 || due[0] != addr {
			t.Fatalf("tick %d: expected [%s], got %v", i, addr, due)
		}
		fires = append(fires, now)
	}

	for i := 1; i < len(fires); i++ {
		if d := fires[i].Sub(fires[i-1]); d != 250*time.Millisecond {
			t.Errorf("spacing %d: expected 250ms, got %v", i, d)
		}
	}

	next, ok := s.Next()
	if !ok || !next.Equal(t0.Add(time.Second)) {
		t.Errorf("Next: expected t0+1s, got %v", next.Sub(t0))
	}
}

func TestSchedulerLateTickKeepsSchedule(t *testing.T) {
	s := NewScheduler()
	addr := Address{0x2000, 0x01}
	s.Add(addr, 100*time.Millisecond)
	t0 := time.Unix(100, 0)

	s.Tick(t0)
	if due := s.Tick(t0.Add(130 * time.Millisecond)); len(due) != 1 {
		t.Fatalf("late tick: expected a fire, got %v", due)
	}
	subs := s.Subscriptions()
	if !subs[0].NextDue.Equal(t0.Add(200 * time.Millisecond)) {
		t.Errorf("NextDue: expected t0+200ms, got t0+%v", subs[0].NextDue.Sub(t0))
	}

	// At most one fire per tick even when several intervals were missed.
	if due := s.Tick(t0.Add(550 * time.Millisecond)); len(due) != 1 {
		t.Errorf("expected one fire, got %d", len(due))
	}
}

func TestSchedulerOrdering(t *testing.T) {
	s := NewScheduler()
	a := Address{0x2003, 0x01}
	b := Address{0x2000, 0x02}
	c := Address{0x2000, 0x01}
	s.Add(a, time.Second)
	s.Add(b, time.Second)
	s.Add(c, 500*time.Millisecond)

	t0 := time.Unix(200, 0)
	due := s.Tick(t0)
	expected := []Address{c, b, a}
	if len(due) != 3 {
		t.Fatalf("expected 3 due, got %v", due)
	}
	for i := range expected {
		if due[i] != expected[i] {
			t.Errorf("order %d: expected %s, got %s", i, expected[i], due[i])
		}
	}

	due = s.Tick(t0.Add(500 * time.Millisecond))
	if len(due) != 1 || due[0] != c {
		t.Errorf("half-interval tick: expected [%s], got %v", c, due)
	}
}

func TestSchedulerRemove(t *testing.T) {
	s := NewScheduler()
	addr := Address{0x2001, 0x01}
	s.Add(addr, time.Second)

	if !s.Remove(addr) {
		t.Error("Remove should report an existing subscription")
	}
	if s.Remove(addr) {
		t.Error("second Remove should report false")
	}
	if _, ok := s.Next(); ok {
		t.Error("Next should report no subscriptions")
	}
	if due := s.Tick(time.Now()); len(due) != 0 {
		t.Errorf("expected nothing due, got %v", due)
	}
}
