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
	"fmt"
	"sort"
	"time"
)

// Subscription is a periodic read of one address.
type Subscription struct {
	Address  Address
	Interval time.Duration
	NextDue  time.Time // zero until the first tick
}

// Scheduler decides which subscriptions are due. It does not read
// anything itself and is owned by a single goroutine.
type Scheduler struct {
	subs map[Address]*Subscription
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{subs: make(map[Address]*Subscription)}
}

// Add subscribes addr at interval. Adding an existing address replaces
// its interval and makes it due on the next tick.
func (s *Scheduler) Add(addr Address, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %v for %s", ErrInvalidInterval, interval, addr)
	}
	s.subs[addr] = &Subscription{Address: addr, Interval: interval}
	return nil
}

// Remove drops the subscription for addr.
func (s *Scheduler) Remove(addr Address) bool {
	if _, ok := s.subs[addr]; !ok {
		return false
	}
	delete(s.subs, addr)
	return true
}

// Tick returns the addresses due at now, ordered by due time and then by
// address. Each returned subscription advances by exactly one interval
// from its previous due time, so a late tick does not shift the schedule.
func (s *Scheduler) Tick(now time.Time) []Address {
	var due []*Subscription
	for _, sub := range s.subs {
		if sub.NextDue.IsZero() {
			sub.NextDue = now
		}
		if !sub.NextDue.After(now) {
			due = append(due, sub)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDue.Equal(due[j].NextDue) {
			return due[i].NextDue.Before(due[j].NextDue)
		}
		return due[i].Address.Key() < due[j].Address.Key()
	})

	out := make([]Address, len(due))
	for i, sub := range due {
		out[i] = sub.Address
		sub.NextDue = sub.NextDue.Add(sub.Interval)
	}
	return out
}

// Next returns the earliest due time. ok is false when there are no
// subscriptions. A never-fired subscription reports the zero time.
func (s *Scheduler) Next() (time.Time, bool) {
	var next time.Time
	found := false
	for _, sub := range s.subs {
		if !found || sub.NextDue.Before(next) {
			next = sub.NextDue
			found = true
		}
	}
	return next, found
}

// Len returns the number of subscriptions.
func (s *Scheduler) Len() int {
	return len(s.subs)
}

// Subscriptions returns copies ordered by address.
func (s *Scheduler) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Key() < out[j].Address.Key()
	})
	return out
}
