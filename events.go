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
	"time"
)

// Source tells where a reading came from.
type Source int

const (
	SourceRequest Source = iota
	SourcePoll
	SourceHealth
	SourceBroadcast
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourceHealth:
		return "health"
	case SourceBroadcast:
		return "broadcast"
	default:
		return "request"
	}
}

// Reading is the immutable outcome of one exchange or one mapped broadcast
// value. Err is nil on success.
type Reading struct {
	Address   Address
	Type      DataType
	Name      string
	Value     Value
	Timestamp time.Time
	Source    Source
	COBID     uint32 // broadcast identifier, 0 for SDO readings
	Latency   time.Duration
	Err       error
}

// OK reports whether the reading carries a value.
func (r Reading) OK() bool {
	return r.Err == nil
}

// String formats the reading for logs.
func (r Reading) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s %s: %v", r.Source, r.Address, r.Err)
	}
	return fmt.Sprintf("%s %s = %s (%s)", r.Source, r.Address, r.Value, r.Type)
}

// EventKind discriminates Event.
type EventKind int

const (
	EventNumeric EventKind = iota + 1
	EventText
	EventHealth
	EventDiagnostic
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventNumeric:
		return "numeric"
	case EventText:
		return "text"
	case EventHealth:
		return "health"
	case EventDiagnostic:
		return "diagnostic"
	default:
		return "invalid"
	}
}

// Transition is a change of the node's health state.
type Transition struct {
	From     HealthState
	To       HealthState
	Failures int
	Err      error // last failure, nil when entering Connected
}

// Event is the tagged union handed to the consumer.
//
//	EventNumeric     Number, Reading
//	EventText        Text, Reading
//	EventHealth      Health
//	EventDiagnostic  Err, and Reading when the failure came from an exchange
type Event struct {
	Kind      EventKind
	Session   string
	Address   Address
	Timestamp time.Time

	Number  float64
	Text    string
	Reading Reading
	Health  Transition
	Err     error
}

// String formats the event for logs and the console.
func (e Event) String() string {
	switch e.Kind {
	case EventNumeric:
		return fmt.Sprintf("%s %s = %s", e.Kind, e.Address, e.Reading.Value)
	case EventText:
		return fmt.Sprintf("%s %s = %q", e.Kind, e.Address, e.Text)
	case EventHealth:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Health.From, e.Health.To)
	case EventDiagnostic:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Address, e.Err)
	}
	return "invalid event"
}

// HealthEvent wraps a transition.
func HealthEvent(t Transition, at time.Time) Event {
	return Event{
		Kind:      EventHealth,
		Address:   IdentityAddress,
		Timestamp: at,
		Health:    t,
		Err:       t.Err,
	}
}

// DiagnosticEvent reports err against addr.
func DiagnosticEvent(addr Address, err error, at time.Time) Event {
	return Event{
		Kind:      EventDiagnostic,
		Address:   addr,
		Timestamp: at,
		Err:       err,
	}
}
