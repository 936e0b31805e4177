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

// Package sink forwards supervisor events to files and message brokers.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/edgeo-scada/canopen"
)

// Sink consumes events. Implementations must be safe for use from one
// goroutine at a time; Fanout serializes calls.
type Sink interface {
	Write(ctx context.Context, ev canopen.Event) error
	Close() error
}

// Record is the flattened, serializable view of an event.
type Record struct {
	Timestamp time.Time `json:"timestamp" cbor:"1,keyasint"`
	Session   string    `json:"session,omitempty" cbor:"2,keyasint,omitempty"`
	Kind      string    `json:"kind" cbor:"3,keyasint"`
	Address   string    `json:"address" cbor:"4,keyasint"`
	Name      string    `json:"name,omitempty" cbor:"5,keyasint,omitempty"`
	Type      string    `json:"type,omitempty" cbor:"6,keyasint,omitempty"`
	Source    string    `json:"source,omitempty" cbor:"7,keyasint,omitempty"`
	Number    *float64  `json:"number,omitempty" cbor:"8,keyasint,omitempty"`
	Text      string    `json:"text,omitempty" cbor:"9,keyasint,omitempty"`
	COBID     uint32    `json:"cob_id,omitempty" cbor:"10,keyasint,omitempty"`
	Health    string    `json:"health,omitempty" cbor:"11,keyasint,omitempty"`
	Error     string    `json:"error,omitempty" cbor:"12,keyasint,omitempty"`
}

// NewRecord flattens ev.
func NewRecord(ev canopen.Event) Record {
	r := Record{
		Timestamp: ev.Timestamp,
		Session:   ev.Session,
		Kind:      ev.Kind.String(),
		Address:   ev.Address.String(),
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}

	switch ev.Kind {
	case canopen.EventNumeric:
		n := ev.Number
		r.Number = &n
	case canopen.EventText:
		r.Text = ev.Text
	case canopen.EventHealth:
		r.Health = ev.Health.From.String() + "->" + ev.Health.To.String()
		return r
	}

	if ev.Reading.Type != canopen.TypeUnknown {
		r.Name = ev.Reading.Name
		r.Type = ev.Reading.Type.String()
		r.Source = ev.Reading.Source.String()
		r.COBID = ev.Reading.COBID
	}
	return r
}

// Value returns the value column of the record.
func (r Record) Value() string {
	switch {
	case r.Number != nil:
		return fmt.Sprintf("%g", *r.Number)
	case r.Health != "":
		return r.Health
	default:
		return r.Text
	}
}

// Format selects the payload encoding of broker sinks.
type Format int

const (
	FormatJSON Format = iota
	FormatCBOR
)

// ParseFormat parses "json" or "cbor". The empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	}
	return FormatJSON, fmt.Errorf("unknown payload format %q", s)
}

// String returns the string representation of the format.
func (f Format) String() string {
	if f == FormatCBOR {
		return "cbor"
	}
	return "json"
}

// Encode serializes r in format f.
func (f Format) Encode(r Record) ([]byte, error) {
	if f == FormatCBOR {
		return recordEncMode.Marshal(r)
	}
	return json.Marshal(r)
}

// recordEncMode sorts map keys and keeps nanosecond timestamps.
var recordEncMode cbor.EncMode

// recordDecMode reads back files written with recordEncMode.
var recordDecMode cbor.DecMode

func init() {
	var err error
	recordEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("sink: cbor encoder mode: %v", err))
	}
	recordDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("sink: cbor decoder mode: %v", err))
	}
}

// Fanout writes each event to every sink. A failing sink is logged and
// does not stop the others.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout creates a fanout over sinks. A nil logger uses slog.Default.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Add appends s.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Write hands ev to every sink and returns the joined errors.
func (f *Fanout) Write(ctx context.Context, ev canopen.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Write(ctx, ev); err != nil {
			f.logger.Warn("sink write failed",
				slog.String("sink", fmt.Sprintf("%T", s)),
				slog.String("address", ev.Address.String()),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain writes events from ch until it closes or ctx is done.
func (f *Fanout) Drain(ctx context.Context, ch <-chan canopen.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = f.Write(ctx, ev)
		}
	}
}

var _ Sink = (*Fanout)(nil)
