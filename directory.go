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
	"sync"
	"time"
)

// Access is the access mode declared for an entry.
type Access int

const (
	AccessReadOnly Access = iota
	AccessReadWrite
	AccessConst
)

// String returns the EDS spelling of the access mode.
func (a Access) String() string {
	switch a {
	case AccessReadWrite:
		return "rw"
	case AccessConst:
		return "const"
	default:
		return "ro"
	}
}

// Entry is one directory object with its cached last value.
type Entry struct {
	Address Address
	Type    DataType
	Name    string
	Access  Access

	Last    []byte
	Updated time.Time
}

// HasValue reports whether a successful exchange has filled the cache.
func (e Entry) HasValue() bool {
	return !e.Updated.IsZero()
}

// EntryOption customizes an entry at registration.
type EntryOption func(*Entry)

// WithName sets the parameter name shown to users.
func WithName(name string) EntryOption {
	return func(e *Entry) {
		e.Name = name
	}
}

// WithAccess sets the access mode.
func WithAccess(a Access) EntryOption {
	return func(e *Entry) {
		e.Access = a
	}
}

// Directory maps addresses to typed entries for one session.
// It is safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries map[Address]*Entry
	now     func() time.Time
}

// NewDirectory creates a directory holding the mandatory identity object.
func NewDirectory() *Directory {
	d := &Directory{
		entries: make(map[Address]*Entry),
		now:     time.Now,
	}
	d.Register(IdentityAddress, UInt32, WithName("Device type"))
	return d
}

// Register declares addr with type t. Registering the same type again is a
// no-op; a different type fails with a TypeConflictError.
func (d *Directory) Register(addr Address, t DataType, opts ...EntryOption) error {
	if t == TypeUnknown || t > OctetString {
		return fmt.Errorf("%w: %s at %s", ErrUnsupportedType, t, addr)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[addr]; ok {
		if e.Type != t {
			return &TypeConflictError{Address: addr, Existing: e.Type, Got: t}
		}
		return nil
	}

	e := &Entry{Address: addr, Type: t}
	for _, opt := range opts {
		opt(e)
	}
	d.entries[addr] = e
	return nil
}

// Lookup returns a copy of the entry at addr.
func (d *Directory) Lookup(addr Address) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[addr]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Last = append([]byte(nil), e.Last...)
	return out, true
}

// UpdateLastValue stores raw as the cached value of addr.
func (d *Directory) UpdateLastValue(addr Address, raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	e.Last = append(e.Last[:0], raw...)
	e.Updated = d.now()
	return nil
}

// LastValue decodes the cached value of addr.
func (d *Directory) LastValue(addr Address) (Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[addr]
	if !ok || e.Updated.IsZero() {
		return Value{}, false
	}
	v, err := DecodeValue(e.Type, e.Last)
	if err != nil {
		return Value{}, false
	}
	return v, true
}

// Entries returns copies of all entries ordered by address.
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		c := *e
		c.Last = append([]byte(nil), e.Last...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Key() < out[j].Address.Key()
	})
	return out
}

// Len returns the number of registered entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
