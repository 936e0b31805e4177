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
)

func TestNewDirectoryHasIdentity(t *testing.T) {
	d := NewDirectory()
	e, ok := d.Lookup(IdentityAddress)
	if !ok {
		t.Fatal("identity object should be registered")
	}
	if e.Type != UInt32 {
		t.Errorf("identity type: expected uint32, got %s", e.Type)
	}
	if e.HasValue() {
		t.Error("identity should have no cached value yet")
	}
}

func TestDirectoryRegister(t *testing.T) {
	d := NewDirectory()
	addr := Address{0x2000, 0x01}

	if err := d.Register(addr, Real32, WithName("Temperature")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := d.Register(addr, Real32); err != nil {
		t.Errorf("re-registering the same type should succeed, got %v", err)
	}

	err := d.Register(addr, UInt16)
	if !errors.Is(err, ErrTypeConflict) {
		t.Fatalf("expected ErrTypeConflict, got %v", err)
	}
	var conflict *TypeConflictError
	if !errors.As(err, &conflict) || conflict.Existing != Real32 || conflict.Got != UInt16 {
		t.Errorf("unexpected conflict detail: %v", err)
	}

	e, _ := d.Lookup(addr)
	if e.Type != Real32 || e.Name != "Temperature" {
		t.Errorf("entry changed by rejected registration: %+v", e)
	}

	if err := d.Register(Address{0x3000, 0}, TypeUnknown); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDirectoryLastValue(t *testing.T) {
	d := NewDirectory()
	if err := d.UpdateLastValue(Address{0x2000, 0x09}, []byte{1}); !errors.Is(err, ErrUnknownAddress) {
		t.Errorf("expected ErrUnknownAddress, got %v", err)
	}

	raw := []byte{0x91, 0x01, 0x00, 0x00}
	if err := d.UpdateLastValue(IdentityAddress, raw); err != nil {
		t.Fatalf("UpdateLastValue failed: %v", err)
	}
	raw[0] = 0xFF

	v, ok := d.LastValue(IdentityAddress)
	if !ok {
		t.Fatal("LastValue should be present")
	}
	if v.Uint != 0x191 {
		t.Errorf("LastValue: expected 0x191, got 0x%X", v.Uint)
	}

	e, _ := d.Lookup(IdentityAddress)
	e.Last[0] = 0x00
	if v, _ := d.LastValue(IdentityAddress); v.Uint != 0x191 {
		t.Error("Lookup should return a copy")
	}
}

func TestDirectoryEntriesSorted(t *testing.T) {
	d := NewDirectory()
	d.Register(Address{0x2003, 0x02}, UInt16)
	d.Register(Address{0x2000, 0x01}, Real32)
	d.Register(Address{0x2003, 0x01}, UInt16)

	entries := d.Entries()
	if len(entries) != 4 || d.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Address.Key() >= entries[i].Address.Key() {
			t.Errorf("entries not sorted at %d: %s >= %s", i, entries[i-1].Address, entries[i].Address)
		}
	}
}
