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

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in       string
		expected Address
	}{
		{"0x1000:00", Address{0x1000, 0x00}},
		{"2000:01", Address{0x2000, 0x01}},
		{"1A00sub3", Address{0x1A00, 0x03}},
		{"0x1018.04", Address{0x1018, 0x04}},
		{" 2003 : 0x02 ", Address{0x2003, 0x02}},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if err != nil {
			t.Errorf("ParseAddress(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseAddress(%q): expected %s, got %s", tt.in, tt.expected, got)
		}
	}

	for _, bad := range []string{"", "2000", "zz:01", "2000:100", "12345:00", ":01"} {
		if _, err := ParseAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParseAddress(%q): expected ErrInvalidAddress, got %v", bad, err)
		}
	}
}

func TestAddressKeyOrder(t *testing.T) {
	a := Address{0x1000, 0xFF}
	b := Address{0x1001, 0x00}
	if a.Key() >= b.Key() {
		t.Errorf("key order: %s should sort before %s", a, b)
	}
	if got := (Address{0x2000, 0x01}).String(); got != "0x2000:01" {
		t.Errorf("String: expected 0x2000:01, got %s", got)
	}
}

func TestDataTypeSize(t *testing.T) {
	tests := map[DataType]int{
		UInt8: 1, Int8: 1, UInt16: 2, Int16: 2,
		UInt32: 4, Int32: 4, Real32: 4,
		VisibleString: 0, OctetString: 0,
	}
	for dt, size := range tests {
		if dt.Size() != size {
			t.Errorf("%s: expected size %d, got %d", dt, size, dt.Size())
		}
		if dt.IsNumeric() != (size > 0) {
			t.Errorf("%s: IsNumeric mismatch", dt)
		}
		parsed, err := ParseDataType(dt.String())
		if err != nil || parsed != dt {
			t.Errorf("ParseDataType(%q): expected %s, got %s (%v)", dt.String(), dt, parsed, err)
		}
	}

	if _, err := ParseDataType("real64"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDataTypeFromEDS(t *testing.T) {
	tests := map[uint16]DataType{
		0x0002: Int8, 0x0003: Int16, 0x0004: Int32,
		0x0005: UInt8, 0x0006: UInt16, 0x0007: UInt32,
		0x0008: Real32, 0x0009: VisibleString, 0x000A: OctetString,
	}
	for code, expected := range tests {
		got, ok := DataTypeFromEDS(code)
		if !ok || got != expected {
			t.Errorf("code 0x%04X: expected %s, got %s", code, expected, got)
		}
	}
	if _, ok := DataTypeFromEDS(0x0011); ok {
		t.Error("REAL64 should not be supported")
	}
}

func TestNodeIDValid(t *testing.T) {
	if NodeID(0).Valid() || NodeID(128).Valid() {
		t.Error("0 and 128 should be invalid")
	}
	if !NodeID(1).Valid() || !NodeID(127).Valid() {
		t.Error("1 and 127 should be valid")
	}
	if RequestID(4) != 0x604 || ResponseID(4) != 0x584 {
		t.Errorf("identifiers: got 0x%X/0x%X", RequestID(4), ResponseID(4))
	}
}
