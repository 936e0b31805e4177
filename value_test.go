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
	"math"
	"testing"
)

func TestDecodeValue(t *testing.T) {
	real32 := math.Float32bits(23.5)
	tests := []struct {
		name string
		dt   DataType
		raw  []byte
		str  string
	}{
		{"uint8", UInt8, []byte{0xFF}, "255"},
		{"uint16", UInt16, []byte{0x31, 0x00}, "49"},
		{"uint32", UInt32, []byte{0x91, 0x01, 0x00, 0x00}, "401"},
		{"int8", Int8, []byte{0xFF}, "-1"},
		{"int16", Int16, []byte{0x18, 0xFC}, "-1000"},
		{"int32", Int32, []byte{0xE8, 0x03, 0x00, 0x00}, "1000"},
		{"real32", Real32, []byte{byte(real32), byte(real32 >> 8), byte(real32 >> 16), byte(real32 >> 24)}, "23.50"},
		{"visible_string", VisibleString, []byte("Mo\x00k"), "Mo\x00k"},
		{"octet_string", OctetString, []byte{0xDE, 0xAD}, "dead"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeValue(tt.dt, tt.raw)
			if err != nil {
				t.Fatalf("DecodeValue failed: %v", err)
			}
			if v.Type != tt.dt {
				t.Errorf("type: expected %s, got %s", tt.dt, v.Type)
			}
			if v.String() != tt.str {
				t.Errorf("String: expected %q, got %q", tt.str, v.String())
			}
		})
	}
}

func TestDecodeValue_Short(t *testing.T) {
	_, err := DecodeValue(UInt32, []byte{0x01, 0x02})
	if !errors.Is(err, ErrLengthMismatch) || !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrLengthMismatch wrapping ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeValueInverse(t *testing.T) {
	tests := []struct {
		dt DataType
		in any
	}{
		{UInt8, 7},
		{UInt16, uint16(0x0031)},
		{UInt32, uint32(0x191)},
		{Int16, -5},
		{Int32, int32(-123456)},
		{Real32, 11.75},
		{VisibleString, "Mock"},
	}
	for _, tt := range tests {
		raw, err := EncodeValue(tt.dt, tt.in)
		if err != nil {
			t.Fatalf("%s: EncodeValue failed: %v", tt.dt, err)
		}
		v, err := DecodeValue(tt.dt, raw)
		if err != nil {
			t.Fatalf("%s: DecodeValue failed: %v", tt.dt, err)
		}
		if tt.dt.IsNumeric() {
			got, _ := v.Float64()
			want, _ := toFloat(tt.in)
			if got != want {
				t.Errorf("%s: expected %v, got %v", tt.dt, want, got)
			}
		} else if v.Text != tt.in {
			t.Errorf("%s: expected %v, got %q", tt.dt, tt.in, v.Text)
		}
	}

	if _, err := EncodeValue(UInt8, "x"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

func TestValueFloat64Text(t *testing.T) {
	v, _ := DecodeValue(VisibleString, []byte("abc"))
	if _, ok := v.Float64(); ok {
		t.Error("text value should not convert to float")
	}
	if v.Interface() != "abc" {
		t.Errorf("Interface: expected abc, got %v", v.Interface())
	}
}
