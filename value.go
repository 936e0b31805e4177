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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// Value is a decoded object value. Exactly one of Uint, Int, Float or Text
// is meaningful, selected by Type; Raw always holds the wire bytes.
type Value struct {
	Type  DataType
	Uint  uint64
	Int   int64
	Float float64
	Text  string
	Raw   []byte
}

// DecodeValue interprets raw little-endian bytes as t. Numeric types need at
// least Size() bytes; strings take the bytes as-is.
func DecodeValue(t DataType, raw []byte) (Value, error) {
	v := Value{Type: t, Raw: append([]byte(nil), raw...)}

	if size := t.Size(); size > 0 && len(raw) < size {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrLengthMismatch, t, size, len(raw))
	}

	switch t {
	case UInt8:
		v.Uint = uint64(raw[0])
	case UInt16:
		v.Uint = uint64(binary.LittleEndian.Uint16(raw))
	case UInt32:
		v.Uint = uint64(binary.LittleEndian.Uint32(raw))
	case Int8:
		v.Int = int64(int8(raw[0]))
	case Int16:
		v.Int = int64(int16(binary.LittleEndian.Uint16(raw)))
	case Int32:
		v.Int = int64(int32(binary.LittleEndian.Uint32(raw)))
	case Real32:
		v.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	case VisibleString:
		v.Text = string(raw)
	case OctetString:
		v.Text = hex.EncodeToString(raw)
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return v, nil
}

// EncodeValue is the inverse of DecodeValue for numeric types and
// VisibleString. The simulated node uses it to build its dictionary.
func EncodeValue(t DataType, v any) ([]byte, error) {
	switch t {
	case UInt8, Int8:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return []byte{byte(n)}, nil
	case UInt16, Int16:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(n)), nil
	case UInt32, Int32:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(n)), nil
	case Real32:
		f, ok := v.(float32)
		if !ok {
			f64, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: %T for real32", ErrUnsupportedType, v)
			}
			f = float32(f64)
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(f)), nil
	case VisibleString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T for visible_string", ErrUnsupportedType, v)
		}
		return []byte(s), nil
	case OctetString:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %T for octet_string", ErrUnsupportedType, v)
		}
		return append([]byte(nil), b...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("%w: %T is not an integer", ErrUnsupportedType, v)
}

// Float64 returns the numeric value as float64. ok is false for text types.
func (v Value) Float64() (float64, bool) {
	switch v.Type {
	case UInt8, UInt16, UInt32:
		return float64(v.Uint), true
	case Int8, Int16, Int32:
		return float64(v.Int), true
	case Real32:
		return v.Float, true
	}
	return 0, false
}

// Interface returns the value as a plain Go value for serialization.
func (v Value) Interface() any {
	switch v.Type {
	case UInt8, UInt16, UInt32:
		return v.Uint
	case Int8, Int16, Int32:
		return v.Int
	case Real32:
		return v.Float
	case VisibleString, OctetString:
		return v.Text
	}
	return nil
}

// String formats the value for display and logs.
func (v Value) String() string {
	switch v.Type {
	case UInt8, UInt16, UInt32:
		return strconv.FormatUint(v.Uint, 10)
	case Int8, Int16, Int32:
		return strconv.FormatInt(v.Int, 10)
	case Real32:
		return strconv.FormatFloat(v.Float, 'f', 2, 64)
	case VisibleString, OctetString:
		return v.Text
	}
	return hex.EncodeToString(v.Raw)
}
