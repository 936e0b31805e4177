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

// Package canopen implements an expedited SDO read engine for CANopen nodes:
// a frame codec, a per-session object directory, timed request/response
// exchanges, independent polling schedules, a liveness watchdog, and a
// supervisor loop that hands typed events to a consumer without blocking it.
package canopen

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeID is a CANopen node identifier (1..127).
type NodeID uint8

// Valid reports whether the node id is in the addressable range.
func (n NodeID) Valid() bool {
	return n >= 1 && n <= 127
}

// COB-ID function bases.
const (
	COBTPDO1   uint32 = 0x180
	COBTPDO2   uint32 = 0x280
	COBTPDO3   uint32 = 0x380
	COBTPDO4   uint32 = 0x480
	COBSDOTx   uint32 = 0x580 // server to client (responses)
	COBSDORx   uint32 = 0x600 // client to server (requests)
	COBHeartbt uint32 = 0x700

	// COBIDMask keeps the 11-bit base frame identifier.
	COBIDMask uint32 = 0x7FF
)

// RequestID returns the SDO request identifier for node.
func RequestID(node NodeID) uint32 { return COBSDORx + uint32(node) }

// ResponseID returns the SDO response identifier for node.
func ResponseID(node NodeID) uint32 { return COBSDOTx + uint32(node) }

// Protocol constants.
const (
	// FrameLen is the length of every SDO payload.
	FrameLen = 8

	// MaxExpeditedSize is the largest value carried by one expedited frame.
	MaxExpeditedSize = 4

	// DefaultTimeout bounds one SDO exchange.
	DefaultTimeout = 1 * time.Second

	// DefaultNodeID is the node addressed when none is configured.
	DefaultNodeID NodeID = 1
)

// IdentityAddress is the mandatory device type object used for health checks.
var IdentityAddress = Address{Index: 0x1000, Sub: 0x00}

// Address is a two-level object dictionary address.
type Address struct {
	Index uint16
	Sub   uint8
}

// Key orders addresses by index, then sub-index.
func (a Address) Key() uint32 {
	return uint32(a.Index)<<8 | uint32(a.Sub)
}

// String formats the address as 0xIIII:SS.
func (a Address) String() string {
	return fmt.Sprintf("0x%04X:%02X", a.Index, a.Sub)
}

// ParseAddress parses "0x2000:01", "2000:01" or "2000sub1".
func ParseAddress(s string) (Address, error) {
	var index, sub uint64
	var err error

	idx, subPart, ok := cutAny(s, ":", "sub", ".")
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if index, err = parseHex(idx, 16); err != nil {
		return Address{}, fmt.Errorf("%w: index %q", ErrInvalidAddress, idx)
	}
	if sub, err = parseHex(subPart, 8); err != nil {
		return Address{}, fmt.Errorf("%w: sub-index %q", ErrInvalidAddress, subPart)
	}
	return Address{Index: uint16(index), Sub: uint8(sub)}, nil
}

// DataType is the closed set of object types the engine decodes.
type DataType uint8

const (
	TypeUnknown DataType = iota
	UInt8
	UInt16
	UInt32
	Int8
	Int16
	Int32
	Real32
	VisibleString
	OctetString
)

// Size returns the encoded width in bytes, or 0 for variable length types.
func (t DataType) Size() int {
	switch t {
	case UInt8, Int8:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Real32:
		return 4
	default:
		return 0
	}
}

// IsNumeric reports whether values of t are plotted rather than logged.
func (t DataType) IsNumeric() bool {
	switch t {
	case UInt8, UInt16, UInt32, Int8, Int16, Int32, Real32:
		return true
	default:
		return false
	}
}

// String returns the lower-case type name.
func (t DataType) String() string {
	switch t {
	case UInt8:
		return "uint8"
	case UInt16:
		return "uint16"
	case UInt32:
		return "uint32"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Real32:
		return "real32"
	case VisibleString:
		return "visible_string"
	case OctetString:
		return "octet_string"
	default:
		return "unknown"
	}
}

// ParseDataType accepts the names produced by String plus a few aliases.
func ParseDataType(s string) (DataType, error) {
	switch lower(s) {
	case "uint8", "u8", "unsigned8":
		return UInt8, nil
	case "uint16", "u16", "unsigned16":
		return UInt16, nil
	case "uint32", "u32", "unsigned32":
		return UInt32, nil
	case "int8", "i8", "integer8":
		return Int8, nil
	case "int16", "i16", "integer16":
		return Int16, nil
	case "int32", "i32", "integer32":
		return Int32, nil
	case "real32", "float", "float32":
		return Real32, nil
	case "visible_string", "string", "visiblestring":
		return VisibleString, nil
	case "octet_string", "octets", "octetstring":
		return OctetString, nil
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// DataTypeFromEDS maps a CiA 301 data type code, as found in EDS files, to a
// DataType. BOOLEAN travels as one byte and decodes as UInt8.
func DataTypeFromEDS(code uint16) (DataType, bool) {
	switch code {
	case 0x0001:
		return UInt8, true
	case 0x0002:
		return Int8, true
	case 0x0003:
		return Int16, true
	case 0x0004:
		return Int32, true
	case 0x0005:
		return UInt8, true
	case 0x0006:
		return UInt16, true
	case 0x0007:
		return UInt32, true
	case 0x0008:
		return Real32, true
	case 0x0009:
		return VisibleString, true
	case 0x000A:
		return OctetString, true
	}
	return TypeUnknown, false
}

// TypeForBitLength infers an unsigned type from a PDO mapping width.
func TypeForBitLength(bits uint8) (DataType, bool) {
	switch bits {
	case 8:
		return UInt8, true
	case 16:
		return UInt16, true
	case 32:
		return UInt32, true
	}
	return TypeUnknown, false
}

// Transport is a raw CAN channel owned by one session. Receive is the only
// operation allowed to wait.
type Transport interface {
	Send(ctx context.Context, id uint32, data []byte) error
	Receive(timeout time.Duration) (data []byte, id uint32, err error)
	Close() error
}

// HealthState is the inferred liveness of the remote node.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthConnected
	HealthDisconnected
)

// String returns the string representation of the health state.
func (s HealthState) String() string {
	switch s {
	case HealthUnknown:
		return "unknown"
	case HealthConnected:
		return "connected"
	case HealthDisconnected:
		return "disconnected"
	default:
		return "invalid"
	}
}

func cutAny(s string, seps ...string) (string, string, bool) {
	for _, sep := range seps {
		if before, after, ok := strings.Cut(s, sep); ok {
			return strings.TrimSpace(before), strings.TrimSpace(after), true
		}
	}
	return "", "", false
}

// parseHex parses a hexadecimal number with or without a 0x prefix.
func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseUint(s, 16, bits)
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
