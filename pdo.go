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

// PDO communication and mapping parameter bases.
const (
	TPDOCommBase    uint16 = 0x1800
	TPDOMappingBase uint16 = 0x1A00
	MaxTPDO                = 4

	// PDOInvalidBit marks a disabled PDO in its COB-ID entry.
	PDOInvalidBit uint32 = 1 << 31
)

// MappedObject is one object carried in a TPDO.
type MappedObject struct {
	Address   Address
	BitLength uint8
	Type      DataType
	Name      string
}

// PDOMapping describes the layout of one transmit PDO.
type PDOMapping struct {
	Number  int // 1..4
	COBID   uint32
	Objects []MappedObject
}

// Size returns the payload length in bytes covered by the mapping.
func (m PDOMapping) Size() int {
	bits := 0
	for _, o := range m.Objects {
		bits += int(o.BitLength)
	}
	return (bits + 7) / 8
}

// DefaultTPDOCOBID returns the predefined identifier of TPDO n (1..4).
func DefaultTPDOCOBID(n int, node NodeID) uint32 {
	return COBTPDO1 + uint32(n-1)*0x100 + uint32(node)
}

// DecodeMappingValue splits a 0x1A0x mapping entry.
func DecodeMappingValue(v uint32) MappedObject {
	obj := MappedObject{
		Address:   Address{Index: uint16(v >> 16), Sub: uint8(v >> 8)},
		BitLength: uint8(v),
	}
	obj.Type, _ = TypeForBitLength(obj.BitLength)
	return obj
}

// EncodeMappingValue is the inverse of DecodeMappingValue.
func EncodeMappingValue(obj MappedObject) uint32 {
	return uint32(obj.Address.Index)<<16 | uint32(obj.Address.Sub)<<8 | uint32(obj.BitLength)
}

// MergeMappings enriches mappings read from the device with names and
// types from a profile. Profile TPDOs the device did not report are
// appended. The result is ordered by TPDO number.
func MergeMappings(device, profile []PDOMapping) []PDOMapping {
	byNumber := make(map[int]PDOMapping, len(profile))
	for _, m := range profile {
		byNumber[m.Number] = m
	}

	out := make([]PDOMapping, 0, len(device)+len(profile))
	seen := make(map[int]bool)
	for _, m := range device {
		seen[m.Number] = true
		known, ok := byNumber[m.Number]
		if ok {
			objs := make([]MappedObject, len(m.Objects))
			copy(objs, m.Objects)
			for i := range objs {
				for _, k := range known.Objects {
					if k.Address == objs[i].Address {
						objs[i].Name = k.Name
						if k.Type != TypeUnknown {
							objs[i].Type = k.Type
						}
						break
					}
				}
			}
			m.Objects = objs
		}
		out = append(out, m)
	}
	for _, m := range profile {
		if !seen[m.Number] {
			out = append(out, m)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// BroadcastRegistry maps broadcast COB-IDs to their mapping and decodes
// incoming frames into readings. It is owned by a single goroutine.
type BroadcastRegistry struct {
	mappings map[uint32]PDOMapping
}

// NewBroadcastRegistry creates an empty registry.
func NewBroadcastRegistry() *BroadcastRegistry {
	return &BroadcastRegistry{mappings: make(map[uint32]PDOMapping)}
}

// Watch starts decoding frames on m.COBID, replacing any previous mapping
// for that identifier. Objects without a type get one from their width.
func (r *BroadcastRegistry) Watch(m PDOMapping) error {
	m, err := resolveMapping(m)
	if err != nil {
		return err
	}
	r.mappings[m.COBID] = m
	return nil
}

// resolveMapping validates m and fills object types from bit lengths.
func resolveMapping(m PDOMapping) (PDOMapping, error) {
	if m.COBID == 0 || m.COBID > COBIDMask {
		return m, fmt.Errorf("canopen: invalid TPDO COB-ID 0x%X", m.COBID)
	}
	if len(m.Objects) == 0 {
		return m, fmt.Errorf("canopen: TPDO 0x%X maps no objects", m.COBID)
	}

	objs := make([]MappedObject, len(m.Objects))
	for i, o := range m.Objects {
		if o.Type == TypeUnknown {
			t, ok := TypeForBitLength(o.BitLength)
			if !ok {
				return m, fmt.Errorf("%w: %d-bit object %s in TPDO 0x%X",
					ErrUnsupportedType, o.BitLength, o.Address, m.COBID)
			}
			o.Type = t
		} else if o.Type > OctetString {
			return m, fmt.Errorf("%w: %s at %s in TPDO 0x%X",
				ErrUnsupportedType, o.Type, o.Address, m.COBID)
		}
		objs[i] = o
	}
	m.Objects = objs
	return m, nil
}

// Unwatch stops decoding frames on cobID.
func (r *BroadcastRegistry) Unwatch(cobID uint32) bool {
	if _, ok := r.mappings[cobID]; !ok {
		return false
	}
	delete(r.mappings, cobID)
	return true
}

// Interested returns the addresses carried on cobID, nil when nobody
// watches it.
func (r *BroadcastRegistry) Interested(cobID uint32) []Address {
	m, ok := r.mappings[cobID]
	if !ok {
		return nil
	}
	out := make([]Address, len(m.Objects))
	for i, o := range m.Objects {
		out[i] = o.Address
	}
	return out
}

// Mappings returns the watched mappings ordered by COB-ID.
func (r *BroadcastRegistry) Mappings() []PDOMapping {
	out := make([]PDOMapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].COBID < out[j].COBID })
	return out
}

// Decode extracts every mapped object from data. Objects are byte-aligned
// and laid out in mapping order. An object that does not fit in the frame
// yields a failed reading. Decode returns nil for unwatched identifiers.
func (r *BroadcastRegistry) Decode(cobID uint32, data []byte, now time.Time) []Reading {
	m, ok := r.mappings[cobID]
	if !ok {
		return nil
	}

	out := make([]Reading, 0, len(m.Objects))
	bitOffset := 0
	for _, o := range m.Objects {
		rd := Reading{
			Address:   o.Address,
			Type:      o.Type,
			Name:      o.Name,
			Timestamp: now,
			Source:    SourceBroadcast,
			COBID:     cobID,
		}

		start := bitOffset / 8
		width := int(o.BitLength) / 8
		bitOffset += int(o.BitLength)

		switch {
		case o.BitLength%8 != 0 || (bitOffset-int(o.BitLength))%8 != 0:
			rd.Err = fmt.Errorf("%w: %s is not byte-aligned in TPDO 0x%X",
				ErrMalformedFrame, o.Address, cobID)
		case start+width > len(data):
			rd.Err = fmt.Errorf("%w: TPDO 0x%X carries %d bytes, %s needs %d..%d",
				ErrMalformedFrame, cobID, len(data), o.Address, start, start+width)
		default:
			raw := data[start : start+width]
			if size := o.Type.Size(); size > 0 && size != width {
				rd.Err = fmt.Errorf("%w: %s is %d bits, %s is %d bytes",
					ErrMalformedFrame, o.Address, o.BitLength, o.Type, size)
				break
			}
			rd.Value, rd.Err = DecodeValue(o.Type, raw)
		}
		out = append(out, rd)
	}
	return out
}
