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
	"fmt"
)

// SDO command specifiers used by expedited upload.
const (
	CmdUploadRequest byte = 0x40 // ccs=2, initiate upload
	CmdAbort         byte = 0x80

	// Expedited upload responses, size indicated: 0x43 | (4-n)<<2.
	CmdUpload1 byte = 0x4F
	CmdUpload2 byte = 0x4B
	CmdUpload3 byte = 0x47
	CmdUpload4 byte = 0x43
)

// Frame is one CAN frame as seen by the engine.
type Frame struct {
	ID   uint32
	Data []byte
}

// String formats the frame as ID#DATA, like candump.
func (f Frame) String() string {
	return fmt.Sprintf("%03X#% X", f.ID, f.Data)
}

// EncodeReadRequest builds an expedited upload request for addr.
func EncodeReadRequest(addr Address) [FrameLen]byte {
	var buf [FrameLen]byte
	buf[0] = CmdUploadRequest
	putAddress(buf[:], addr)
	return buf
}

// DecodeRequest parses a read request as a node sees it. The address is
// returned even when the command is rejected so the node can abort it.
func DecodeRequest(payload []byte) (Address, error) {
	if len(payload) != FrameLen {
		return Address{}, fmt.Errorf("%w: request length %d", ErrMalformedFrame, len(payload))
	}
	addr := getAddress(payload)
	if payload[0] != CmdUploadRequest {
		return addr, fmt.Errorf("%w 0x%02X", ErrUnexpectedCommand, payload[0])
	}
	return addr, nil
}

// EncodeExpeditedResponse builds the reply carrying 1 to 4 data bytes.
func EncodeExpeditedResponse(addr Address, data []byte) ([FrameLen]byte, error) {
	var buf [FrameLen]byte
	n := len(data)
	if n < 1 || n > MaxExpeditedSize {
		return buf, fmt.Errorf("%w: expedited payload of %d bytes", ErrMalformedFrame, n)
	}
	buf[0] = CmdUpload4 | byte(MaxExpeditedSize-n)<<2
	putAddress(buf[:], addr)
	copy(buf[4:], data)
	return buf, nil
}

// EncodeAbort builds an abort transfer frame.
func EncodeAbort(addr Address, code AbortCode) [FrameLen]byte {
	var buf [FrameLen]byte
	buf[0] = CmdAbort
	putAddress(buf[:], addr)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(code))
	return buf
}

// DecodeResponse parses an expedited upload response. It returns the
// responding address, a copy of the data bytes, and their declared length.
// An abort frame yields an *AbortError together with its address.
func DecodeResponse(payload []byte) (Address, []byte, int, error) {
	if len(payload) != FrameLen {
		return Address{}, nil, 0, fmt.Errorf("%w: response length %d", ErrMalformedFrame, len(payload))
	}

	addr := getAddress(payload)
	cmd := payload[0]

	switch cmd {
	case CmdAbort:
		code := AbortCode(binary.LittleEndian.Uint32(payload[4:8]))
		return addr, nil, 0, NewAbortError(addr, code)
	case CmdUpload1, CmdUpload2, CmdUpload3, CmdUpload4:
		size := MaxExpeditedSize - int(cmd&0x0C)>>2
		data := make([]byte, size)
		copy(data, payload[4:4+size])
		return addr, data, size, nil
	default:
		return addr, nil, 0, fmt.Errorf("%w 0x%02X", ErrUnexpectedCommand, cmd)
	}
}

func putAddress(buf []byte, addr Address) {
	binary.LittleEndian.PutUint16(buf[1:3], addr.Index)
	buf[3] = addr.Sub
}

func getAddress(buf []byte) Address {
	return Address{
		Index: binary.LittleEndian.Uint16(buf[1:3]),
		Sub:   buf[3],
	}
}
