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
	"bytes"
	"errors"
	"testing"
)

func TestEncodeReadRequest(t *testing.T) {
	got := EncodeReadRequest(Address{Index: 0x2000, Sub: 0x01})
	expected := [8]byte{0x40, 0x00, 0x20, 0x01, 0, 0, 0, 0}
	if got != expected {
		t.Errorf("request: expected % X, got % X", expected, got)
	}
}

func TestDecodeRequest(t *testing.T) {
	req := EncodeReadRequest(Address{Index: 0x1018, Sub: 0x02})
	addr, err := DecodeRequest(req[:])
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if addr != (Address{Index: 0x1018, Sub: 0x02}) {
		t.Errorf("address: expected 0x1018:02, got %s", addr)
	}

	req[0] = 0x23
	addr, err = DecodeRequest(req[:])
	if !errors.Is(err, ErrUnexpectedCommand) {
		t.Errorf("expected ErrUnexpectedCommand, got %v", err)
	}
	if addr.Index != 0x1018 {
		t.Errorf("address should be returned with the error, got %s", addr)
	}
}

func TestExpeditedRoundTrip(t *testing.T) {
	addr := Address{Index: 0x2003, Sub: 0x01}
	commands := map[int]byte{1: 0x4F, 2: 0x4B, 3: 0x47, 4: 0x43}

	for n := 1; n <= 4; n++ {
		data := []byte{0x11, 0x22, 0x33, 0x44}[:n]
		frame, err := EncodeExpeditedResponse(addr, data)
		if err != nil {
			t.Fatalf("n=%d: EncodeExpeditedResponse failed: %v", n, err)
		}
		if frame[0] != commands[n] {
			t.Errorf("n=%d: command: expected 0x%02X, got 0x%02X", n, commands[n], frame[0])
		}

		gotAddr, gotData, size, err := DecodeResponse(frame[:])
		if err != nil {
			t.Fatalf("n=%d: DecodeResponse failed: %v", n, err)
		}
		if gotAddr != addr {
			t.Errorf("n=%d: address: expected %s, got %s", n, addr, gotAddr)
		}
		if size != n {
			t.Errorf("n=%d: size: expected %d, got %d", n, n, size)
		}
		if !bytes.Equal(gotData, data) {
			t.Errorf("n=%d: data: expected % X, got % X", n, data, gotData)
		}
	}
}

func TestEncodeExpeditedResponse_InvalidLength(t *testing.T) {
	addr := Address{Index: 0x1008}
	if _, err := EncodeExpeditedResponse(addr, nil); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("empty: expected ErrMalformedFrame, got %v", err)
	}
	if _, err := EncodeExpeditedResponse(addr, make([]byte, 5)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("5 bytes: expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeResponse_Abort(t *testing.T) {
	addr := Address{Index: 0x2000, Sub: 0x05}
	frame := EncodeAbort(addr, AbortNoObject)
	expected := [8]byte{0x80, 0x00, 0x20, 0x05, 0x00, 0x00, 0x02, 0x06}
	if frame != expected {
		t.Fatalf("abort frame: expected % X, got % X", expected, frame)
	}

	gotAddr, data, _, err := DecodeResponse(frame[:])
	if data != nil {
		t.Errorf("abort should carry no data, got % X", data)
	}
	if gotAddr != addr {
		t.Errorf("address: expected %s, got %s", addr, gotAddr)
	}

	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("expected *AbortError, got %v", err)
	}
	if abortErr.Code != AbortNoObject {
		t.Errorf("code: expected 0x%08X, got 0x%08X", uint32(AbortNoObject), uint32(abortErr.Code))
	}
	if !errors.Is(err, ErrRemoteAbort) {
		t.Error("abort should match ErrRemoteAbort")
	}
	if !IsAbort(err, AbortNoObject) || !IsNoObject(err) {
		t.Error("IsAbort/IsNoObject should match")
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		target  error
	}{
		{"seven bytes", []byte{0x43, 0x00, 0x10, 0x00, 0x91, 0x01, 0x00}, ErrMalformedFrame},
		{"nine bytes", make([]byte, 9), ErrMalformedFrame},
		{"empty", nil, ErrMalformedFrame},
		{"download response", []byte{0x60, 0x00, 0x10, 0x00, 0, 0, 0, 0}, ErrUnexpectedCommand},
		{"segmented upload", []byte{0x41, 0x00, 0x10, 0x00, 0x10, 0, 0, 0}, ErrUnexpectedCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, data, _, err := DecodeResponse(tt.payload)
			if !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("every decode failure should match ErrMalformedFrame, got %v", err)
			}
			if data != nil {
				t.Errorf("no data expected, got % X", data)
			}
		})
	}
}

func TestFrameString(t *testing.T) {
	f := Frame{ID: 0x581, Data: []byte{0x43, 0x00, 0x10}}
	if got := f.String(); got != "581#43 00 10" {
		t.Errorf("expected 581#43 00 10, got %s", got)
	}
}
