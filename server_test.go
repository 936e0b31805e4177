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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edgeo-scada/canopen/internal/transport"
)

func TestNewNodeValidation(t *testing.T) {
	if _, err := NewNode(nil, 1, nil); err == nil {
		t.Error("nil transport should be rejected")
	}
	if _, err := NewNode(transport.NewBus().Attach(1), 0, nil); err == nil {
		t.Error("node 0 should be rejected")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	addr := Address{0x2000, 0x01}

	if _, err := s.ReadObject(addr); !IsNoObject(err) {
		t.Errorf("missing object: expected abort 0x06020000, got %v", err)
	}

	if err := s.Set(addr, UInt16, 0x1234); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	raw, err := s.ReadObject(addr)
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	if !bytes.Equal(raw, []byte{0x34, 0x12}) {
		t.Errorf("expected 34 12, got % X", raw)
	}

	calls := 0
	s.SetFunc(addr, func() []byte { calls++; return []byte{byte(calls)} })
	s.ReadObject(addr)
	raw, _ = s.ReadObject(addr)
	if raw[0] != 2 {
		t.Errorf("func value: expected 2, got %d", raw[0])
	}

	s.Delete(addr)
	if s.Len() != 0 {
		t.Errorf("Len: expected 0, got %d", s.Len())
	}
}

func exchangeRaw(t *testing.T, port *transport.Port, node NodeID, payload []byte) []byte {
	t.Helper()
	if err := port.Send(context.Background(), RequestID(node), payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		data, id, err := port.Receive(time.Until(deadline))
		if err != nil {
			break
		}
		if id == ResponseID(node) {
			return data
		}
	}
	t.Fatal("no response from node")
	return nil
}

func TestNodeAborts(t *testing.T) {
	port, node := startNode(t, 5)

	tests := []struct {
		name    string
		payload []byte
		code    AbortCode
	}{
		{"missing object", func() []byte { r := EncodeReadRequest(Address{0x3000, 0x00}); return r[:] }(), AbortNoObject},
		{"too long for expedited", func() []byte { r := EncodeReadRequest(Address{0x1009, 0x00}); return r[:] }(), AbortCommandSpecifier},
		{"download request", []byte{0x23, 0x00, 0x20, 0x01, 1, 2, 3, 4}, AbortCommandSpecifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := exchangeRaw(t, port, 5, tt.payload)
			_, _, _, err := DecodeResponse(resp)
			if !IsAbort(err, tt.code) {
				t.Errorf("expected abort 0x%08X, got %v", uint32(tt.code), err)
			}
		})
	}

	if node.Metrics().Aborts.Value() != 3 {
		t.Errorf("aborts: expected 3, got %d", node.Metrics().Aborts.Value())
	}
}

func TestNodeIgnoresOtherNodes(t *testing.T) {
	port, node := startNode(t, 5)

	req := EncodeReadRequest(IdentityAddress)
	port.Send(context.Background(), RequestID(6), req[:])

	if _, _, err := port.Receive(50 * time.Millisecond); !errors.Is(err, transport.ErrTimeout) {
		t.Errorf("expected no response, got %v", err)
	}
	if node.Metrics().Requests.Value() != 0 {
		t.Errorf("requests: expected 0, got %d", node.Metrics().Requests.Value())
	}
}

func TestNodeBroadcastsTPDO1(t *testing.T) {
	port, node := startNode(t, 3, WithBroadcastInterval(20*time.Millisecond))

	data, id, err := port.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if id != 0x183 {
		t.Errorf("cob id: expected 0x183, got 0x%X", id)
	}
	if len(data) != 5 {
		t.Fatalf("payload: expected 5 bytes, got %d", len(data))
	}

	temperature := uint16(data[0]) | uint16(data[1])<<8
	pressure := uint16(data[2]) | uint16(data[3])<<8
	if temperature != 2351 {
		t.Errorf("temperature: expected 2351, got %d", temperature)
	}
	if pressure != 1014 {
		t.Errorf("pressure: expected 1014, got %d", pressure)
	}
	if data[4] != 2 {
		t.Errorf("status: expected 2, got %d", data[4])
	}

	node.SetSilent(true)
	if _, _, err := port.Receive(time.Second); err != nil {
		t.Errorf("silent node should keep broadcasting, got %v", err)
	}
	if node.Metrics().Broadcasts.Value() < 2 {
		t.Errorf("broadcasts: expected at least 2, got %d", node.Metrics().Broadcasts.Value())
	}
}
