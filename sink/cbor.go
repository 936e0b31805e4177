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

package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/edgeo-scada/canopen"
)

// CBORFile appends CBOR-encoded records to a file.
type CBORFile struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewCBORFile opens path for appending, creating it with mode 0644.
func NewCBORFile(path string) (*CBORFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &CBORFile{
		file:    f,
		encoder: recordEncMode.NewEncoder(f),
	}, nil
}

// Write appends the record of ev.
func (c *CBORFile) Write(_ context.Context, ev canopen.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("cbor sink closed")
	}
	return c.encoder.Encode(NewRecord(ev))
}

// Close closes the file. It is safe to call more than once.
func (c *CBORFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.file.Close()
}

// ReadRecords decodes every record from r until EOF.
func ReadRecords(r io.Reader) ([]Record, error) {
	dec := recordDecMode.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}

var _ Sink = (*CBORFile)(nil)
