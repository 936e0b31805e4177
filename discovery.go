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
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// maxMappedObjects bounds the mapping count: a classic CAN frame carries
// at most 64 one-bit objects.
const maxMappedObjects = 64

// DiscoverPDOs reads the communication and mapping parameters of TPDO1..4
// over SDO. Disabled TPDOs and TPDOs whose parameters cannot be read are
// skipped. An error is returned only when the session itself fails.
func (c *Client) DiscoverPDOs(ctx context.Context) ([]PDOMapping, error) {
	var out []PDOMapping
	for n := 1; n <= MaxTPDO; n++ {
		m, err := c.discoverPDO(ctx, n)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return out, err
			}
			c.logger.Debug("tpdo skipped",
				slog.Int("tpdo", n),
				slog.String("error", err.Error()))
			continue
		}
		if m == nil {
			continue
		}
		c.logger.Info("tpdo discovered",
			slog.Int("tpdo", n),
			slog.String("cob_id", fmt.Sprintf("0x%03X", m.COBID)),
			slog.Int("objects", len(m.Objects)))
		out = append(out, *m)
	}
	return out, nil
}

func (c *Client) discoverPDO(ctx context.Context, n int) (*PDOMapping, error) {
	comm := Address{Index: TPDOCommBase + uint16(n-1), Sub: 0x01}
	cobID, err := c.ReadUint32(ctx, comm)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", comm, err)
	}
	if cobID&PDOInvalidBit != 0 {
		c.logger.Debug("tpdo disabled", slog.Int("tpdo", n))
		return nil, nil
	}

	mapIndex := TPDOMappingBase + uint16(n-1)
	count, err := c.ReadUint32(ctx, Address{Index: mapIndex, Sub: 0x00})
	if err != nil {
		return nil, fmt.Errorf("read mapping count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	if count > maxMappedObjects {
		return nil, fmt.Errorf("%w: tpdo %d maps %d objects", ErrMalformedFrame, n, count)
	}

	m := &PDOMapping{Number: n, COBID: cobID & COBIDMask}
	for sub := uint32(1); sub <= count; sub++ {
		addr := Address{Index: mapIndex, Sub: uint8(sub)}
		v, err := c.ReadUint32(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", addr, err)
		}
		obj := DecodeMappingValue(v)
		if entry, ok := c.dir.Lookup(obj.Address); ok {
			obj.Name = entry.Name
			if entry.Type.Size()*8 == int(obj.BitLength) {
				obj.Type = entry.Type
			}
		}
		m.Objects = append(m.Objects, obj)
	}
	return m, nil
}
