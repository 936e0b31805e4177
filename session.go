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
	"time"

	"github.com/edgeo-scada/canopen/internal/transport"
)

// OpenTransport opens a raw channel. Accepted forms:
//
//	can0, socketcan://can0   SocketCAN interface (Linux)
//	tcp://host:port          CAN-over-TCP gateway
//	mem://name               in-process virtual bus
//
// Any failure to open matches ErrChannelUnavailable.
func OpenTransport(ctx context.Context, channel string, dialTimeout time.Duration) (Transport, error) {
	conn, err := transport.Open(ctx, channel, dialTimeout)
	if err != nil {
		if errors.Is(err, transport.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
		}
		return nil, err
	}
	return conn, nil
}

// Open opens channel and returns a client bound to it.
func Open(ctx context.Context, channel string, opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	t, err := OpenTransport(ctx, channel, options.dialTimeout)
	if err != nil {
		return nil, err
	}

	c, err := NewClient(t, opts...)
	if err != nil {
		t.Close()
		return nil, err
	}
	c.logger.Info("channel opened",
		slog.String("channel", channel),
		slog.Uint64("node", uint64(c.node)))
	return c, nil
}
