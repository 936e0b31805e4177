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
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgeo-scada/canopen"
)

// ValkeyConfig configures the Valkey (Redis protocol) publisher.
type ValkeyConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	Database int           `mapstructure:"database"`
	Prefix   string        `mapstructure:"prefix"`
	KeyTTL   time.Duration `mapstructure:"key_ttl"`
	Format   string        `mapstructure:"format"`
}

// Valkey stores the latest record per address and publishes every record
// on the node channel.
type Valkey struct {
	client *redis.Client
	cfg    ValkeyConfig
	node   canopen.NodeID
	format Format
}

// NewValkey connects and pings the server.
func NewValkey(ctx context.Context, cfg ValkeyConfig, node canopen.NodeID) (*Valkey, error) {
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "canopen"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey: connect to %s: %w", cfg.Address, err)
	}

	return &Valkey{client: client, cfg: cfg, node: node, format: format}, nil
}

// joinKey joins non-empty segments with ':'.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// ValueKey returns the key holding the latest record of addr.
func ValueKey(prefix string, node canopen.NodeID, addr canopen.Address) string {
	return joinKey(prefix, fmt.Sprintf("%d", node), fmt.Sprintf("%04X", addr.Index), fmt.Sprintf("%02X", addr.Sub))
}

// ChannelName returns the pub/sub channel of node.
func ChannelName(prefix string, node canopen.NodeID) string {
	return joinKey(prefix, fmt.Sprintf("%d", node), "events")
}

// Write stores value readings under their key and publishes every event.
func (v *Valkey) Write(ctx context.Context, ev canopen.Event) error {
	data, err := v.format.Encode(NewRecord(ev))
	if err != nil {
		return err
	}
	if ev.Kind == canopen.EventNumeric || ev.Kind == canopen.EventText {
		key := ValueKey(v.cfg.Prefix, v.node, ev.Address)
		if err := v.client.Set(ctx, key, data, v.cfg.KeyTTL).Err(); err != nil {
			return fmt.Errorf("valkey: set %s: %w", key, err)
		}
	}
	return v.client.Publish(ctx, ChannelName(v.cfg.Prefix, v.node), data).Err()
}

// Close closes the client.
func (v *Valkey) Close() error {
	return v.client.Close()
}

var _ Sink = (*Valkey)(nil)
