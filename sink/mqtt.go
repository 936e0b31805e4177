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
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeo-scada/canopen"
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Root     string `mapstructure:"root"`
	Format   string `mapstructure:"format"`
	Retain   bool   `mapstructure:"retain"`
}

// MQTT publishes each event as a message on <root>/<node>/<address>.
type MQTT struct {
	client pahomqtt.Client
	cfg    MQTTConfig
	node   canopen.NodeID
	format Format
}

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig, node canopen.NodeID) (*MQTT, error) {
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker not set")
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("canopen-%d-%d", node, time.Now().UnixNano()%100000)
	}
	if cfg.Root == "" {
		cfg.Root = "canopen"
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		client.Disconnect(100)
		return nil, fmt.Errorf("mqtt: connect to %s:%d timed out", cfg.Broker, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}

	return &MQTT{client: client, cfg: cfg, node: node, format: format}, nil
}

// Topic returns the topic of addr under root.
func Topic(root string, node canopen.NodeID, addr canopen.Address) string {
	root = strings.TrimSuffix(root, "/")
	return fmt.Sprintf("%s/%d/%04X/%02X", root, node, addr.Index, addr.Sub)
}

// Write publishes ev with QoS 1.
func (m *MQTT) Write(_ context.Context, ev canopen.Event) error {
	payload, err := m.format.Encode(NewRecord(ev))
	if err != nil {
		return err
	}
	token := m.client.Publish(Topic(m.cfg.Root, m.node, ev.Address), 1, m.cfg.Retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return errors.New("mqtt: publish timed out")
	}
	return token.Error()
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(500)
	return nil
}

var _ Sink = (*MQTT)(nil)
