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
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/edgeo-scada/canopen"
)

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	Topic            string   `mapstructure:"topic"`
	RequiredAcks     int      `mapstructure:"required_acks"`
	MaxRetries       int      `mapstructure:"max_retries"`
	AutoCreateTopics bool     `mapstructure:"auto_create_topics"`
	Format           string   `mapstructure:"format"`
}

// Kafka produces one message per event, keyed by address so that a
// partition keeps the order of one object.
type Kafka struct {
	writer *kafka.Writer
	format Format
}

// NewKafka creates the producer. Brokers are contacted on the first write.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if cfg.Topic == "" {
		cfg.Topic = "canopen"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:            cfg.MaxRetries,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: cfg.AutoCreateTopics,
	}
	return &Kafka{writer: w, format: format}, nil
}

// Message builds the kafka message of ev.
func (k *Kafka) Message(ev canopen.Event) (kafka.Message, error) {
	value, err := k.format.Encode(NewRecord(ev))
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.Address.String()),
		Value: value,
		Time:  ev.Timestamp,
	}, nil
}

// Write produces ev synchronously.
func (k *Kafka) Write(ctx context.Context, ev canopen.Event) error {
	msg, err := k.Message(ev)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka produce failed: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ Sink = (*Kafka)(nil)
