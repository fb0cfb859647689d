// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

const eventTypeHeader = "event-type"
const eventIDHeader = "event-id"

// KafkaBus publishes outbox events to a Kafka topic, keyed by the event key
// so all events of one batch land on the same partition in order.
type KafkaBus struct {
	writer *kafka.Writer
}

// NewKafkaBus builds a bus writing to the given brokers and topic.
func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Compression:  kafka.Snappy,
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish implements Bus.
func (b *KafkaBus) Publish(ctx context.Context, ev *Event) error {
	msg := kafka.Message{
		Key:   []byte(ev.Key),
		Value: ev.Payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(ev.EventType)},
			{Key: eventIDHeader, Value: []byte(ev.EventID)},
		},
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

// KafkaConsumer reads a topic within a consumer group and hands each message
// to a handler. Offsets are committed only after the handler succeeds, which
// preserves at-least-once delivery end to end.
type KafkaConsumer struct {
	reader *kafka.Reader
}

// NewKafkaConsumer builds a consumer for the given group.
func NewKafkaConsumer(brokers []string, topic, groupID string) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
	}
}

// Run consumes until the context is canceled.
func (c *KafkaConsumer) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		ev := &Event{
			Key:        string(msg.Key),
			Payload:    msg.Value,
			OccurredAt: msg.Time,
		}
		for _, h := range msg.Headers {
			switch h.Key {
			case eventTypeHeader:
				ev.EventType = string(h.Value)
			case eventIDHeader:
				ev.EventID = string(h.Value)
			}
		}

		if err := handler(ctx, ev); err != nil {
			// Leave the offset uncommitted; the message redelivers.
			return fmt.Errorf("handle %s: %w", ev.EventType, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

// Close closes the underlying reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
