// Package kafkaio adapts segmentio/kafka-go to the Connection/Consumer/
// Producer/Admin operator split the teacher's stream adapters use for every
// broker they support (internal/adapter/kafka in the teacher tree).
//
// The teacher's Kafka adapter is a registered-but-unimplemented scaffold:
// Connect returns a Connection whose ConsumerOperations/ProducerOperations/
// AdminOperations are stub types with no-op bodies. This package does not
// keep that layering: it has no Adapter, Connection or Admin types, only a
// Consumer over a real kafka-go Reader and a Producer over a real kafka-go
// Writer, because this system actually has to consume and republish
// events rather than describe a pluggable broker abstraction.
package kafkaio

import (
	"context"
	"errors"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/National-Digital-Twin/federator-sub003/internal/model"
)

// Config carries the broker connection details for one topic subscription.
type Config struct {
	Brokers  []string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// DefaultConfig returns sane defaults for a single-broker development setup.
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:  brokers,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}
}

// Event is one polled Kafka record, carrying its shared (security-label and
// other) headers as ordered name/value pairs, per spec.md 6 EventFrame.
type Event struct {
	Topic   string
	Offset  int64
	Key     []byte
	Value   []byte
	Headers []model.Attribute
}

// ErrConsumerClosed is returned by Poll once Close has been called.
var ErrConsumerClosed = errors.New("kafkaio: consumer closed")

// Consumer wraps a kafka-go Reader pinned to a single topic/partition,
// resuming at an explicit offset rather than a consumer-group commit —
// this system's own offset KV is the source of truth for resumption
// (spec.md 5 "Ordering guarantees"), not Kafka's group coordinator.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer opens a reader for topic at partition 0, starting from
// startOffset. A non-negative startOffset is a message offset handed to
// kafka-go's SetOffset; a negative one (including kafka.FirstOffset and
// kafka.LastOffset) is ignored and the reader keeps its default start.
func NewConsumer(cfg Config, topic string, startOffset int64) (*Consumer, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	})

	if startOffset >= 0 {
		if err := reader.SetOffset(startOffset); err != nil {
			_ = reader.Close()
			return nil, err
		}
	}

	return &Consumer{reader: reader}, nil
}

// Poll waits up to timeout for the next message. A timeout with no message
// available returns (nil, nil) — the caller's inactivity counter advances,
// per spec.md 4.3 RUNNING state ("if null, check inactivity counter").
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*Event, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := c.reader.ReadMessage(pollCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}

	headers := make([]model.Attribute, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		headers = append(headers, model.Attribute{Name: h.Key, Value: string(h.Value)})
	}

	return &Event{
		Topic:   msg.Topic,
		Offset:  msg.Offset,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}, nil
}

// Close releases the underlying reader's connections.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Producer wraps a kafka-go Writer used to republish received events into
// the local tenant's Kafka sink (spec.md 4.8 "republishes events to the
// local Kafka sink").
type Producer struct {
	writer *kafka.Writer
}

// NewProducer opens a writer targeting topic across brokers.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// Publish republishes one event, preserving its key, value, and headers.
func (p *Producer) Publish(ctx context.Context, e Event) error {
	headers := make([]kafka.Header, 0, len(e.Headers))
	for _, h := range e.Headers {
		headers = append(headers, kafka.Header{Key: h.Name, Value: []byte(h.Value)})
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     e.Key,
		Value:   e.Value,
		Headers: headers,
	})
}

// Close releases the underlying writer's connections.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// HeaderValue returns the first header value matching name, case-sensitive
// (Kafka header keys are opaque byte strings; the security-label header
// name is a fixed, known constant so exact match is correct here).
func HeaderValue(headers []model.Attribute, name string) (string, bool) {
	for _, h := range headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}
