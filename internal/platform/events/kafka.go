// Package events writes JSON envelopes to Kafka topics.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/tillpoint/api/internal/platform/config"
	"github.com/tillpoint/api/internal/platform/observability"
)

const defaultWriteTimeout = 10 * time.Second

// Envelope wraps every payload written by Producer.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// MessageWriter is the subset of kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes envelopes to a single topic. Messages sharing a key keep their order.
type Producer struct {
	writer MessageWriter
	clock  func() time.Time
	newID  func() string
}

// NewKafkaWriter builds a kafka.Writer for topic using the configured brokers. Configured
// SASL credentials switch the transport to SASL/PLAIN over TLS.
func NewKafkaWriter(cfg config.KafkaConfig, topic string, logger *zap.Logger) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("events: kafka topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
		Logger:       observability.NewPrintfAdapter(logger),
		ErrorLogger:  observability.NewErrorPrintfAdapter(logger),
	}
	if cfg.SASLUsername != "" {
		writer.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: cfg.SASLUsername, Password: cfg.SASLPassword},
			TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return writer, nil
}

// NewProducer wraps writer.
func NewProducer(writer MessageWriter) (*Producer, error) {
	if writer == nil {
		return nil, errors.New("events: writer is required")
	}
	return &Producer{
		writer: writer,
		clock:  time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Publish marshals data into an envelope of eventType keyed by key.
func (p *Producer) Publish(ctx context.Context, eventType, key string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	envelope := Envelope{
		ID:         p.newID(),
		Type:       eventType,
		Key:        key,
		Data:       raw,
		OccurredAt: p.clock().UTC(),
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "event_id", Value: []byte(envelope.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return Envelope{}, fmt.Errorf("events: write %s: %w", eventType, err)
	}
	return envelope, nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
