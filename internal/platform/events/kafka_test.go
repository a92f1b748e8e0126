package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/config"
	"github.com/tillpoint/api/internal/pricing"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerPublishWritesEnvelope(t *testing.T) {
	writer := &recordingWriter{}
	producer, err := NewProducer(writer)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	producer.clock = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	producer.newID = func() string { return "evt-1" }

	envelope, err := producer.Publish(context.Background(), "order.persisted", "terminal-7", map[string]int64{"total": 1200})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if envelope.ID != "evt-1" || envelope.Type != "order.persisted" {
		t.Fatalf("unexpected envelope %#v", envelope)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "terminal-7" {
		t.Fatalf("expected terminal key, got %q", msg.Key)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[0].Value) != "order.persisted" || string(msg.Headers[1].Value) != "evt-1" {
		t.Fatalf("unexpected headers %#v", msg.Headers)
	}

	var decoded Envelope
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.Data) != `{"total":1200}` {
		t.Fatalf("unexpected data %s", decoded.Data)
	}
	if !decoded.OccurredAt.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", decoded.OccurredAt)
	}
}

func TestProducerPublishWrapsWriterError(t *testing.T) {
	writer := &recordingWriter{err: errors.New("broker down")}
	producer, _ := NewProducer(writer)

	if _, err := producer.Publish(context.Background(), "order.persisted", "k", struct{}{}); err == nil || !errors.Is(err, writer.err) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
	if err := producer.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to close, got %v", err)
	}
}

func TestNewKafkaWriterValidates(t *testing.T) {
	if _, err := NewKafkaWriter(config.KafkaConfig{}, "orders", nil); err == nil {
		t.Fatal("expected error without brokers")
	}
	writer, err := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "orders", nil)
	if err != nil {
		t.Fatalf("NewKafkaWriter: %v", err)
	}
	if writer.Topic != "orders" || writer.WriteTimeout != defaultWriteTimeout {
		t.Fatalf("unexpected writer %#v", writer)
	}
	if writer.Transport != nil {
		t.Fatalf("expected default transport without credentials, got %#v", writer.Transport)
	}
}

func TestNewKafkaWriterUsesSASLCredentials(t *testing.T) {
	writer, err := NewKafkaWriter(config.KafkaConfig{
		Brokers:      []string{"kafka:9093"},
		SASLUsername: "pos-api",
		SASLPassword: "kafka-s3cret",
	}, "orders", nil)
	if err != nil {
		t.Fatalf("NewKafkaWriter: %v", err)
	}
	transport, ok := writer.Transport.(*kafka.Transport)
	if !ok {
		t.Fatalf("expected *kafka.Transport, got %T", writer.Transport)
	}
	mechanism, ok := transport.SASL.(plain.Mechanism)
	if !ok || mechanism.Username != "pos-api" || mechanism.Password != "kafka-s3cret" {
		t.Fatalf("unexpected sasl mechanism %#v", transport.SASL)
	}
	if transport.TLS == nil {
		t.Fatal("expected tls for sasl transport")
	}
}

func TestOrderPublisherCarriesRecord(t *testing.T) {
	writer := &recordingWriter{}
	producer, _ := NewProducer(writer)
	persisted := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	order := domain.Order{
		ID:          "01HZ",
		StoreID:     "store-1",
		TerminalID:  "t-1",
		Currency:    "VND",
		PriceMode:   pricing.PriceModeExclusive,
		Record:      pricing.Record{Subtotal: 250000, Discount: 30000, Tax: 17600, Total: 237600},
		PersistedAt: &persisted,
	}
	if err := NewOrderPublisher(producer).PublishOrderPersisted(context.Background(), order); err != nil {
		t.Fatalf("PublishOrderPersisted: %v", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(writer.messages[0].Value, &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var payload OrderPersisted
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(writer.messages[0].Key) != "01HZ" || envelope.Type != EventTypeOrderPersisted {
		t.Fatalf("unexpected message key %q type %q", writer.messages[0].Key, envelope.Type)
	}
	if payload.Revenue != 220000 || payload.Record != order.Record {
		t.Fatalf("unexpected payload %#v", payload)
	}
}
