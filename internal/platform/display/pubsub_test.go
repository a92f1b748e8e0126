package display

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tillpoint/api/internal/pricing"
)

func TestPubSubPublisherPublishesOrderedMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "customer-display")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Stop()

	event := Event{
		ID:         "evt-1",
		Kind:       KindQuote,
		StoreID:    "store-1",
		TerminalID: "t-9",
		Sequence:   42,
		Currency:   "VND",
		Totals:     pricing.OrderTotals{Mode: pricing.PriceModeExclusive, Subtotal: 250000, Tax: 20000, Total: 270000},
	}
	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.OrderingKey != "t-9" {
		t.Fatalf("expected terminal ordering key, got %q", msg.OrderingKey)
	}
	if msg.Attributes["sequence"] != "42" || msg.Attributes["kind"] != "quote" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Totals.Total != 270000 || decoded.Sequence != 42 {
		t.Fatalf("unexpected payload %#v", decoded)
	}
}

func TestPubSubPublisherRejectsUnroutableEvent(t *testing.T) {
	publisher := &PubSubPublisher{}
	if err := publisher.Publish(context.Background(), Event{}); err != ErrMissingTerminal {
		t.Fatalf("expected ErrMissingTerminal, got %v", err)
	}
}
