package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
)

// PubSubPublisher publishes events to a topic with the terminal as ordering key.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher enables message ordering on topic and wraps it.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("display: pubsub topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("display: marshal event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.TerminalID,
		Attributes: map[string]string{
			"eventId":    event.ID,
			"kind":       string(event.Kind),
			"storeId":    event.StoreID,
			"terminalId": event.TerminalID,
			"sequence":   strconv.FormatInt(event.Sequence, 10),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed key stays paused until resumed.
		p.topic.ResumePublish(event.TerminalID)
		return fmt.Errorf("display: pubsub publish: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
