package display

import (
	"context"

	"github.com/tillpoint/api/internal/platform/events"
)

const eventTypeDisplayUpdated = "display.updated"

// KafkaPublisher writes events to a Kafka topic keyed by terminal.
type KafkaPublisher struct {
	producer *events.Producer
}

// NewKafkaPublisher wraps producer.
func NewKafkaPublisher(producer *events.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := p.producer.Publish(ctx, eventTypeDisplayUpdated, event.TerminalID, event)
	return err
}
