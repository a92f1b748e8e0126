package events

import (
	"context"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/pricing"
)

// EventTypeOrderPersisted is emitted once an order's totals are frozen.
const EventTypeOrderPersisted = "order.persisted"

// OrderPersisted is the payload downstream ledgers consume. It carries the stored record rather
// than the breakdown so consumers derive revenue the same way reports do.
type OrderPersisted struct {
	OrderID     string            `json:"orderId"`
	StoreID     string            `json:"storeId"`
	TerminalID  string            `json:"terminalId"`
	Currency    string            `json:"currency"`
	PriceMode   pricing.PriceMode `json:"priceMode"`
	Record      pricing.Record    `json:"record"`
	Revenue     int64             `json:"revenue"`
	PersistedAt time.Time         `json:"persistedAt"`
}

// OrderPublisher emits order lifecycle events keyed by order ID.
type OrderPublisher struct {
	producer *Producer
}

// NewOrderPublisher wraps producer.
func NewOrderPublisher(producer *Producer) *OrderPublisher {
	return &OrderPublisher{producer: producer}
}

// PublishOrderPersisted emits an order.persisted event.
func (p *OrderPublisher) PublishOrderPersisted(ctx context.Context, order domain.Order) error {
	payload := OrderPersisted{
		OrderID:    order.ID,
		StoreID:    order.StoreID,
		TerminalID: order.TerminalID,
		Currency:   order.Currency,
		PriceMode:  order.PriceMode,
		Record:     order.Record,
		Revenue:    pricing.Reconcile(order.Record),
	}
	if order.PersistedAt != nil {
		payload.PersistedAt = order.PersistedAt.UTC()
	}
	_, err := p.producer.Publish(ctx, EventTypeOrderPersisted, order.ID, payload)
	return err
}
