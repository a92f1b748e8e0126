// Package display delivers computed totals to customer facing screens. Delivery is at least once
// and screens keep the event with the highest sequence per terminal.
package display

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tillpoint/api/internal/pricing"
)

// EventKind distinguishes a live cart quote from a completed checkout.
type EventKind string

const (
	KindQuote    EventKind = "quote"
	KindCheckout EventKind = "checkout"
)

// Event is the payload a customer display renders.
type Event struct {
	ID         string              `json:"id"`
	Kind       EventKind           `json:"kind"`
	StoreID    string              `json:"storeId"`
	TerminalID string              `json:"terminalId"`
	OrderID    string              `json:"orderId,omitempty"`
	Sequence   int64               `json:"sequence"`
	Currency   string              `json:"currency"`
	Totals     pricing.OrderTotals `json:"totals"`
	EmittedAt  time.Time           `json:"emittedAt"`
}

// ErrMissingTerminal is returned for events that cannot be routed to a screen.
var ErrMissingTerminal = errors.New("display: terminal id is required")

// Validate reports whether the event can be routed.
func (e Event) Validate() error {
	if strings.TrimSpace(e.TerminalID) == "" {
		return ErrMissingTerminal
	}
	return nil
}

// Supersedes reports whether e replaces current under last write wins.
func (e Event) Supersedes(current Event) bool {
	return e.Sequence > current.Sequence
}

// Publisher delivers events to displays.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// Noop drops every event.
var Noop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Multi fans an event out to every publisher and joins their errors.
func Multi(publishers ...Publisher) Publisher {
	active := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			active = append(active, p)
		}
	}
	switch len(active) {
	case 0:
		return Noop
	case 1:
		return active[0]
	}
	return PublisherFunc(func(ctx context.Context, event Event) error {
		var errs []error
		for _, p := range active {
			if err := p.Publish(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
