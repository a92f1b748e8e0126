package domain

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	allowed := [][2]OrderStatus{
		{OrderStatusDraft, OrderStatusPriced},
		{OrderStatusPriced, OrderStatusPersisted},
		{OrderStatusPersisted, OrderStatusReconciled},
	}
	for _, pair := range allowed {
		if !pair[0].CanTransitionTo(pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	rejected := [][2]OrderStatus{
		{OrderStatusDraft, OrderStatusPersisted},
		{OrderStatusPersisted, OrderStatusPriced},
		{OrderStatusReconciled, OrderStatusPersisted},
		{OrderStatusReconciled, OrderStatusReconciled},
		{OrderStatus("unknown"), OrderStatusPriced},
	}
	for _, pair := range rejected {
		if pair[0].CanTransitionTo(pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}
