package domain

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		party   OrderParty
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{"buyer pays", PartyBuyer, OrderStatusPending, OrderStatusPaid, true},
		{"seller cannot pay", PartySeller, OrderStatusPending, OrderStatusPaid, false},
		{"seller ships", PartySeller, OrderStatusPaid, OrderStatusShipped, true},
		{"buyer cannot ship", PartyBuyer, OrderStatusPaid, OrderStatusShipped, false},
		{"buyer confirms delivery", PartyBuyer, OrderStatusShipped, OrderStatusDelivered, true},
		{"buyer completes", PartyBuyer, OrderStatusDelivered, OrderStatusCompleted, true},
		{"no skipping ahead", PartyBuyer, OrderStatusPending, OrderStatusDelivered, false},
		{"buyer cancels before payment", PartyBuyer, OrderStatusPending, OrderStatusCancelled, true},
		{"seller cancels before shipment", PartySeller, OrderStatusPaid, OrderStatusCancelled, true},
		{"no cancel after shipment", PartySeller, OrderStatusShipped, OrderStatusCancelled, false},
		{"no reopening", PartyBuyer, OrderStatusCompleted, OrderStatusPending, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check.Equal(t, tc.allowed, CanTransition(tc.party, tc.from, tc.to))
		})
	}
}
