package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDirection_Inverse(t *testing.T) {
	if Long.Inverse() != Short {
		t.Errorf("Long.Inverse() = %v, want SHORT", Long.Inverse())
	}
	if Short.Inverse() != Long {
		t.Errorf("Short.Inverse() = %v, want LONG", Short.Inverse())
	}
}

func TestOrderStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"UnfilledToPartial", Unfilled, Partial, true},
		{"UnfilledToFilled", Unfilled, Filled, true},
		{"PartialToFilled", Partial, Filled, true},
		{"PartialToUnfilled", Partial, Unfilled, false},
		{"FilledToPartial", Filled, Partial, false},
		{"FilledToUnfilled", Filled, Unfilled, false},
		{"NoSelfTransition", Partial, Partial, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%v -> %v = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOrder_IsOpen(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{Unfilled, true},
		{Partial, true},
		{Filled, false},
	}
	for _, tt := range tests {
		o := &Order{Status: tt.status}
		if got := o.IsOpen(); got != tt.want {
			t.Errorf("IsOpen() with %v = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrder_ClientID(t *testing.T) {
	o := &Order{TradeID: 42, Role: RoleStop, Leg: 1}
	if got := o.ClientID(); got != "42-STOP-1" {
		t.Errorf("ClientID() = %q, want 42-STOP-1", got)
	}

	// Sibling take-profit legs must never share a client ID.
	a := &Order{TradeID: 42, Role: RoleTakeProfit, Leg: 2}
	b := &Order{TradeID: 42, Role: RoleTakeProfit, Leg: 3}
	if a.ClientID() == b.ClientID() {
		t.Errorf("sibling legs share client ID %q", a.ClientID())
	}
}

func TestOrder_Document(t *testing.T) {
	o := &Order{
		TradeID:    7,
		Direction:  Long,
		Size:       decimal.NewFromInt(100),
		Price:      decimal.RequireFromString("50000.5"),
		Type:       Limit,
		Role:       RoleEntry,
		ReduceOnly: false,
		Status:     Unfilled,
	}
	doc := o.Document()
	if doc["trade_id"] != int64(7) {
		t.Errorf("doc trade_id = %v, want 7", doc["trade_id"])
	}
	if doc["price"] != "50000.5" {
		t.Errorf("doc price = %v, want 50000.5", doc["price"])
	}
	if doc["role"] != "ENTRY" {
		t.Errorf("doc role = %v, want ENTRY", doc["role"])
	}
}
