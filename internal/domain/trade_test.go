package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSingleInstrumentTrade_SnapshotRoundTrip(t *testing.T) {
	trade := NewSingleInstrumentTrade("BitMEX", "XBTUSD", "trend_1h")
	trade.SetTradeID(3)
	trade.Fees = decimal.RequireFromString("0.075")
	trade.OpenOrders = []Order{
		{
			TradeID:   3,
			Direction: Long,
			Size:      decimal.NewFromInt(1000),
			Price:     decimal.NewFromInt(100),
			Type:      Limit,
			Role:      RoleEntry,
			Status:    Unfilled,
		},
		{
			TradeID:    3,
			Direction:  Short,
			Size:       decimal.NewFromInt(1000),
			Price:      decimal.NewFromInt(97),
			Type:       StopMarket,
			Role:       RoleStop,
			ReduceOnly: true,
			Status:     Unfilled,
		},
	}

	data, err := trade.MarshalSnapshot()
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	decoded, err := DecodeTrade(data)
	if err != nil {
		t.Fatalf("DecodeTrade: %v", err)
	}

	got, ok := decoded.(*SingleInstrumentTrade)
	if !ok {
		t.Fatalf("decoded type = %T, want *SingleInstrumentTrade", decoded)
	}
	if got.TradeID() != 3 {
		t.Errorf("TradeID = %d, want 3", got.TradeID())
	}
	if got.Venue() != "BitMEX" || got.Symbol() != "XBTUSD" {
		t.Errorf("venue/symbol = %s/%s", got.Venue(), got.Symbol())
	}
	if !got.Fees.Equal(trade.Fees) {
		t.Errorf("fees = %s, want %s", got.Fees, trade.Fees)
	}
	if len(got.OpenOrders) != 2 {
		t.Fatalf("open orders = %d, want 2", len(got.OpenOrders))
	}
	if got.OpenOrders[1].Role != RoleStop || !got.OpenOrders[1].ReduceOnly {
		t.Errorf("stop leg lost fields: %+v", got.OpenOrders[1])
	}
	if !got.OpenOrders[0].Size.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("entry size = %s, want 1000", got.OpenOrders[0].Size)
	}
}

func TestDecodeTrade_UnknownType(t *testing.T) {
	if _, err := DecodeTrade([]byte(`{"type":"MULTI_VENUE"}`)); err == nil {
		t.Fatal("expected error for unknown trade type")
	}
}

func TestSingleInstrumentTrade_FindOrder(t *testing.T) {
	trade := NewSingleInstrumentTrade("BitMEX", "XBTUSD", "m1")
	trade.OpenOrders = []Order{
		{Role: RoleEntry, Status: Unfilled},
		{Role: RoleStop, Status: Unfilled},
	}

	if got := trade.FindOrder(RoleStop); got == nil || got.Role != RoleStop {
		t.Errorf("FindOrder(STOP) = %+v", got)
	}
	if got := trade.FindOrder(RoleTakeProfit); got != nil {
		t.Errorf("FindOrder(TAKE_PROFIT) = %+v, want nil", got)
	}
}

func TestSingleInstrumentTrade_FindLeg(t *testing.T) {
	trade := NewSingleInstrumentTrade("BitMEX", "XBTUSD", "m1")
	trade.OpenOrders = []Order{
		{Leg: 0, Role: RoleEntry, Status: Unfilled},
		{Leg: 1, Role: RoleStop, Status: Unfilled},
		{Leg: 2, Role: RoleTakeProfit, Status: Unfilled},
		{Leg: 3, Role: RoleTakeProfit, Status: Unfilled},
	}

	if got := trade.FindLeg(3); got == nil || got.Leg != 3 {
		t.Errorf("FindLeg(3) = %+v", got)
	}
	if got := trade.FindLeg(7); got != nil {
		t.Errorf("FindLeg(7) = %+v, want nil", got)
	}
}
