package event

import (
	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/domain"
)

// Kind is the discriminant tag carried by every event. Consumers read it
// before field access.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindSignal Kind = "SIGNAL"
	KindOrder  Kind = "ORDER"
	KindFill   Kind = "FILL"
)

// Event is the interface for all queue events. Events are immutable once
// constructed; no consumer may mutate a received event.
type Event interface {
	Kind() Kind
}

// Market wraps new market data. Produced by data feeds, consumed by the
// portfolio to re-evaluate open positions.
type Market struct {
	Venue string     `json:"venue"`
	Bar   domain.Bar `json:"bar"`
}

func (Market) Kind() Kind { return KindMarket }

// Target is one take-profit level: a price and the percentage of the
// position size to close there.
type Target struct {
	Price   decimal.Decimal `json:"price" validate:"required"`
	Percent int             `json:"percent" validate:"required,gt=0,lte=100"`
}

// Signal is a strategy's recommendation to enter a position. Produced by
// external strategy code and treated as entirely untrusted input: the
// portfolio validates every field before trade construction.
type Signal struct {
	Symbol          string           `json:"symbol" validate:"required"`
	EntryTimestamp  int64            `json:"entry_timestamp" validate:"required,gt=0"`
	Direction       domain.Direction `json:"direction" validate:"required,oneof=LONG SHORT"`
	Timeframe       string           `json:"timeframe" validate:"required"`
	Strategy        string           `json:"strategy" validate:"required"`
	Venue           string           `json:"venue" validate:"required"`
	EntryPrice      decimal.Decimal  `json:"entry_price" validate:"required"`
	EntryType       domain.OrderType `json:"entry_type" validate:"required,oneof=LIMIT MARKET STOP_LIMIT STOP_MARKET"`
	Targets         []Target         `json:"targets" validate:"dive"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"`
	VoidPrice       decimal.Decimal  `json:"void_price"`
	InstrumentCount int              `json:"instrument_count" validate:"required,gte=1"`
	Trail           bool             `json:"trail"`
	Note            string           `json:"note"`
}

func (Signal) Kind() Kind { return KindSignal }

// InverseDirection returns the opposite of the signal's direction, used
// for stop and take-profit legs.
func (s Signal) InverseDirection() domain.Direction {
	return s.Direction.Inverse()
}

// Order carries one constructed order leg to the broker for submission to
// its venue.
type Order struct {
	Venue  string       `json:"venue"`
	Symbol string       `json:"symbol"`
	Order  domain.Order `json:"order"`
}

func (Order) Kind() Kind { return KindOrder }

// takerFeeRate is the placeholder commission rate applied when a venue
// does not report one (BitMEX taker fee, 0.075%).
var takerFeeRate = decimal.RequireFromString("0.00075")

// Fill confirms that some or all of an order executed at a venue.
// Produced by the broker, consumed by the portfolio. Leg identifies the
// exact order leg within the trade, since sibling take-profit legs share
// a role.
type Fill struct {
	Timestamp  int64            `json:"timestamp"`
	Symbol     string           `json:"symbol"`
	Venue      string           `json:"venue"`
	TradeID    int64            `json:"trade_id"`
	Leg        int              `json:"leg"`
	Role       domain.OrderRole `json:"role"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Direction  domain.Direction `json:"direction"`
	FillCost   decimal.Decimal  `json:"fill_cost"`
	Commission decimal.Decimal  `json:"commission"`
}

func (Fill) Kind() Kind { return KindFill }

// NewFill constructs a fill with the default taker-fee commission.
func NewFill(ts int64, symbol, venue string, tradeID int64, leg int, role domain.OrderRole,
	qty decimal.Decimal, direction domain.Direction, fillCost decimal.Decimal) Fill {

	return Fill{
		Timestamp:  ts,
		Symbol:     symbol,
		Venue:      venue,
		TradeID:    tradeID,
		Leg:        leg,
		Role:       role,
		Quantity:   qty,
		Direction:  direction,
		FillCost:   fillCost,
		Commission: fillCost.Mul(takerFeeRate),
	}
}

// NewFillWithCommission constructs a fill carrying a venue-reported
// commission.
func NewFillWithCommission(ts int64, symbol, venue string, tradeID int64, leg int, role domain.OrderRole,
	qty decimal.Decimal, direction domain.Direction, fillCost, commission decimal.Decimal) Fill {

	f := NewFill(ts, symbol, venue, tradeID, leg, role, qty, direction, fillCost)
	f.Commission = commission
	return f
}
