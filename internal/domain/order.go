package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction is the side of a trade or order.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Inverse returns the opposite direction.
func (d Direction) Inverse() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Valid reports whether the direction is one of the two known sides.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// OrderType is the venue order type.
type OrderType string

const (
	Limit      OrderType = "LIMIT"
	Market     OrderType = "MARKET"
	StopLimit  OrderType = "STOP_LIMIT"
	StopMarket OrderType = "STOP_MARKET"
)

// OrderRole identifies an order's purpose within its parent trade.
type OrderRole string

const (
	RoleEntry      OrderRole = "ENTRY"
	RoleStop       OrderRole = "STOP"
	RoleTakeProfit OrderRole = "TAKE_PROFIT"
)

// OrderStatus is the fill state of an order.
type OrderStatus string

const (
	Unfilled OrderStatus = "UNFILLED"
	Partial  OrderStatus = "PARTIAL"
	Filled   OrderStatus = "FILLED"
)

func (s OrderStatus) rank() int {
	switch s {
	case Unfilled:
		return 0
	case Partial:
		return 1
	case Filled:
		return 2
	}
	return -1
}

// CanTransition reports whether an order may move from s to next.
// Fills only ever advance an order: UNFILLED -> PARTIAL -> FILLED.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return next.rank() > s.rank()
}

// Order models a single order leg belonging to a parent trade. Leg is the
// leg's index within the trade's construction order (0 entry, 1 stop, 2+
// take-profits) and distinguishes sibling legs sharing a role.
type Order struct {
	TradeID      int64           `json:"trade_id"`
	Leg          int             `json:"leg"`
	PositionID   int64           `json:"position_id,omitempty"`
	VenueOrderID string          `json:"venue_order_id,omitempty"`
	Direction    Direction       `json:"direction"`
	Size         decimal.Decimal `json:"size"`
	Price        decimal.Decimal `json:"price"`
	Type         OrderType       `json:"order_type"`
	Role         OrderRole       `json:"role"`
	VoidPrice    decimal.Decimal `json:"void_price"`
	Trailing     bool            `json:"trailing"`
	ReduceOnly   bool            `json:"reduce_only"`
	PostOnly     bool            `json:"post_only"`
	Status       OrderStatus     `json:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	FilledCost   decimal.Decimal `json:"filled_cost"`
}

// IsOpen reports whether the order is still working at the venue.
func (o *Order) IsOpen() bool {
	return o.Status == Unfilled || o.Status == Partial
}

// ClientID returns a deterministic client order identifier, used for
// idempotent resubmission to venues. The leg index keeps sibling legs of
// one trade distinct (a trade may carry several take-profit orders).
func (o *Order) ClientID() string {
	return fmt.Sprintf("%d-%s-%d", o.TradeID, o.Role, o.Leg)
}

// Document returns the canonical field mapping for persistence. Orders are
// only ever stored embedded in their parent trade's snapshot.
func (o *Order) Document() map[string]any {
	return map[string]any{
		"trade_id":       o.TradeID,
		"leg":            o.Leg,
		"position_id":    o.PositionID,
		"venue_order_id": o.VenueOrderID,
		"direction":      string(o.Direction),
		"size":           o.Size.String(),
		"price":          o.Price.String(),
		"order_type":     string(o.Type),
		"role":           string(o.Role),
		"void_price":     o.VoidPrice.String(),
		"trailing":       o.Trailing,
		"reduce_only":    o.ReduceOnly,
		"post_only":      o.PostOnly,
		"status":         string(o.Status),
		"filled_qty":     o.FilledQty.String(),
		"filled_cost":    o.FilledCost.String(),
	}
}
