package bitmex

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/domain"
)

const (
	// MaxBarsPerRequest is the venue's per-call bar limit; larger
	// requests are clamped.
	MaxBarsPerRequest = 750

	// MaxTicksPerPage is the venue's per-call trade limit. A full page
	// means more data may follow.
	MaxTicksPerPage = 1000

	MainnetURL = "https://www.bitmex.com/api/v1"
	TestnetURL = "https://testnet.bitmex.com/api/v1"
	WSURL      = "wss://www.bitmex.com/realtime"

	barsPath      = "/trade/bucketed"
	ticksPath     = "/trade"
	positionsPath = "/position"
	ordersPath    = "/order"
)

// barPayload is one bucketed bar as the venue reports it.
type barPayload struct {
	Timestamp string  `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (b barPayload) toBar(symbol string) (domain.Bar, error) {
	ts, err := parseVenueTime(b.Timestamp)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("failed to parse bar timestamp %q: %w", b.Timestamp, err)
	}
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts.Unix(),
		Open:      decimal.NewFromFloat(b.Open),
		High:      decimal.NewFromFloat(b.High),
		Low:       decimal.NewFromFloat(b.Low),
		Close:     decimal.NewFromFloat(b.Close),
		Volume:    decimal.NewFromFloat(b.Volume),
	}, nil
}

// tickPayload is one trade print as the venue reports it.
type tickPayload struct {
	Timestamp string  `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
}

func (t tickPayload) toTick() (domain.Tick, error) {
	ts, err := parseVenueTime(t.Timestamp)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("failed to parse tick timestamp %q: %w", t.Timestamp, err)
	}
	return domain.Tick{
		Symbol:    t.Symbol,
		Timestamp: ts,
		Price:     decimal.NewFromFloat(t.Price),
		Size:      decimal.NewFromFloat(t.Size),
	}, nil
}

// positionPayload is one open position as the venue reports it.
type positionPayload struct {
	Symbol           string  `json:"symbol"`
	CurrentQty       float64 `json:"currentQty"`
	AvgEntryPrice    float64 `json:"avgEntryPrice"`
	Leverage         float64 `json:"leverage"`
	LiquidationPrice float64 `json:"liquidationPrice"`
}

func (p positionPayload) toPosition() domain.Position {
	direction := domain.Long
	qty := decimal.NewFromFloat(p.CurrentQty)
	if qty.IsNegative() {
		direction = domain.Short
		qty = qty.Abs()
	}
	return domain.Position{
		Symbol:           p.Symbol,
		Direction:        direction,
		Size:             qty,
		EntryPrice:       decimal.NewFromFloat(p.AvgEntryPrice),
		Leverage:         decimal.NewFromFloat(p.Leverage),
		LiquidationPrice: decimal.NewFromFloat(p.LiquidationPrice),
	}
}

// orderPayload is one working order as the venue reports it.
type orderPayload struct {
	OrderID   string  `json:"orderID"`
	ClOrdID   string  `json:"clOrdID"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	OrderQty  float64 `json:"orderQty"`
	Price     float64 `json:"price"`
	OrdType   string  `json:"ordType"`
	OrdStatus string  `json:"ordStatus"`
}

func (o orderPayload) toOrder() domain.Order {
	direction := domain.Long
	if o.Side == "Sell" {
		direction = domain.Short
	}

	status := domain.Unfilled
	switch o.OrdStatus {
	case "PartiallyFilled":
		status = domain.Partial
	case "Filled":
		status = domain.Filled
	}

	ord := domain.Order{
		VenueOrderID: o.OrderID,
		Direction:    direction,
		Size:         decimal.NewFromFloat(o.OrderQty),
		Price:        decimal.NewFromFloat(o.Price),
		Status:       status,
	}
	// Orders this system placed carry "tradeID-ROLE-leg" as the client
	// order ID; recover all three so stored state can be matched against
	// the venue leg by leg.
	if parts := strings.Split(o.ClOrdID, "-"); len(parts) == 3 {
		id, idErr := strconv.ParseInt(parts[0], 10, 64)
		leg, legErr := strconv.Atoi(parts[2])
		if idErr == nil && legErr == nil {
			ord.TradeID = id
			ord.Role = domain.OrderRole(parts[1])
			ord.Leg = leg
		}
	}
	return ord
}

// submitPayload is the order placement request body.
type submitPayload struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	OrderQty string `json:"orderQty"`
	Price    string `json:"price,omitempty"`
	StopPx   string `json:"stopPx,omitempty"`
	OrdType  string `json:"ordType"`
	ClOrdID  string `json:"clOrdID"`
	ExecInst string `json:"execInst,omitempty"`
}

// submitResponse is the venue's order placement acknowledgment.
type submitResponse struct {
	OrderID   string  `json:"orderID"`
	OrdStatus string  `json:"ordStatus"`
	CumQty    float64 `json:"cumQty"`
	AvgPx     float64 `json:"avgPx"`
	Timestamp string  `json:"timestamp"`
}

// parseVenueTime accepts the venue's ISO-8601 timestamps with or without
// fractional seconds.
func parseVenueTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05Z", s)
}

func ordTypeFor(t domain.OrderType) string {
	switch t {
	case domain.Limit:
		return "Limit"
	case domain.Market:
		return "Market"
	case domain.StopLimit:
		return "StopLimit"
	case domain.StopMarket:
		return "Stop"
	}
	return "Limit"
}

func sideFor(d domain.Direction) string {
	if d == domain.Short {
		return "Sell"
	}
	return "Buy"
}
