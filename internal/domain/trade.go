package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// TradeType discriminates persisted trade variants.
type TradeType string

const (
	SingleInstrument TradeType = "SINGLE_INSTRUMENT"
)

// Trade generalises a collective set of orders and positions that make up
// one trade's management from entry to exit. Variants may span one or many
// instruments and venues; dispatch is by the persisted type discriminant.
type Trade interface {
	TradeID() int64
	SetTradeID(id int64)
	Type() TradeType
	IsActive() bool
	SetActive(active bool)
	Venue() string
	Symbol() string
	Model() string

	// Document returns the canonical field mapping for persistence.
	Document() map[string]any

	// MarshalSnapshot encodes the trade for durable storage.
	MarshalSnapshot() ([]byte, error)
}

// SingleInstrumentTrade models a single-instrument, single-venue
// directional trade with take-profit and stop orders.
type SingleInstrumentTrade struct {
	ID              int64           `json:"trade_id"`
	TypeTag         TradeType       `json:"type"`
	Active          bool            `json:"active"`
	VenueCount      int             `json:"venue_count"`
	InstrumentCount int             `json:"instrument_count"`
	ModelName       string          `json:"model"`
	UnrealizedPnl   decimal.Decimal `json:"u_pnl"`
	RealizedPnl     decimal.Decimal `json:"r_pnl"`
	Fees            decimal.Decimal `json:"fees"`
	Exposure        decimal.Decimal `json:"exposure"`
	VenueName       string          `json:"venue"`
	SymbolName      string          `json:"symbol"`
	Position        *Position       `json:"position,omitempty"`
	OpenOrders      []Order         `json:"open_orders"`
	FilledOrders    []Order         `json:"filled_orders"`
}

// NewSingleInstrumentTrade builds an inactive trade snapshot for the given
// venue, symbol and triggering model. The trade ID must be assigned before
// the snapshot is persisted.
func NewSingleInstrumentTrade(venue, symbol, model string) *SingleInstrumentTrade {
	return &SingleInstrumentTrade{
		TypeTag:         SingleInstrument,
		VenueCount:      1,
		InstrumentCount: 1,
		ModelName:       model,
		VenueName:       venue,
		SymbolName:      symbol,
	}
}

func (t *SingleInstrumentTrade) TradeID() int64        { return t.ID }
func (t *SingleInstrumentTrade) SetTradeID(id int64)   { t.ID = id }
func (t *SingleInstrumentTrade) Type() TradeType       { return SingleInstrument }
func (t *SingleInstrumentTrade) IsActive() bool        { return t.Active }
func (t *SingleInstrumentTrade) SetActive(active bool) { t.Active = active }
func (t *SingleInstrumentTrade) Venue() string         { return t.VenueName }
func (t *SingleInstrumentTrade) Symbol() string        { return t.SymbolName }
func (t *SingleInstrumentTrade) Model() string         { return t.ModelName }

// FindOrder returns the first embedded open order with the given role, or
// nil. Entry and stop legs are unique per trade; take-profit legs are not,
// so fills resolve those by leg index via FindLeg.
func (t *SingleInstrumentTrade) FindOrder(role OrderRole) *Order {
	for i := range t.OpenOrders {
		if t.OpenOrders[i].Role == role {
			return &t.OpenOrders[i]
		}
	}
	return nil
}

// FindLeg returns the embedded open order with the given leg index, or nil.
func (t *SingleInstrumentTrade) FindLeg(leg int) *Order {
	for i := range t.OpenOrders {
		if t.OpenOrders[i].Leg == leg {
			return &t.OpenOrders[i]
		}
	}
	return nil
}

// Document returns the canonical field mapping for persistence.
func (t *SingleInstrumentTrade) Document() map[string]any {
	open := make([]map[string]any, 0, len(t.OpenOrders))
	for i := range t.OpenOrders {
		open = append(open, t.OpenOrders[i].Document())
	}
	filled := make([]map[string]any, 0, len(t.FilledOrders))
	for i := range t.FilledOrders {
		filled = append(filled, t.FilledOrders[i].Document())
	}

	doc := map[string]any{
		"trade_id":         t.ID,
		"type":             string(SingleInstrument),
		"active":           t.Active,
		"venue_count":      t.VenueCount,
		"instrument_count": t.InstrumentCount,
		"model":            t.ModelName,
		"u_pnl":            t.UnrealizedPnl.String(),
		"r_pnl":            t.RealizedPnl.String(),
		"fees":             t.Fees.String(),
		"exposure":         t.Exposure.String(),
		"venue":            t.VenueName,
		"symbol":           t.SymbolName,
		"open_orders":      open,
		"filled_orders":    filled,
	}
	if t.Position != nil {
		doc["position"] = t.Position.Document()
	}
	return doc
}

// MarshalSnapshot encodes the trade for durable storage.
func (t *SingleInstrumentTrade) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTrade reconstructs a trade from its stored snapshot, dispatching on
// the persisted type discriminant.
func DecodeTrade(data []byte) (Trade, error) {
	var tag struct {
		Type TradeType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode trade tag: %w", err)
	}

	switch tag.Type {
	case SingleInstrument:
		var t SingleInstrumentTrade
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode single-instrument trade: %w", err)
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("unknown trade type %q", tag.Type)
	}
}
