package domain

import "github.com/shopspring/decimal"

// Position models a single active position belonging to a parent trade.
// A position exists only while its owning trade is active.
type Position struct {
	TradeID          int64           `json:"trade_id"`
	Direction        Direction       `json:"direction"`
	Leverage         decimal.Decimal `json:"leverage"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`

	// Symbol is set on venue-reported positions so reconciliation can
	// match them against stored trades. It is not persisted with the
	// embedded snapshot, where the parent trade already carries it.
	Symbol string `json:"symbol,omitempty"`
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool { return p.Direction == Long }

// IsShort reports whether the position is short.
func (p *Position) IsShort() bool { return p.Direction == Short }

// Document returns the canonical field mapping for persistence. Positions
// are only ever stored embedded in their parent trade's snapshot.
func (p *Position) Document() map[string]any {
	return map[string]any{
		"trade_id":          p.TradeID,
		"direction":         string(p.Direction),
		"leverage":          p.Leverage.String(),
		"liquidation_price": p.LiquidationPrice.String(),
		"size":              p.Size.String(),
		"entry_price":       p.EntryPrice.String(),
	}
}
