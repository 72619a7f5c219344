package domain

import (
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Portfolio is the singleton aggregate holding net state for all models.
// It is the durable source of truth between process restarts: loaded once
// at startup, mutated in memory, and upserted after every state-changing
// event.
type Portfolio struct {
	ID                       int64                      `json:"id"`
	StartDate                int64                      `json:"start_date"`
	InitialFunds             decimal.Decimal            `json:"initial_funds"`
	CurrentValue             decimal.Decimal            `json:"current_value"`
	CurrentDrawdown          decimal.Decimal            `json:"current_drawdown"`
	Trades                   []*SingleInstrumentTrade   `json:"trades"`
	ModelAllocations         map[string]decimal.Decimal `json:"model_allocations"`
	RiskPerTrade             decimal.Decimal            `json:"risk_per_trade"`
	MaxCorrelatedTrades      int                        `json:"max_correlated_trades"`
	MaxAcceptedDrawdown      decimal.Decimal            `json:"max_accepted_drawdown"`
	MaxSimultaneousPositions int                        `json:"max_simultaneous_positions"`
	DefaultStopPercent       decimal.Decimal            `json:"default_stop"`
}

// EqualAllocations splits 100% of capital evenly across the given models.
func EqualAllocations(models []string) map[string]decimal.Decimal {
	allocations := make(map[string]decimal.Decimal, len(models))
	if len(models) == 0 {
		return allocations
	}
	share := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(models))))
	for _, m := range models {
		allocations[m] = share
	}
	return allocations
}

// OpenPositionCount returns the number of trades currently holding a
// position.
func (p *Portfolio) OpenPositionCount() int {
	n := 0
	for _, t := range p.Trades {
		if t.IsActive() && t.Position != nil {
			n++
		}
	}
	return n
}

// CorrelatedCount returns the number of active trades in the given
// instrument.
func (p *Portfolio) CorrelatedCount(symbol string) int {
	n := 0
	for _, t := range p.Trades {
		if t.IsActive() && t.Symbol() == symbol {
			n++
		}
	}
	return n
}

// FindTrade returns the trade with the given ID, or nil.
func (p *Portfolio) FindTrade(tradeID int64) *SingleInstrumentTrade {
	for _, t := range p.Trades {
		if t.ID == tradeID {
			return t
		}
	}
	return nil
}

// MarshalDocument encodes the portfolio for durable storage.
func (p *Portfolio) MarshalDocument() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePortfolio reconstructs a portfolio from its stored document.
func DecodePortfolio(data []byte) (*Portfolio, error) {
	var p Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
