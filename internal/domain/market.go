package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one symbol's OHLCV aggregate over a fixed time bucket.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"` // epoch seconds
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Tick is a single trade print from a venue.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
}

// BuildOHLCV folds one minute's ticks for a symbol into a single bar.
// The first tick supplies the open (callers prepend the boundary tick from
// the prior minute for this), the last tick the close. Returns false when
// there are no ticks to fold.
func BuildOHLCV(ticks []Tick, symbol string) (Bar, bool) {
	if len(ticks) == 0 {
		return Bar{}, false
	}

	bar := Bar{
		Symbol:    symbol,
		Timestamp: ticks[0].Timestamp.Truncate(time.Minute).Unix(),
		Open:      ticks[0].Price,
		High:      ticks[0].Price,
		Low:       ticks[0].Price,
		Close:     ticks[len(ticks)-1].Price,
	}
	for _, t := range ticks {
		if t.Price.GreaterThan(bar.High) {
			bar.High = t.Price
		}
		if t.Price.LessThan(bar.Low) {
			bar.Low = t.Price
		}
		bar.Volume = bar.Volume.Add(t.Size)
	}
	return bar, true
}
