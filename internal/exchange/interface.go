// Package exchange defines the capability interface the core uses to talk
// to trading venues, plus venue-neutral infrastructure: a bounded worker
// pool for blocking venue I/O and a paper venue for forward testing.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/domain"
)

// OrderAck is a venue's acknowledgment of an order submission.
type OrderAck struct {
	VenueOrderID string
	Status       domain.OrderStatus
	FilledQty    decimal.Decimal
	AvgPrice     decimal.Decimal
	Commission   decimal.Decimal // zero when the venue does not report one
	Timestamp    int64
}

// Venue is the capability interface for an exchange or broker. All calls
// are blocking I/O and must be kept off the event-dispatch path; callers
// run them through a per-venue WorkerPool.
type Venue interface {
	Name() string
	Symbols() []string

	// GetBarsInPeriod fetches up to count 1-minute bars beginning at
	// startEpoch. Venues clamp count to their per-request maximum.
	GetBarsInPeriod(ctx context.Context, symbol string, startEpoch int64, count int) ([]domain.Bar, error)

	// GetPositions returns all open positions held at the venue.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetOrders returns all working orders at the venue.
	GetOrders(ctx context.Context) ([]domain.Order, error)

	// SubmitOrder places an order. Resubmission with the same client
	// order ID must be idempotent at the venue.
	SubmitOrder(ctx context.Context, symbol string, order domain.Order) (OrderAck, error)
}
