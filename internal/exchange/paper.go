package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/pkg/clock"
)

// PaperVenue simulates a venue for forward testing: every submitted order
// is acknowledged as filled immediately at its order price. Positions and
// working orders are tracked in memory so reconciliation and broker logic
// run against the same interface as live trading.
type PaperVenue struct {
	name    string
	symbols []string
	clk     clock.Clock

	mu        sync.Mutex
	nextID    int64
	submitted map[string]OrderAck // client order id -> ack, for idempotency
	positions map[string]*domain.Position
	orders    []domain.Order
}

// NewPaperVenue creates a paper venue mirroring the given live venue name
// and symbol set.
func NewPaperVenue(name string, symbols []string, clk clock.Clock) *PaperVenue {
	return &PaperVenue{
		name:      name,
		symbols:   symbols,
		clk:       clk,
		submitted: make(map[string]OrderAck),
		positions: make(map[string]*domain.Position),
	}
}

func (v *PaperVenue) Name() string      { return v.name }
func (v *PaperVenue) Symbols() []string { return v.symbols }

// GetBarsInPeriod returns no data; the paper venue holds no market
// history.
func (v *PaperVenue) GetBarsInPeriod(ctx context.Context, symbol string, startEpoch int64, count int) ([]domain.Bar, error) {
	return nil, fmt.Errorf("%w: paper venue has no bar history for %s", ErrDataUnavailable, symbol)
}

// GetPositions returns the simulated open positions.
func (v *PaperVenue) GetPositions(ctx context.Context) ([]domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, *p)
	}
	return out, nil
}

// GetOrders returns the simulated working orders.
func (v *PaperVenue) GetOrders(ctx context.Context) ([]domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.Order, 0, len(v.orders))
	for _, o := range v.orders {
		if o.IsOpen() {
			out = append(out, o)
		}
	}
	return out, nil
}

// SubmitOrder fills entry orders immediately at order price and books
// stop/take-profit legs as working orders. Resubmitting the same client
// order ID returns the original ack.
func (v *PaperVenue) SubmitOrder(ctx context.Context, symbol string, order domain.Order) (OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ack, ok := v.submitted[order.ClientID()]; ok {
		return ack, nil
	}

	v.nextID++
	ack := OrderAck{
		VenueOrderID: fmt.Sprintf("paper-%d", v.nextID),
		Timestamp:    v.clk.Now().Unix(),
	}

	if order.Role == domain.RoleEntry {
		ack.Status = domain.Filled
		ack.FilledQty = order.Size
		ack.AvgPrice = order.Price

		v.positions[symbol] = &domain.Position{
			TradeID:    order.TradeID,
			Direction:  order.Direction,
			Leverage:   decimal.NewFromInt(1),
			Size:       order.Size,
			EntryPrice: order.Price,
			Symbol:     symbol,
		}
		order.Status = domain.Filled
	} else {
		// Stop and take-profit legs rest on the simulated book.
		ack.Status = domain.Unfilled
		ack.FilledQty = decimal.Zero
	}

	order.VenueOrderID = ack.VenueOrderID
	v.orders = append(v.orders, order)
	v.submitted[order.ClientID()] = ack

	slog.Info("PAPER VENUE: order accepted",
		slog.String("venue", v.name),
		slog.String("client_id", order.ClientID()),
		slog.String("symbol", symbol),
		slog.String("role", string(order.Role)),
		slog.String("status", string(ack.Status)))

	return ack, nil
}
