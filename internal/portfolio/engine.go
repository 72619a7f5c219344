package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/internal/event"
	"github.com/bhojpur/trades/internal/exchange"
	"github.com/bhojpur/trades/internal/storage"
	"github.com/bhojpur/trades/pkg/clock"
)

// ErrSignalRejected marks a signal dropped by validation or risk policy.
// Rejection leaves no state change and emits no orders.
var ErrSignalRejected = errors.New("signal rejected")

// SizingMode selects how position size is derived from portfolio value.
type SizingMode string

const (
	// SizingFixedPercent risks a fixed percentage of current value per
	// trade.
	SizingFixedPercent SizingMode = "FIXED_PERCENT"

	// SizingKelly is a declared extension point with no implementation;
	// signals are rejected while it is configured.
	SizingKelly SizingMode = "KELLY"
)

var hundred = decimal.NewFromInt(100)

// Settings is the risk configuration injected at construction. It is
// copied into the portfolio aggregate when one is first created.
type Settings struct {
	PortfolioID              int64
	InitialFunds             decimal.Decimal
	Models                   []string
	Sizing                   SizingMode
	RiskPerTrade             decimal.Decimal
	MaxSimultaneousPositions int
	MaxCorrelatedTrades      int
	MaxAcceptedDrawdown      decimal.Decimal
	DefaultStopPercent       decimal.Decimal
}

// Engine owns the portfolio aggregate. All mutation is single-writer: ID
// allocation, the in-memory aggregate, and its persisted copy change only
// under the engine lock, held by every state-changing entry point for its
// full duration.
type Engine struct {
	mu sync.Mutex

	settings Settings
	pf       *domain.Portfolio
	peak     decimal.Decimal

	store    *storage.Store
	queue    *TradeQueue
	alloc    *TradeIDAllocator
	venues   map[string]exchange.Venue
	validate *validator.Validate
	logger   *slog.Logger
	clk      clock.Clock
}

// NewEngine creates a portfolio engine over the given store and venues.
// Init must be called before any event is processed.
func NewEngine(store *storage.Store, venues map[string]exchange.Venue, settings Settings, logger *slog.Logger, clk clock.Clock) *Engine {
	if settings.Sizing == "" {
		settings.Sizing = SizingFixedPercent
	}
	return &Engine{
		settings: settings,
		store:    store,
		queue:    NewTradeQueue(),
		venues:   venues,
		validate: validator.New(),
		logger:   logger,
		clk:      clk,
	}
}

// Init loads or creates the portfolio, reconciles stored state against
// venue truth, and seeds the trade-ID allocator.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadPortfolio(ctx); err != nil {
		return err
	}

	alloc, err := NewTradeIDAllocator(ctx, e.store)
	if err != nil {
		return fmt.Errorf("failed to seed trade id allocator: %w", err)
	}
	e.alloc = alloc
	return nil
}

// Portfolio returns the aggregate. Exposed for inspection; mutation goes
// through the engine's entry points.
func (e *Engine) Portfolio() *domain.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pf
}

// Queue returns the pending-persistence trade queue so a drain worker and
// the shutdown path can flush it.
func (e *Engine) Queue() *TradeQueue {
	return e.queue
}

// NewSignal runs the full signal-to-order pipeline: validation, risk
// policy, stop and size calculation, trade-ID allocation, trade and order
// construction, then persistence. The constructed Order events are
// returned only after the portfolio upsert succeeds, so a persistence
// failure never leaks partial orders.
func (e *Engine) NewSignal(ctx context.Context, s event.Signal) ([]event.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.admitSignal(s); err != nil {
		e.logger.Info("signal dropped",
			slog.String("symbol", s.Symbol),
			slog.String("strategy", s.Strategy),
			slog.Any("reason", err))
		return nil, err
	}

	stop := CalculateStopPrice(s.StopPrice, s.EntryPrice, e.pf.DefaultStopPercent)
	size, err := CalculatePositionSize(e.pf.CurrentValue, e.pf.RiskPerTrade, s.EntryPrice, stop)
	if err != nil {
		e.logger.Info("signal dropped",
			slog.String("symbol", s.Symbol),
			slog.Any("reason", err))
		return nil, err
	}

	// Allocation happens exactly once per accepted signal and is never
	// reused, even if persistence below fails.
	tradeID := e.alloc.Allocate()

	trade := domain.NewSingleInstrumentTrade(s.Venue, s.Symbol, s.Strategy)
	trade.SetTradeID(tradeID)

	legs := buildOrderLegs(tradeID, s, stop, size)
	trade.OpenOrders = legs

	e.queue.Enqueue(trade)
	e.pf.Trades = append(e.pf.Trades, trade)

	if err := e.queue.Drain(ctx, e.store, e.logger); err != nil {
		return nil, fmt.Errorf("failed to persist trade %d: %w", tradeID, err)
	}
	if err := e.savePortfolio(ctx); err != nil {
		return nil, fmt.Errorf("failed to persist portfolio: %w", err)
	}

	events := make([]event.Order, 0, len(legs))
	for _, leg := range legs {
		events = append(events, event.Order{Venue: s.Venue, Symbol: s.Symbol, Order: leg})
	}

	e.logger.Info("trade constructed",
		slog.Int64("trade_id", tradeID),
		slog.String("symbol", s.Symbol),
		slog.String("direction", string(s.Direction)),
		slog.String("size", size.String()),
		slog.String("entry", s.EntryPrice.String()),
		slog.String("stop", stop.String()),
		slog.Int("legs", len(events)))
	return events, nil
}

// admitSignal validates the untrusted signal and applies risk policy
// before any mutation. Caller holds the engine lock.
func (e *Engine) admitSignal(s event.Signal) error {
	if err := e.validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrSignalRejected, err)
	}
	if !s.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price must be positive", ErrSignalRejected)
	}
	if s.InstrumentCount != 1 {
		return fmt.Errorf("%w: multi-instrument signals are not supported", ErrSignalRejected)
	}
	if e.settings.Sizing == SizingKelly {
		return fmt.Errorf("%w: kelly sizing is not implemented", ErrSignalRejected)
	}
	if _, ok := e.venues[s.Venue]; !ok {
		return fmt.Errorf("%w: unknown venue %q", ErrSignalRejected, s.Venue)
	}
	if n := e.pf.OpenPositionCount(); n >= e.pf.MaxSimultaneousPositions {
		return fmt.Errorf("%w: %d positions already open (max %d)",
			ErrSignalRejected, n, e.pf.MaxSimultaneousPositions)
	}
	if n := e.pf.CorrelatedCount(s.Symbol); n >= e.pf.MaxCorrelatedTrades {
		return fmt.Errorf("%w: %d correlated trades in %s (max %d)",
			ErrSignalRejected, n, s.Symbol, e.pf.MaxCorrelatedTrades)
	}
	// Drawdown exactly at the limit still passes; only exceeding it
	// rejects.
	if e.pf.CurrentDrawdown.GreaterThan(e.pf.MaxAcceptedDrawdown) {
		return fmt.Errorf("%w: drawdown %s%% above limit %s%%",
			ErrSignalRejected, e.pf.CurrentDrawdown, e.pf.MaxAcceptedDrawdown)
	}
	return nil
}

// buildOrderLegs constructs the entry, stop and take-profit legs for one
// accepted signal, in emission order. All legs share the trade ID; each
// carries its index so sibling take-profit legs stay distinguishable at
// the venue and in fills.
func buildOrderLegs(tradeID int64, s event.Signal, stop, size decimal.Decimal) []domain.Order {
	legs := make([]domain.Order, 0, 2+len(s.Targets))

	legs = append(legs, domain.Order{
		TradeID:   tradeID,
		Leg:       0,
		Direction: s.Direction,
		Size:      size,
		Price:     s.EntryPrice,
		Type:      s.EntryType,
		Role:      domain.RoleEntry,
		VoidPrice: s.VoidPrice,
		Status:    domain.Unfilled,
	})
	legs = append(legs, domain.Order{
		TradeID:    tradeID,
		Leg:        1,
		Direction:  s.InverseDirection(),
		Size:       size,
		Price:      stop,
		Type:       domain.StopMarket,
		Role:       domain.RoleStop,
		Trailing:   s.Trail,
		ReduceOnly: true,
		Status:     domain.Unfilled,
	})
	for i, target := range s.Targets {
		legs = append(legs, domain.Order{
			TradeID:    tradeID,
			Leg:        2 + i,
			Direction:  s.InverseDirection(),
			Size:       size.Mul(decimal.NewFromInt(int64(target.Percent))).Div(hundred),
			Price:      target.Price,
			Type:       domain.Limit,
			Role:       domain.RoleTakeProfit,
			VoidPrice:  stop,
			ReduceOnly: true,
			Status:     domain.Unfilled,
		})
	}
	return legs
}

// CalculateStopPrice returns the signal's stop when given, otherwise the
// default stop distance below the entry: entry * (100 - defaultStop) / 100.
func CalculateStopPrice(stopPrice *decimal.Decimal, entry, defaultStopPercent decimal.Decimal) decimal.Decimal {
	if stopPrice != nil {
		return *stopPrice
	}
	return entry.Mul(hundred.Sub(defaultStopPercent)).Div(hundred)
}

// CalculatePositionSize sizes a fixed-percent-risk position:
// floor(currentValue * riskPerTrade/100 / ((stop - entry) / entry)),
// floored toward negative infinity before the absolute value is taken, so
// the result is non-negative for both long and short stops. A stop equal
// to the entry has no risk distance and rejects the signal.
func CalculatePositionSize(currentValue, riskPerTrade, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	if stop.Equal(entry) {
		return decimal.Zero, fmt.Errorf("%w: stop price equals entry price", ErrSignalRejected)
	}

	riskAmount := currentValue.Mul(riskPerTrade).Div(hundred)
	stopDistance := stop.Sub(entry).Div(entry)
	return riskAmount.Div(stopDistance).Floor().Abs(), nil
}

// savePortfolio upserts the aggregate. Caller holds the engine lock.
func (e *Engine) savePortfolio(ctx context.Context) error {
	return e.store.SavePortfolio(ctx, e.pf, e.clk.Now().Unix())
}

// Shutdown flushes any trades still awaiting durable write.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.queue.Drain(ctx, e.store, e.logger)
}
