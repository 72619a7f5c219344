package portfolio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/internal/event"
)

// NewFill applies an executed quantity to the matching order leg. An
// order accumulates partial fills until its executed quantity reaches its
// size; statuses only ever advance (UNFILLED -> PARTIAL -> FILLED), with
// every accepted fill's quantity, cost and commission booked even when the
// status does not move. A fully filled entry flips its trade active and
// opens the position; a fully closed position deactivates the trade.
func (e *Engine) NewFill(ctx context.Context, f event.Fill) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	trade := e.pf.FindTrade(f.TradeID)
	if trade == nil {
		e.logger.Warn("fill for unknown trade",
			slog.Int64("trade_id", f.TradeID),
			slog.String("symbol", f.Symbol))
		return fmt.Errorf("fill for unknown trade %d", f.TradeID)
	}

	order := trade.FindLeg(f.Leg)
	if order == nil {
		e.logger.Warn("fill for unknown order leg",
			slog.Int64("trade_id", f.TradeID),
			slog.Int("leg", f.Leg),
			slog.String("role", string(f.Role)))
		return fmt.Errorf("fill for trade %d has no open leg %d", f.TradeID, f.Leg)
	}

	if order.Status == domain.Filled {
		e.logger.Warn("ignoring fill for completed order",
			slog.Int64("trade_id", f.TradeID),
			slog.Int("leg", f.Leg),
			slog.String("role", string(f.Role)))
		return nil
	}

	order.FilledQty = order.FilledQty.Add(f.Quantity)
	order.FilledCost = order.FilledCost.Add(f.FillCost)
	next := domain.Partial
	if order.FilledQty.GreaterThanOrEqual(order.Size) {
		next = domain.Filled
	}
	order.Status = next

	trade.Fees = trade.Fees.Add(f.Commission)
	e.pf.CurrentValue = e.pf.CurrentValue.Sub(f.Commission)

	if f.Role == domain.RoleEntry {
		e.applyEntryFill(trade, order, f, next)
	} else {
		e.applyReduceFill(trade, f)
	}

	if next == domain.Filled {
		e.retireOrder(trade, f.Leg)
	}
	e.refreshDrawdown()

	if err := e.store.UpdateTrade(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist trade %d after fill: %w", trade.ID, err)
	}
	if err := e.savePortfolio(ctx); err != nil {
		return fmt.Errorf("failed to persist portfolio after fill: %w", err)
	}

	e.logger.Info("fill applied",
		slog.Int64("trade_id", f.TradeID),
		slog.Int("leg", f.Leg),
		slog.String("role", string(f.Role)),
		slog.String("quantity", f.Quantity.String()),
		slog.String("status", string(next)),
		slog.Bool("active", trade.IsActive()))
	return nil
}

// applyEntryFill opens the position once the entry leg is complete. The
// position reflects every partial execution: size and entry price come
// from the leg's accumulated quantity and cost, not the final fill alone.
func (e *Engine) applyEntryFill(trade *domain.SingleInstrumentTrade, order *domain.Order, f event.Fill, status domain.OrderStatus) {
	if status != domain.Filled || order.FilledQty.IsZero() {
		return
	}

	trade.SetActive(true)
	trade.Exposure = order.FilledCost
	trade.Position = &domain.Position{
		TradeID:    trade.ID,
		Direction:  f.Direction,
		Leverage:   decimal.NewFromInt(1),
		Size:       order.FilledQty,
		EntryPrice: order.FilledCost.Div(order.FilledQty),
		Symbol:     f.Symbol,
	}
}

func (e *Engine) applyReduceFill(trade *domain.SingleInstrumentTrade, f event.Fill) {
	if trade.Position == nil || f.Quantity.IsZero() {
		return
	}

	exitPrice := f.FillCost.Div(f.Quantity)
	diff := exitPrice.Sub(trade.Position.EntryPrice)
	if trade.Position.IsShort() {
		diff = diff.Neg()
	}
	realized := diff.Mul(f.Quantity)

	trade.RealizedPnl = trade.RealizedPnl.Add(realized)
	e.pf.CurrentValue = e.pf.CurrentValue.Add(realized)

	trade.Position.Size = trade.Position.Size.Sub(f.Quantity)
	if !trade.Position.Size.IsPositive() {
		trade.Position = nil
		trade.UnrealizedPnl = decimal.Zero
		trade.Exposure = decimal.Zero
		trade.SetActive(false)
	}
}

// retireOrder moves a fully filled leg from the open set to the filled
// set.
func (e *Engine) retireOrder(trade *domain.SingleInstrumentTrade, leg int) {
	for i := range trade.OpenOrders {
		if trade.OpenOrders[i].Leg == leg {
			trade.FilledOrders = append(trade.FilledOrders, trade.OpenOrders[i])
			trade.OpenOrders = append(trade.OpenOrders[:i], trade.OpenOrders[i+1:]...)
			return
		}
	}
}

// UpdatePrice re-evaluates open positions against a new bar: unrealized
// PnL is marked to the close, drawdown refreshed, and a close through an
// active trade's stop level flagged for the operator.
func (e *Engine) UpdatePrice(ctx context.Context, m event.Market) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for _, trade := range e.pf.Trades {
		if !trade.IsActive() || trade.Position == nil || trade.Symbol() != m.Bar.Symbol {
			continue
		}

		diff := m.Bar.Close.Sub(trade.Position.EntryPrice)
		if trade.Position.IsShort() {
			diff = diff.Neg()
		}
		trade.UnrealizedPnl = diff.Mul(trade.Position.Size)
		changed = true

		if stop := trade.FindOrder(domain.RoleStop); stop != nil && stopBreached(trade.Position, stop, m.Bar.Close) {
			e.logger.Warn("close beyond stop level, awaiting stop fill",
				slog.Int64("trade_id", trade.ID),
				slog.String("symbol", trade.Symbol()),
				slog.String("close", m.Bar.Close.String()),
				slog.String("stop", stop.Price.String()))
		}
	}

	if !changed {
		return nil
	}

	e.refreshDrawdown()
	return e.savePortfolio(ctx)
}

func stopBreached(pos *domain.Position, stop *domain.Order, close decimal.Decimal) bool {
	if pos.IsLong() {
		return close.LessThanOrEqual(stop.Price)
	}
	return close.GreaterThanOrEqual(stop.Price)
}

// refreshDrawdown recomputes drawdown as the percentage decline of
// current equity (realized value plus open unrealized PnL) from its
// high-water mark. Caller holds the engine lock.
func (e *Engine) refreshDrawdown() {
	equity := e.pf.CurrentValue
	for _, trade := range e.pf.Trades {
		if trade.IsActive() {
			equity = equity.Add(trade.UnrealizedPnl)
		}
	}

	if equity.GreaterThan(e.peak) {
		e.peak = equity
	}
	if e.peak.IsPositive() && equity.LessThan(e.peak) {
		e.pf.CurrentDrawdown = e.peak.Sub(equity).Div(e.peak).Mul(hundred)
	} else {
		e.pf.CurrentDrawdown = decimal.Zero
	}
}
