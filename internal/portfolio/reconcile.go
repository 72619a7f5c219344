package portfolio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bhojpur/trades/internal/domain"
)

// loadPortfolio fetches the stored aggregate or creates a zero-valued one
// with equal model allocations when none exists. An existing portfolio is
// reconciled against venue truth and, mismatch or not, re-persisted to
// normalize any read-repair. Caller holds the engine lock.
func (e *Engine) loadPortfolio(ctx context.Context) error {
	pf, err := e.store.LoadPortfolio(ctx, e.settings.PortfolioID)
	if err != nil {
		return err
	}

	created := pf == nil
	if created {
		pf = &domain.Portfolio{
			ID:                       e.settings.PortfolioID,
			StartDate:                e.clk.Now().Unix(),
			InitialFunds:             e.settings.InitialFunds,
			CurrentValue:             e.settings.InitialFunds,
			ModelAllocations:         domain.EqualAllocations(e.settings.Models),
			RiskPerTrade:             e.settings.RiskPerTrade,
			MaxCorrelatedTrades:      e.settings.MaxCorrelatedTrades,
			MaxAcceptedDrawdown:      e.settings.MaxAcceptedDrawdown,
			MaxSimultaneousPositions: e.settings.MaxSimultaneousPositions,
			DefaultStopPercent:       e.settings.DefaultStopPercent,
		}
		e.logger.Info("no stored portfolio, creating",
			slog.Int64("portfolio_id", pf.ID),
			slog.String("initial_funds", pf.InitialFunds.String()),
			slog.Int("models", len(pf.ModelAllocations)))
	}

	if err := e.adoptOrphanedTrades(ctx, pf); err != nil {
		return err
	}
	if !created || len(pf.Trades) > 0 {
		e.reconcile(ctx, pf)
	}

	e.pf = pf
	e.peak = pf.InitialFunds
	if pf.CurrentValue.GreaterThan(e.peak) {
		e.peak = pf.CurrentValue
	}
	return e.savePortfolio(ctx)
}

// adoptOrphanedTrades folds active trades from the trades table into the
// portfolio aggregate when the aggregate does not know them. The trade row
// is written before the portfolio document, so a crash between the two
// leaves a durable trade the document never saw; it is re-adopted here and
// handed to reconciliation like any other.
func (e *Engine) adoptOrphanedTrades(ctx context.Context, pf *domain.Portfolio) error {
	stored, err := e.store.ActiveTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active trades: %w", err)
	}

	for _, t := range stored {
		if pf.FindTrade(t.TradeID()) != nil {
			continue
		}
		single, ok := t.(*domain.SingleInstrumentTrade)
		if !ok {
			e.logger.Warn("RECONCILE_MISMATCH: stored trade has unsupported type",
				slog.Int64("trade_id", t.TradeID()),
				slog.String("type", string(t.Type())))
			continue
		}
		e.logger.Warn("RECONCILE_MISMATCH: active trade missing from portfolio, adopting",
			slog.Int64("trade_id", single.ID),
			slog.String("symbol", single.Symbol()))
		pf.Trades = append(pf.Trades, single)
	}
	return nil
}

// reconcile compares every active stored trade against the live state of
// its venue. Venue state is authoritative: positions are adopted or
// cleared to match, and order statuses advance to what the venue reports.
// A venue that cannot be reached defers reconciliation for its trades
// rather than failing startup.
func (e *Engine) reconcile(ctx context.Context, pf *domain.Portfolio) {
	for _, trade := range pf.Trades {
		if !trade.IsActive() {
			continue
		}

		venue, ok := e.venues[trade.Venue()]
		if !ok {
			e.logger.Warn("RECONCILE_MISMATCH: active trade on unknown venue",
				slog.Int64("trade_id", trade.ID),
				slog.String("venue", trade.Venue()))
			continue
		}

		positions, err := venue.GetPositions(ctx)
		if err != nil {
			e.logger.Error("reconciliation deferred: positions unavailable",
				slog.Int64("trade_id", trade.ID),
				slog.String("venue", trade.Venue()),
				slog.Any("error", err))
			continue
		}
		orders, err := venue.GetOrders(ctx)
		if err != nil {
			e.logger.Error("reconciliation deferred: orders unavailable",
				slog.Int64("trade_id", trade.ID),
				slog.String("venue", trade.Venue()),
				slog.Any("error", err))
			continue
		}

		e.reconcileTrade(trade, positions, orders)

		if err := e.store.UpdateTrade(ctx, trade); err != nil {
			e.logger.Error("failed to persist reconciled trade",
				slog.Int64("trade_id", trade.ID),
				slog.Any("error", err))
		}
	}
}

func (e *Engine) reconcileTrade(trade *domain.SingleInstrumentTrade, positions []domain.Position, orders []domain.Order) {
	var live *domain.Position
	for i := range positions {
		if positions[i].Symbol == trade.Symbol() && positions[i].Size.IsPositive() {
			live = &positions[i]
			break
		}
	}

	switch {
	case trade.Position != nil && live == nil:
		e.logger.Warn("RECONCILE_MISMATCH: stored position absent at venue, clearing",
			slog.Int64("trade_id", trade.ID),
			slog.String("symbol", trade.Symbol()),
			slog.String("stored_size", trade.Position.Size.String()))
		trade.Position = nil
		trade.SetActive(false)

	case trade.Position == nil && live != nil:
		e.logger.Warn("RECONCILE_MISMATCH: venue position missing from stored state, adopting",
			slog.Int64("trade_id", trade.ID),
			slog.String("symbol", trade.Symbol()),
			slog.String("live_size", live.Size.String()))
		adopted := *live
		adopted.TradeID = trade.ID
		trade.Position = &adopted

	case trade.Position != nil && live != nil &&
		(!trade.Position.Size.Equal(live.Size) || trade.Position.Direction != live.Direction):
		e.logger.Warn("RECONCILE_MISMATCH: stored position diverges from venue, adopting venue state",
			slog.Int64("trade_id", trade.ID),
			slog.String("symbol", trade.Symbol()),
			slog.String("stored_size", trade.Position.Size.String()),
			slog.String("live_size", live.Size.String()))
		trade.Position.Size = live.Size
		trade.Position.Direction = live.Direction
		trade.Position.EntryPrice = live.EntryPrice
	}

	// Order statuses only ever advance; the venue telling us an order has
	// progressed while we were down is adopted, anything else logged.
	for i := range trade.OpenOrders {
		stored := &trade.OpenOrders[i]
		var reported *domain.Order
		for j := range orders {
			if orders[j].TradeID == stored.TradeID && orders[j].Leg == stored.Leg {
				reported = &orders[j]
				break
			}
		}
		if reported == nil {
			e.logger.Warn("RECONCILE_MISMATCH: working order not reported by venue",
				slog.Int64("trade_id", stored.TradeID),
				slog.Int("leg", stored.Leg),
				slog.String("role", string(stored.Role)))
			continue
		}
		if reported.Status != stored.Status {
			if stored.Status.CanTransition(reported.Status) {
				e.logger.Warn("RECONCILE_MISMATCH: advancing order status to venue state",
					slog.Int64("trade_id", stored.TradeID),
					slog.String("role", string(stored.Role)),
					slog.String("stored", string(stored.Status)),
					slog.String("live", string(reported.Status)))
				stored.Status = reported.Status
			} else {
				e.logger.Warn("RECONCILE_MISMATCH: venue reports regressed order status, keeping stored",
					slog.Int64("trade_id", stored.TradeID),
					slog.String("role", string(stored.Role)),
					slog.String("stored", string(stored.Status)),
					slog.String("live", string(reported.Status)))
			}
		}
		if stored.VenueOrderID == "" && reported.VenueOrderID != "" {
			stored.VenueOrderID = reported.VenueOrderID
		}
	}
}
