package portfolio

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/internal/event"
	"github.com/bhojpur/trades/internal/exchange"
	"github.com/bhojpur/trades/internal/storage"
	"github.com/bhojpur/trades/pkg/clock"
)

func testSettings() Settings {
	return Settings{
		PortfolioID:              1,
		InitialFunds:             decimal.NewFromInt(10000),
		Models:                   []string{"trend", "breakout"},
		RiskPerTrade:             decimal.NewFromInt(1),
		MaxSimultaneousPositions: 2,
		MaxCorrelatedTrades:      1,
		MaxAcceptedDrawdown:      decimal.NewFromInt(15),
		DefaultStopPercent:       decimal.NewFromInt(3),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T, path string) *storage.Store {
	t.Helper()
	store, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T, settings Settings) (*Engine, *storage.Store) {
	t.Helper()
	store := openTestStore(t, filepath.Join(t.TempDir(), "trades.db"))
	venues := map[string]exchange.Venue{
		"BitMEX": exchange.NewPaperVenue("BitMEX", []string{"XBTUSD"}, clock.Real{}),
	}
	e := NewEngine(store, venues, settings, testLogger(), clock.Fixed{T: time.Unix(1700000000, 0)})
	require.NoError(t, e.Init(context.Background()))
	return e, store
}

func longSignal(targets ...event.Target) event.Signal {
	return event.Signal{
		Symbol:          "XBTUSD",
		EntryTimestamp:  1700000000,
		Direction:       domain.Long,
		Timeframe:       "1m",
		Strategy:        "trend",
		Venue:           "BitMEX",
		EntryPrice:      decimal.NewFromInt(100),
		EntryType:       domain.Limit,
		Targets:         targets,
		InstrumentCount: 1,
	}
}

func TestNewSignalEndToEnd(t *testing.T) {
	e, store := newTestEngine(t, testSettings())
	ctx := context.Background()

	orders, err := e.NewSignal(ctx, longSignal(event.Target{Price: decimal.NewFromInt(110), Percent: 100}))
	require.NoError(t, err)
	require.Len(t, orders, 3)

	size := decimal.NewFromInt(3334)

	entry := orders[0].Order
	assert.Equal(t, domain.RoleEntry, entry.Role)
	assert.Equal(t, domain.Long, entry.Direction)
	assert.True(t, entry.Size.Equal(size), "entry size %s", entry.Size)
	assert.True(t, entry.Price.Equal(decimal.NewFromInt(100)))
	assert.False(t, entry.ReduceOnly)

	stop := orders[1].Order
	assert.Equal(t, domain.RoleStop, stop.Role)
	assert.Equal(t, domain.Short, stop.Direction)
	assert.Equal(t, domain.StopMarket, stop.Type)
	assert.True(t, stop.Price.Equal(decimal.NewFromInt(97)), "default stop is 3%% below entry, got %s", stop.Price)
	assert.True(t, stop.Size.Equal(size))
	assert.True(t, stop.ReduceOnly)

	tp := orders[2].Order
	assert.Equal(t, domain.RoleTakeProfit, tp.Role)
	assert.Equal(t, domain.Short, tp.Direction)
	assert.Equal(t, domain.Limit, tp.Type)
	assert.True(t, tp.Price.Equal(decimal.NewFromInt(110)))
	assert.True(t, tp.Size.Equal(size))
	assert.True(t, tp.VoidPrice.Equal(decimal.NewFromInt(97)))
	assert.True(t, tp.ReduceOnly)

	for _, o := range orders {
		assert.Equal(t, int64(1), o.Order.TradeID)
		assert.Equal(t, domain.Unfilled, o.Order.Status)
		assert.Equal(t, "BitMEX", o.Venue)
		assert.Equal(t, "XBTUSD", o.Symbol)
	}

	count, err := store.TradeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	trade := e.Portfolio().FindTrade(1)
	require.NotNil(t, trade)
	assert.False(t, trade.IsActive(), "trade stays inactive until the entry fills")
	assert.Len(t, trade.OpenOrders, 3)
}

func TestNewSignalEmitsKPlusTwoOrders(t *testing.T) {
	tests := []struct {
		name    string
		targets []event.Target
	}{
		{"NoTargets", nil},
		{"OneTarget", []event.Target{{Price: decimal.NewFromInt(110), Percent: 100}}},
		{"ThreeTargets", []event.Target{
			{Price: decimal.NewFromInt(105), Percent: 30},
			{Price: decimal.NewFromInt(110), Percent: 30},
			{Price: decimal.NewFromInt(120), Percent: 40},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, testSettings())

			orders, err := e.NewSignal(context.Background(), longSignal(tt.targets...))
			require.NoError(t, err)
			require.Len(t, orders, len(tt.targets)+2)

			assert.Equal(t, domain.RoleEntry, orders[0].Order.Role)
			assert.Equal(t, domain.RoleStop, orders[1].Order.Role)
			for i, target := range tt.targets {
				leg := orders[2+i].Order
				assert.Equal(t, domain.RoleTakeProfit, leg.Role)
				assert.True(t, leg.Price.Equal(target.Price))
				want := orders[0].Order.Size.
					Mul(decimal.NewFromInt(int64(target.Percent))).
					Div(decimal.NewFromInt(100))
				assert.True(t, leg.Size.Equal(want), "target %d size %s, want %s", i, leg.Size, want)
			}
			clientIDs := make(map[string]bool, len(orders))
			for i, o := range orders {
				assert.Equal(t, orders[0].Order.TradeID, o.Order.TradeID)
				assert.Equal(t, i, o.Order.Leg, "leg index follows construction order")
				assert.False(t, clientIDs[o.Order.ClientID()],
					"client ID %q reused within the trade", o.Order.ClientID())
				clientIDs[o.Order.ClientID()] = true
			}
		})
	}
}

func TestNewSignalExplicitStopPrice(t *testing.T) {
	e, _ := newTestEngine(t, testSettings())

	s := longSignal()
	stop := decimal.NewFromInt(95)
	s.StopPrice = &stop

	orders, err := e.NewSignal(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.True(t, orders[1].Order.Price.Equal(stop))
}

func TestNewSignalRejections(t *testing.T) {
	t.Run("InvalidSignal", func(t *testing.T) {
		e, _ := newTestEngine(t, testSettings())
		s := longSignal()
		s.Symbol = ""
		_, err := e.NewSignal(context.Background(), s)
		require.ErrorIs(t, err, ErrSignalRejected)
	})

	t.Run("MultiInstrument", func(t *testing.T) {
		e, _ := newTestEngine(t, testSettings())
		s := longSignal()
		s.InstrumentCount = 2
		_, err := e.NewSignal(context.Background(), s)
		require.ErrorIs(t, err, ErrSignalRejected)
	})

	t.Run("UnknownVenue", func(t *testing.T) {
		e, _ := newTestEngine(t, testSettings())
		s := longSignal()
		s.Venue = "Binance"
		_, err := e.NewSignal(context.Background(), s)
		require.ErrorIs(t, err, ErrSignalRejected)
	})

	t.Run("KellySizing", func(t *testing.T) {
		settings := testSettings()
		settings.Sizing = SizingKelly
		e, _ := newTestEngine(t, settings)
		_, err := e.NewSignal(context.Background(), longSignal())
		require.ErrorIs(t, err, ErrSignalRejected)
	})

	t.Run("StopEqualsEntry", func(t *testing.T) {
		settings := testSettings()
		settings.DefaultStopPercent = decimal.Zero
		e, _ := newTestEngine(t, settings)
		_, err := e.NewSignal(context.Background(), longSignal())
		require.ErrorIs(t, err, ErrSignalRejected)
	})

	t.Run("CorrelationLimit", func(t *testing.T) {
		e, _ := newTestEngine(t, testSettings())
		ctx := context.Background()

		_, err := e.NewSignal(ctx, longSignal())
		require.NoError(t, err)
		require.NoError(t, e.NewFill(ctx, event.NewFill(1700000060, "XBTUSD", "BitMEX", 1, 0,
			domain.RoleEntry, decimal.NewFromInt(3334), domain.Long, decimal.NewFromInt(333400))))

		_, err = e.NewSignal(ctx, longSignal())
		require.ErrorIs(t, err, ErrSignalRejected)
	})

	t.Run("DrawdownLimit", func(t *testing.T) {
		e, _ := newTestEngine(t, testSettings())
		e.Portfolio().CurrentDrawdown = decimal.NewFromInt(20)
		_, err := e.NewSignal(context.Background(), longSignal())
		require.ErrorIs(t, err, ErrSignalRejected)
	})

	t.Run("DrawdownExactlyAtLimitPasses", func(t *testing.T) {
		e, _ := newTestEngine(t, testSettings())
		e.Portfolio().CurrentDrawdown = decimal.NewFromInt(15)
		_, err := e.NewSignal(context.Background(), longSignal())
		require.NoError(t, err)
	})

	t.Run("NoStateChangeOnRejection", func(t *testing.T) {
		e, store := newTestEngine(t, testSettings())
		s := longSignal()
		s.Symbol = ""
		_, err := e.NewSignal(context.Background(), s)
		require.Error(t, err)

		count, err := store.TradeCount(context.Background())
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, e.Portfolio().Trades)
	})
}

func TestCalculateStopPrice(t *testing.T) {
	explicit := decimal.NewFromInt(95)
	got := CalculateStopPrice(&explicit, decimal.NewFromInt(100), decimal.NewFromInt(3))
	assert.True(t, got.Equal(explicit))

	got = CalculateStopPrice(nil, decimal.NewFromInt(100), decimal.NewFromInt(3))
	assert.True(t, got.Equal(decimal.NewFromInt(97)))
}

func TestCalculatePositionSize(t *testing.T) {
	value := decimal.NewFromInt(10000)
	risk := decimal.NewFromInt(1)

	tests := []struct {
		name  string
		entry int64
		stop  int64
		want  int64
	}{
		{"LongTenPercentStop", 100, 90, 1000},
		{"ShortTenPercentStop", 100, 110, 1000},
		{"LongThreePercentStop", 100, 97, 3334},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculatePositionSize(value, risk, decimal.NewFromInt(tt.entry), decimal.NewFromInt(tt.stop))
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.NewFromInt(tt.want)), "got %s, want %d", got, tt.want)
			assert.False(t, got.IsNegative())
		})
	}

	t.Run("StopEqualsEntry", func(t *testing.T) {
		_, err := CalculatePositionSize(value, risk, decimal.NewFromInt(100), decimal.NewFromInt(100))
		require.ErrorIs(t, err, ErrSignalRejected)
	})
}

func TestLoadPortfolioCreatesWithEqualAllocations(t *testing.T) {
	e, store := newTestEngine(t, testSettings())

	pf := e.Portfolio()
	require.NotNil(t, pf)
	assert.True(t, pf.CurrentValue.Equal(decimal.NewFromInt(10000)))
	require.Len(t, pf.ModelAllocations, 2)
	for model, share := range pf.ModelAllocations {
		assert.True(t, share.Equal(decimal.NewFromInt(50)), "model %s share %s", model, share)
	}

	// Creation persists immediately.
	stored, err := store.LoadPortfolio(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.CurrentValue.Equal(pf.CurrentValue))
}
