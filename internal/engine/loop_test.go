package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhojpur/trades/internal/broker"
	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/internal/event"
	"github.com/bhojpur/trades/internal/exchange"
	"github.com/bhojpur/trades/internal/portfolio"
	"github.com/bhojpur/trades/internal/storage"
	"github.com/bhojpur/trades/pkg/clock"
)

func newTestLoop(t *testing.T) (*Loop, *portfolio.Engine) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	venues := map[string]exchange.Venue{
		"BitMEX": exchange.NewPaperVenue("BitMEX", []string{"XBTUSD"}, clock.Real{}),
	}

	settings := portfolio.Settings{
		PortfolioID:              1,
		InitialFunds:             decimal.NewFromInt(10000),
		Models:                   []string{"trend"},
		RiskPerTrade:             decimal.NewFromInt(1),
		MaxSimultaneousPositions: 2,
		MaxCorrelatedTrades:      1,
		MaxAcceptedDrawdown:      decimal.NewFromInt(15),
		DefaultStopPercent:       decimal.NewFromInt(3),
	}
	pf := portfolio.NewEngine(store, venues, settings, logger, clock.Real{})
	require.NoError(t, pf.Init(context.Background()))

	loop := NewLoop(64, pf, nil, logger)
	loop.AttachBroker(broker.NewBroker(venues, 2, logger, clock.Real{}, loop.Sink))
	return loop, pf
}

func TestLoopSignalToFill(t *testing.T) {
	loop, pf := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	loop.Sink(event.Signal{
		Symbol:          "XBTUSD",
		EntryTimestamp:  1700000000,
		Direction:       domain.Long,
		Timeframe:       "1m",
		Strategy:        "trend",
		Venue:           "BitMEX",
		EntryPrice:      decimal.NewFromInt(100),
		EntryType:       domain.Limit,
		Targets:         []event.Target{{Price: decimal.NewFromInt(110), Percent: 100}},
		InstrumentCount: 1,
	})

	// The paper venue fills the entry immediately; the fill travels back
	// through the loop and activates the trade.
	require.Eventually(t, func() bool {
		trade := pf.Portfolio().FindTrade(1)
		return trade != nil && trade.IsActive()
	}, 5*time.Second, 10*time.Millisecond)

	trade := pf.Portfolio().FindTrade(1)
	require.NotNil(t, trade.Position)
	assert.True(t, trade.Position.Size.Equal(decimal.NewFromInt(3334)))
	assert.True(t, trade.Position.EntryPrice.Equal(decimal.NewFromInt(100)))

	cancel()
	<-done
}

func TestLoopMarketUpdateFlows(t *testing.T) {
	loop, pf := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	loop.Sink(event.Signal{
		Symbol:          "XBTUSD",
		EntryTimestamp:  1700000000,
		Direction:       domain.Long,
		Timeframe:       "1m",
		Strategy:        "trend",
		Venue:           "BitMEX",
		EntryPrice:      decimal.NewFromInt(100),
		EntryType:       domain.Limit,
		InstrumentCount: 1,
	})

	require.Eventually(t, func() bool {
		trade := pf.Portfolio().FindTrade(1)
		return trade != nil && trade.IsActive()
	}, 5*time.Second, 10*time.Millisecond)

	loop.Sink(event.Market{Venue: "BitMEX", Bar: domain.Bar{
		Symbol:    "XBTUSD",
		Timestamp: 1700000060,
		Close:     decimal.NewFromInt(105),
	}})

	require.Eventually(t, func() bool {
		return pf.Portfolio().FindTrade(1).UnrealizedPnl.IsPositive()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

// recordingVenue rests every order and remembers the submission sequence.
type recordingVenue struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (v *recordingVenue) Name() string      { return "BitMEX" }
func (v *recordingVenue) Symbols() []string { return []string{"XBTUSD"} }

func (v *recordingVenue) GetBarsInPeriod(ctx context.Context, symbol string, startEpoch int64, count int) ([]domain.Bar, error) {
	return nil, exchange.ErrDataUnavailable
}
func (v *recordingVenue) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}
func (v *recordingVenue) GetOrders(ctx context.Context) ([]domain.Order, error) { return nil, nil }

func (v *recordingVenue) SubmitOrder(ctx context.Context, symbol string, order domain.Order) (exchange.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = append(v.orders, order)
	return exchange.OrderAck{VenueOrderID: order.ClientID(), Status: domain.Unfilled}, nil
}

func (v *recordingVenue) submitted() []domain.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Order(nil), v.orders...)
}

func TestLoopSubmitsLegsInConstructionOrder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	recorder := &recordingVenue{}
	venues := map[string]exchange.Venue{"BitMEX": recorder}

	settings := portfolio.Settings{
		PortfolioID:              1,
		InitialFunds:             decimal.NewFromInt(10000),
		Models:                   []string{"trend"},
		RiskPerTrade:             decimal.NewFromInt(1),
		MaxSimultaneousPositions: 2,
		MaxCorrelatedTrades:      1,
		MaxAcceptedDrawdown:      decimal.NewFromInt(15),
		DefaultStopPercent:       decimal.NewFromInt(3),
	}
	pf := portfolio.NewEngine(store, venues, settings, logger, clock.Real{})
	require.NoError(t, pf.Init(context.Background()))

	loop := NewLoop(64, pf, nil, logger)
	loop.AttachBroker(broker.NewBroker(venues, 2, logger, clock.Real{}, loop.Sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	loop.Sink(event.Signal{
		Symbol:         "XBTUSD",
		EntryTimestamp: 1700000000,
		Direction:      domain.Long,
		Timeframe:      "1m",
		Strategy:       "trend",
		Venue:          "BitMEX",
		EntryPrice:     decimal.NewFromInt(100),
		EntryType:      domain.Limit,
		Targets: []event.Target{
			{Price: decimal.NewFromInt(105), Percent: 30},
			{Price: decimal.NewFromInt(110), Percent: 70},
		},
		InstrumentCount: 1,
	})

	require.Eventually(t, func() bool {
		return len(recorder.submitted()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	orders := recorder.submitted()
	wantRoles := []domain.OrderRole{domain.RoleEntry, domain.RoleStop, domain.RoleTakeProfit, domain.RoleTakeProfit}
	for i, o := range orders {
		assert.Equal(t, wantRoles[i], o.Role, "leg %d role", i)
		assert.Equal(t, i, o.Leg, "legs reach the venue in construction order")
	}
}

func TestLoopShutdownFlushesTradeQueue(t *testing.T) {
	loop, pf := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	cancel()
	<-done

	assert.Zero(t, pf.Queue().Len())
}
