package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/broker"
	"github.com/bhojpur/trades/internal/engine"
	"github.com/bhojpur/trades/internal/event"
	"github.com/bhojpur/trades/internal/exchange"
	"github.com/bhojpur/trades/internal/exchange/bitmex"
	"github.com/bhojpur/trades/internal/infra"
	"github.com/bhojpur/trades/internal/portfolio"
	"github.com/bhojpur/trades/internal/storage"
	"github.com/bhojpur/trades/pkg/clock"
)

// Bootstrap orchestrates the application startup sequence: config,
// logger, storage, venues, portfolio (with reconciliation), broker and
// the event loop, in that order. A failure at any stage aborts startup
// with no partial initialization left running.
type Bootstrap struct {
	Config    *infra.Config
	Logger    *slog.Logger
	Store     *storage.Store
	Venues    map[string]exchange.Venue
	Portfolio *portfolio.Engine
	Broker    *broker.Broker
	Loop      *engine.Loop

	// Bitmex is set in live mode only; it feeds the tick buffer behind
	// the venue interface.
	Bitmex *bitmex.Client
}

func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds every component. The portfolio is loaded (or created)
// and reconciled against venue truth before any event is processed.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	b.Logger = logger

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "trades.db"
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open trade store: %w", err)
	}
	b.Store = store
	logger.Info("trade store opened", slog.String("path", dbPath))

	b.Venues = b.buildVenues(cfg)

	settings, err := buildSettings(cfg)
	if err != nil {
		return err
	}
	b.Portfolio = portfolio.NewEngine(store, b.Venues, settings, logger, clock.Real{})
	if err := b.Portfolio.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize portfolio: %w", err)
	}
	logger.Info("portfolio ready",
		slog.Int64("portfolio_id", settings.PortfolioID),
		slog.String("mode", cfg.Trading.Mode))

	b.Loop = engine.NewLoop(256, b.Portfolio, nil, logger)
	b.Broker = broker.NewBroker(b.Venues, cfg.VenueWorkersOrDefault(), logger, clock.Real{}, b.Loop.Sink,
		broker.WithMaxRetries(cfg.MaxRetriesOrDefault()))
	b.Loop.AttachBroker(b.Broker)

	return nil
}

func (b *Bootstrap) buildVenues(cfg *infra.Config) map[string]exchange.Venue {
	symbols := cfg.API.Bitmex.Symbols

	if strings.ToLower(cfg.Trading.Mode) == "live" {
		client := bitmex.NewClient(cfg.API.Bitmex.AccessKey, cfg.API.Bitmex.SecretKey, symbols,
			bitmex.WithBaseURL(cfg.API.Bitmex.RestURL))
		b.Bitmex = client
		return map[string]exchange.Venue{client.Name(): client}
	}

	return map[string]exchange.Venue{
		"BitMEX": exchange.NewPaperVenue("BitMEX", symbols, clock.Real{}),
	}
}

// buildSettings maps the risk configuration into the portfolio's
// injected settings. A "KELLY" risk setting selects the unimplemented
// sizing mode, which rejects all signals until it exists.
func buildSettings(cfg *infra.Config) (portfolio.Settings, error) {
	settings := portfolio.Settings{
		PortfolioID:              cfg.Trading.PortfolioID,
		Models:                   cfg.Models,
		Sizing:                   portfolio.SizingFixedPercent,
		MaxSimultaneousPositions: cfg.Risk.MaxSimultaneousPositions,
		MaxCorrelatedTrades:      cfg.Risk.MaxCorrelatedTrades,
		MaxAcceptedDrawdown:      decimal.NewFromInt(int64(cfg.Risk.MaxAcceptedDrawdown)),
		DefaultStopPercent:       decimal.NewFromInt(int64(cfg.Risk.DefaultStopPercent)),
	}

	if strings.EqualFold(cfg.Risk.RiskPerTrade, "KELLY") {
		settings.Sizing = portfolio.SizingKelly
	} else {
		risk, err := decimal.NewFromString(cfg.Risk.RiskPerTrade)
		if err != nil {
			return settings, fmt.Errorf("%w: risk_per_trade %q is not a percentage", infra.ErrInvalidConfig, cfg.Risk.RiskPerTrade)
		}
		settings.RiskPerTrade = risk
	}

	funds := cfg.Trading.InitialFunds
	if funds == "" {
		funds = "10000"
	}
	initial, err := decimal.NewFromString(funds)
	if err != nil {
		return settings, fmt.Errorf("%w: initial_funds %q is not a number", infra.ErrInvalidConfig, funds)
	}
	settings.InitialFunds = initial

	return settings, nil
}

// Run starts the event loop and, in live mode, the market data feed. It
// blocks until ctx is cancelled and the loop has flushed its queues.
func (b *Bootstrap) Run(ctx context.Context) {
	if b.Bitmex != nil {
		stream := bitmex.NewTradeStream(b.Config.API.Bitmex.WSURL, b.Bitmex)
		worker := infra.NewBaseWSWorker(stream)
		worker.Start(ctx)
		defer worker.Stop()

		go b.pollBars(ctx)
	}

	b.Loop.Run(ctx)
}

// pollBars folds the previous minute's buffered ticks into bars once per
// minute and feeds them to the loop as Market events.
func (b *Bootstrap) pollBars(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, bar := range b.Bitmex.ParseTicks() {
				b.Loop.Sink(event.Market{Venue: b.Bitmex.Name(), Bar: bar})
			}
		}
	}
}

// Close releases resources after the loop has stopped.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			b.Logger.Error("failed to close trade store", slog.Any("error", err))
		}
	}
}
