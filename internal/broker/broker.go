package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bhojpur/trades/internal/event"
	"github.com/bhojpur/trades/internal/exchange"
	"github.com/bhojpur/trades/internal/infra"
	"github.com/bhojpur/trades/pkg/clock"
)

// Sink receives the Fill events the broker emits, in emission order.
type Sink func(event.Event)

// Broker submits Order events to their designated venues and turns venue
// acknowledgments into Fill events. Each venue gets a bounded worker pool
// so one slow venue cannot stall submissions to another, and exactly one
// Fill is emitted per acknowledged executed quantity: deterministic
// client order IDs make resubmission after a transient failure idempotent
// at the venue.
type Broker struct {
	venues     map[string]exchange.Venue
	pools      map[string]*exchange.WorkerPool
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *slog.Logger
	clk        clock.Clock
	sink       Sink
}

// Option tweaks broker construction.
type Option func(*Broker)

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(f func(attempt int) time.Duration) Option {
	return func(b *Broker) { b.backoff = f }
}

// WithMaxRetries overrides the submission retry budget.
func WithMaxRetries(n int) Option {
	return func(b *Broker) { b.maxRetries = n }
}

// NewBroker creates a broker over the given venues with workers pool
// slots per venue.
func NewBroker(venues map[string]exchange.Venue, workers int, logger *slog.Logger, clk clock.Clock, sink Sink, opts ...Option) *Broker {
	pools := make(map[string]*exchange.WorkerPool, len(venues))
	for name := range venues {
		pools[name] = exchange.NewWorkerPool(workers)
	}

	b := &Broker{
		venues:     venues,
		pools:      pools,
		maxRetries: 3,
		backoff:    infra.CalculateBackoff,
		logger:     logger,
		clk:        clk,
		sink:       sink,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewOrder submits one order leg to its venue. A fill acknowledgment
// emits exactly one Fill event; an unfilled acknowledgment, rejection, or
// exhausted retry budget emits nothing and leaves the order unfilled at
// the portfolio. Runs the blocking venue call on the venue's worker pool
// and rejects with ErrPoolSaturated under backpressure.
func (b *Broker) NewOrder(ctx context.Context, o event.Order) error {
	venue, ok := b.venues[o.Venue]
	if !ok {
		return fmt.Errorf("order for unknown venue %q", o.Venue)
	}
	pool := b.pools[o.Venue]

	return pool.Do(ctx, func(ctx context.Context) error {
		ack, err := b.submitWithRetry(ctx, venue, o)
		if err != nil {
			b.logger.Error("order submission failed, order stays unfilled",
				slog.Int64("trade_id", o.Order.TradeID),
				slog.String("role", string(o.Order.Role)),
				slog.String("venue", o.Venue),
				slog.Any("error", err))
			return err
		}

		b.logger.Info("order acknowledged",
			slog.Int64("trade_id", o.Order.TradeID),
			slog.String("role", string(o.Order.Role)),
			slog.String("venue_order_id", ack.VenueOrderID),
			slog.String("status", string(ack.Status)),
			slog.String("filled_qty", ack.FilledQty.String()))

		if ack.FilledQty.IsPositive() {
			b.sink(b.fillFor(o, ack))
		}
		return nil
	})
}

// submitWithRetry resubmits on transient failure. Authentication errors,
// venue rejections and cancellation are terminal.
func (b *Broker) submitWithRetry(ctx context.Context, venue exchange.Venue, o event.Order) (exchange.OrderAck, error) {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return exchange.OrderAck{}, ctx.Err()
			case <-time.After(b.backoff(attempt - 1)):
			}
			b.logger.Warn("resubmitting order",
				slog.Int64("trade_id", o.Order.TradeID),
				slog.String("role", string(o.Order.Role)),
				slog.Int("attempt", attempt))
		}

		ack, err := venue.SubmitOrder(ctx, o.Symbol, o.Order)
		if err == nil {
			return ack, nil
		}
		if errors.Is(err, exchange.ErrAuthentication) ||
			errors.Is(err, exchange.ErrOrderRejected) ||
			errors.Is(err, context.Canceled) {
			return exchange.OrderAck{}, err
		}
		lastErr = err
	}
	return exchange.OrderAck{}, fmt.Errorf("submission retries exhausted: %w", lastErr)
}

// fillFor builds the Fill for an acknowledged execution, carrying the
// venue-reported commission when there is one.
func (b *Broker) fillFor(o event.Order, ack exchange.OrderAck) event.Fill {
	ts := ack.Timestamp
	if ts == 0 {
		ts = b.clk.Now().Unix()
	}
	fillCost := ack.AvgPrice.Mul(ack.FilledQty)

	if ack.Commission.IsPositive() {
		return event.NewFillWithCommission(ts, o.Symbol, o.Venue, o.Order.TradeID,
			o.Order.Leg, o.Order.Role, ack.FilledQty, o.Order.Direction, fillCost, ack.Commission)
	}
	return event.NewFill(ts, o.Symbol, o.Venue, o.Order.TradeID,
		o.Order.Leg, o.Order.Role, ack.FilledQty, o.Order.Direction, fillCost)
}
