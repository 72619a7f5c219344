package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bhojpur/trades/internal/broker"
	"github.com/bhojpur/trades/internal/event"
	"github.com/bhojpur/trades/internal/portfolio"
)

// Loop is the core event processor. Events flow through a single queue
// preserving arrival order; portfolio mutation happens inline on the loop
// goroutine, while venue submissions run on the broker's worker pools so
// blocking I/O never stalls dispatch. Fills emitted by the broker re-enter
// the same queue.
type Loop struct {
	inbox     chan event.Event
	portfolio *portfolio.Engine
	broker    *broker.Broker
	logger    *slog.Logger
}

// NewLoop creates the event loop over the given consumers.
func NewLoop(inboxSize int, pf *portfolio.Engine, br *broker.Broker, logger *slog.Logger) *Loop {
	return &Loop{
		inbox:     make(chan event.Event, inboxSize),
		portfolio: pf,
		broker:    br,
		logger:    logger,
	}
}

// AttachBroker wires the broker after construction. The broker's fill
// sink usually points back at this loop, so the two are built in stages.
func (l *Loop) AttachBroker(b *broker.Broker) {
	l.broker = b
}

// Inbox returns the event channel. Producers send events here.
func (l *Loop) Inbox() chan<- event.Event {
	return l.inbox
}

// Sink enqueues one event, blocking when the inbox is full. Safe for
// concurrent producers.
func (l *Loop) Sink(ev event.Event) {
	l.inbox <- ev
}

// Run starts the main event loop. Must run in a single goroutine. On
// return, trades still awaiting durable write have been flushed.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("event loop started")

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			l.dumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("event loop stopping")
			l.shutdown()
			return
		case ev := <-l.inbox:
			l.processEvent(ctx, ev)
		}
	}
}

func (l *Loop) processEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.Market:
		if err := l.portfolio.UpdatePrice(ctx, e); err != nil {
			l.logger.Error("failed to apply market update",
				slog.String("symbol", e.Bar.Symbol),
				slog.Any("error", err))
		}

	case event.Signal:
		orders, err := l.portfolio.NewSignal(ctx, e)
		if err != nil {
			// Rejections are already logged with their reason.
			return
		}
		l.submit(ctx, orders...)

	case event.Order:
		l.submit(ctx, e)

	case event.Fill:
		if err := l.portfolio.NewFill(ctx, e); err != nil {
			l.logger.Error("failed to apply fill",
				slog.Int64("trade_id", e.TradeID),
				slog.Any("error", err))
		}

	default:
		l.logger.Warn("unknown event type", slog.Any("kind", ev.Kind()))
	}
}

// submit hands orders to the broker off the loop goroutine. One signal's
// legs share a single goroutine and go out strictly in construction order
// (entry, stop, targets), so a reduce-only leg never reaches the venue
// ahead of its entry. The broker's per-venue pool provides the
// backpressure; a saturated pool or failed submission leaves the order
// unfilled and is reported.
func (l *Loop) submit(ctx context.Context, orders ...event.Order) {
	if len(orders) == 0 {
		return
	}
	if l.broker == nil {
		l.logger.Error("no broker attached, dropping orders",
			slog.Int64("trade_id", orders[0].Order.TradeID),
			slog.Int("count", len(orders)))
		return
	}
	go func() {
		for _, o := range orders {
			if err := l.broker.NewOrder(ctx, o); err != nil {
				l.logger.Error("order not executed",
					slog.Int64("trade_id", o.Order.TradeID),
					slog.String("role", string(o.Order.Role)),
					slog.Any("error", err))
			}
		}
	}()
}

// shutdown drains buffered events, then flushes unpersisted trades so an
// accepted signal is never lost across restarts.
func (l *Loop) shutdown() {
	for {
		select {
		case ev := <-l.inbox:
			l.processEvent(context.Background(), ev)
		default:
			if err := l.portfolio.Shutdown(context.Background()); err != nil {
				l.logger.Error("failed to flush trade queue", slog.Any("error", err))
			}
			return
		}
	}
}

func (l *Loop) dumpState(path string) {
	pf := l.portfolio.Portfolio()
	if pf == nil {
		return
	}
	doc, err := pf.MarshalDocument()
	if err != nil {
		l.logger.Error("failed to encode state dump", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		l.logger.Error("failed to write state dump", slog.Any("error", err))
	}
}
