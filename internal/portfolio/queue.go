package portfolio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/internal/storage"
)

// TradeQueue holds trades awaiting their first durable write, decoupling
// the signal-to-order construction path from storage latency. The drain
// loop may run on a separate worker; on shutdown the queue must be
// drained before exit so no accepted trade is lost.
type TradeQueue struct {
	mu      sync.Mutex
	pending []domain.Trade
}

func NewTradeQueue() *TradeQueue {
	return &TradeQueue{}
}

// Enqueue adds a trade to the pending write set.
func (q *TradeQueue) Enqueue(t domain.Trade) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, t)
}

// Len returns the number of trades awaiting persistence.
func (q *TradeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain pulls trades until the queue is empty and inserts each into the
// store. A duplicate trade ID means the trade is already persisted and is
// skipped, not an error. On a storage failure the remaining trades are
// requeued and the error returned.
func (q *TradeQueue) Drain(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	saved, skipped := 0, 0
	for i, t := range batch {
		inserted, err := store.InsertTrade(ctx, t)
		if err != nil {
			q.mu.Lock()
			q.pending = append(batch[i:], q.pending...)
			q.mu.Unlock()
			return err
		}
		if inserted {
			saved++
		} else {
			skipped++
			logger.Debug("trade already persisted",
				slog.Int64("trade_id", t.TradeID()))
		}
	}

	if saved > 0 || skipped > 0 {
		logger.Info("trade queue drained",
			slog.Int("saved", saved),
			slog.Int("skipped", skipped))
	}
	return nil
}
