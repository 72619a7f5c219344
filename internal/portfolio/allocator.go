package portfolio

import (
	"context"

	"github.com/bhojpur/trades/internal/storage"
)

// TradeIDAllocator hands out sequential trade IDs. It is seeded once from
// the durable trade store and then advances in memory, so an allocated ID
// is never reused even when the trade it was allocated for is not yet
// persisted.
//
// Allocate is read-then-increment and not safe for concurrent callers;
// the engine's mutation lock serializes access.
type TradeIDAllocator struct {
	next int64
}

// NewTradeIDAllocator seeds the allocator from the highest stored trade
// ID. An empty store starts the sequence at 1.
func NewTradeIDAllocator(ctx context.Context, store *storage.Store) (*TradeIDAllocator, error) {
	max, err := store.MaxTradeID(ctx)
	if err != nil {
		return nil, err
	}
	return &TradeIDAllocator{next: max + 1}, nil
}

// Allocate returns the next trade ID and advances the sequence.
func (a *TradeIDAllocator) Allocate() int64 {
	id := a.next
	a.next++
	return id
}
