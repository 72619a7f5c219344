package exchange

import (
	"context"
)

// WorkerPool bounds concurrent blocking calls to one venue. When every
// slot is busy, Do rejects immediately with ErrPoolSaturated so a slow
// venue cannot stall unrelated event processing.
type WorkerPool struct {
	slots chan struct{}
}

// NewWorkerPool creates a pool with the given number of slots.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{slots: make(chan struct{}, size)}
}

// Do runs fn in a slot, blocking the caller until fn returns. Rejects
// with ErrPoolSaturated when no slot is free.
func (p *WorkerPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	default:
		return ErrPoolSaturated
	}
	defer func() { <-p.slots }()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
