package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestWorkerPoolDoRejectsWhenSaturated(t *testing.T) {
	pool := NewWorkerPool(1)

	hold := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = pool.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	if err := pool.Do(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated, got %v", err)
	}

	close(hold)
	wg.Wait()

	if err := pool.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("slot should be free after completion, got %v", err)
	}
}

func TestWorkerPoolDoPropagatesError(t *testing.T) {
	pool := NewWorkerPool(2)

	want := errors.New("venue down")
	if err := pool.Do(context.Background(), func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestWorkerPoolDoRespectsCancelledContext(t *testing.T) {
	pool := NewWorkerPool(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := pool.Do(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("fn must not run under a cancelled context")
	}
}
