package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestPoolProcessesEverything(t *testing.T) {
	var sum atomic.Int64
	p := New(4, 8, func(_ context.Context, n int) {
		sum.Add(int64(n))
	})
	p.Start()
	for i := 1; i <= 100; i++ {
		if err := p.Submit(context.Background(), i); err != nil {
			t.Fatal(err)
		}
	}
	p.Close()
	if sum.Load() != 5050 {
		t.Fatalf("expected 5050, got %d", sum.Load())
	}
}

func TestPoolBackpressure(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := New(1, 1, func(_ context.Context, _ int) {
		started <- struct{}{}
		<-release
	})
	p.Start()

	if err := p.TrySubmit(1); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := p.TrySubmit(2); err != nil {
		t.Fatalf("queue slot should be free: %v", err)
	}
	if err := p.TrySubmit(3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	stats := p.Stats()
	if stats.Running != 1 || stats.Queued != 1 || stats.Workers != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, 4); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected blocked submit to time out, got %v", err)
	}

	close(release)
	p.Close()
	if err := p.TrySubmit(5); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := p.Submit(context.Background(), 5); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPoolAbortCancelsHandlers(t *testing.T) {
	var mu sync.Mutex
	var cancelled int
	started := make(chan struct{}, 2)
	p := New(2, 0, func(ctx context.Context, _ int) {
		started <- struct{}{}
		<-ctx.Done()
		mu.Lock()
		cancelled++
		mu.Unlock()
	})
	p.Start()
	for i := 0; i < 2; i++ {
		if err := p.Submit(context.Background(), i); err != nil {
			t.Fatal(err)
		}
	}
	<-started
	<-started
	p.Abort()
	if cancelled != 2 {
		t.Fatalf("expected both handlers cancelled, got %d", cancelled)
	}
}
