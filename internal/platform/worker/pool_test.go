package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(4, 8, zerolog.Nop())
	defer p.Shutdown()

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit("record-"+string(rune('a'+i%5)), func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			t.Fatalf("submit: %v", err)
		}
	}

	wg.Wait()
	if count != 20 {
		t.Errorf("ran %d tasks, want 20", count)
	}
}

func TestPoolSameKeyRunsInOrder(t *testing.T) {
	p := NewPool(4, 32, zerolog.Nop())
	defer p.Shutdown()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		if err := p.Submit("same-record", func(ctx context.Context) {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks for one key ran out of order: %v", order)
		}
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1, zerolog.Nop())
	defer p.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{})

	// Occupy the single worker, then fill its one queue slot.
	if err := p.Submit("k", func(ctx context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started
	if err := p.Submit("k", func(ctx context.Context) {}); err != nil {
		t.Fatalf("submit queued task: %v", err)
	}

	if err := p.Submit("k", func(ctx context.Context) {}); err == nil {
		t.Error("expected rejection when the shard queue is full")
	}
	close(release)
}

func TestPoolShutdownDrains(t *testing.T) {
	p := NewPool(2, 8, zerolog.Nop())

	var mu sync.Mutex
	done := 0
	for i := 0; i < 6; i++ {
		if err := p.Submit("k", func(ctx context.Context) {
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			done++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	p.Shutdown()
	if done != 6 {
		t.Errorf("shutdown drained %d of 6 tasks", done)
	}

	if err := p.Submit("k", func(ctx context.Context) {}); err == nil {
		t.Error("expected submission after shutdown to fail")
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool(1, 4, zerolog.Nop())
	defer p.Shutdown()

	if err := p.Submit("k", func(ctx context.Context) { panic("boom") }); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ran := make(chan struct{})
	if err := p.Submit("k", func(ctx context.Context) { close(ran) }); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}
