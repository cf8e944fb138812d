package taskpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteBoundsConcurrency(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	var current, maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Execute(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Errorf("observed concurrency %d, want <= 2", maxSeen)
	}
}

func TestCloseCancelsOutstandingTasks(t *testing.T) {
	pool := New(1)
	started := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- pool.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	pool.Close()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Execute returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task did not observe pool cancellation")
	}
}

func TestTryExecuteFailsAtCapacity(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	blocking := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = pool.Execute(context.Background(), func(ctx context.Context) error {
			close(blocking)
			<-release
			return nil
		})
	}()

	<-blocking
	ran, err := pool.TryExecute(context.Background(), func(ctx context.Context) error { return nil })
	if ran {
		t.Error("TryExecute ran a task while pool was at capacity")
	}
	if err != nil {
		t.Errorf("TryExecute returned unexpected error: %v", err)
	}
	close(release)
}
