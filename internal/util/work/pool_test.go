package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_Do(t *testing.T) {
	pool := NewPool(2)
	defer pool.Stop()

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func(context.Context) error {
				atomic.AddInt64(&count, 1)
				return nil
			})
			if err != nil {
				t.Errorf("Do() returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&count); got != 10 {
		t.Errorf("expected 10 executed jobs, got %d", got)
	}
}

func TestPool_DoPropagatesError(t *testing.T) {
	pool := NewPool(1)
	defer pool.Stop()

	wantErr := errors.New("job failed")
	err := pool.Do(context.Background(), func(context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected job error, got %v", err)
	}
}

func TestPool_DoRecoversPanic(t *testing.T) {
	pool := NewPool(1)
	defer pool.Stop()

	err := pool.Do(context.Background(), func(context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
}

func TestPool_CancelledContext(t *testing.T) {
	pool := NewPool(1)
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Do(ctx, func(context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPool_StoppedRejectsJobs(t *testing.T) {
	pool := NewPool(1)
	pool.Stop()

	err := pool.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}
