package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo(t *testing.T) {
	t.Run("runs the task", func(t *testing.T) {
		var executed atomic.Bool
		SafeGo(context.Background(), time.Second, "export upload", func(ctx context.Context) error {
			executed.Store(true)
			return nil
		})

		assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
	})

	t.Run("a failing task does not crash the process", func(t *testing.T) {
		var executed atomic.Bool
		SafeGo(context.Background(), time.Second, "export upload", func(ctx context.Context) error {
			executed.Store(true)
			return errors.New("bucket unreachable")
		})

		assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
	})

	t.Run("a panicking task does not crash the process", func(t *testing.T) {
		var executed atomic.Bool
		SafeGo(context.Background(), time.Second, "panicking task", func(ctx context.Context) error {
			executed.Store(true)
			panic("boom")
		})

		assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
	})

	t.Run("deadline cancels a slow task", func(t *testing.T) {
		var completed atomic.Bool
		var canceled atomic.Bool

		SafeGo(context.Background(), 50*time.Millisecond, "slow export", func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				completed.Store(true)
				return nil
			case <-ctx.Done():
				canceled.Store(true)
				return ctx.Err()
			}
		})

		assert.Eventually(t, canceled.Load, time.Second, 10*time.Millisecond)
		assert.False(t, completed.Load())
	})

	t.Run("parent cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var canceled atomic.Bool

		SafeGo(ctx, 5*time.Second, "cache warm", func(ctx context.Context) error {
			<-ctx.Done()
			canceled.Store(true)
			return ctx.Err()
		})

		cancel()
		assert.Eventually(t, canceled.Load, time.Second, 10*time.Millisecond)
	})
}

func TestSafeGoNoError(t *testing.T) {
	var executed atomic.Bool
	SafeGoNoError(context.Background(), time.Second, "cache warm", func(ctx context.Context) {
		executed.Store(true)
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestWorkerPoolRunsEverything(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "alias lookups", time.Second)
	defer pool.Shutdown(time.Second)

	var executed atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			executed.Add(1)
			return nil
		}))
	}

	assert.Eventually(t, func() bool { return executed.Load() == 10 }, time.Second, 10*time.Millisecond)
}

func TestWorkerPoolCollectsErrors(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "alias lookups", time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			return errors.New("user not found")
		}))
	}
	require.NoError(t, pool.Shutdown(time.Second))

	collected := 0
	for {
		select {
		case <-pool.Errors():
			collected++
		default:
			assert.Equal(t, 5, collected)
			return
		}
	}
}

func TestWorkerPoolShutdownDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "alias lookups", time.Second)

	var executed atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			executed.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(5), executed.Load(), "queued tasks drain before shutdown returns")

	assert.Error(t, pool.Submit(func(ctx context.Context) error { return nil }),
		"submissions after shutdown must fail")
}

func TestWorkerPoolTaskTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "slow lookups", 50*time.Millisecond)
	defer pool.Shutdown(time.Second)

	var timedOut atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	}))

	assert.Eventually(t, timedOut.Load, time.Second, 10*time.Millisecond)
}

func TestBatch(t *testing.T) {
	emails := []string{
		"ada@corp.example",
		"grace@corp.example",
		"edsger@corp.example",
		"barbara@corp.example",
		"donald@corp.example",
	}
	var executed atomic.Int32

	errs := Batch(context.Background(), emails, 2, "cache warm", time.Second,
		func(ctx context.Context, email string) error {
			executed.Add(1)
			return nil
		})

	assert.Empty(t, errs)
	assert.Equal(t, int32(5), executed.Load())
}

func TestBatchCollectsErrors(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	errs := Batch(context.Background(), items, 2, "row processing", time.Second,
		func(ctx context.Context, item int) error {
			if item%2 == 0 {
				return errors.New("bad row")
			}
			return nil
		})

	assert.Len(t, errs, 2)
}

func TestBatchCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var executed atomic.Int32
	errs := Batch(ctx, []int{1, 2, 3, 4, 5}, 2, "row processing", time.Second,
		func(ctx context.Context, item int) error {
			executed.Add(1)
			time.Sleep(100 * time.Millisecond)
			return nil
		})

	assert.Less(t, executed.Load(), int32(5), "workers stop picking up tasks once canceled")
	assert.NotEmpty(t, errs)
}