package async

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// SafeGo runs fn on its own goroutine with a deadline, panic recovery, and
// error logging. Background work in the broker (scheduled exports, cache
// warming) goes through here instead of a bare `go func()` so a panicking
// task cannot take the process down and a hung task cannot leak.
//
//	SafeGo(ctx, cfg.Export.Timeout, "scheduled user export", func(ctx context.Context) error {
//	    return runScheduledExport(ctx, exporter, uploader, logger)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			// Background tasks have no caller to return to; the log line is
			// the only signal.
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}

// SafeGoNoError is SafeGo for functions with nothing to report.
//
//	SafeGoNoError(ctx, time.Minute, "identity cache warm", func(ctx context.Context) {
//	    warm(ctx, emails)
//	})
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// WorkerPool runs submitted tasks on a fixed number of workers, each task
// under its own deadline. Errors are collected on a buffered channel rather
// than returned, since submitters usually move on before the task runs.
type WorkerPool struct {
	workers  int
	taskName string
	timeout  time.Duration

	tasks chan func(context.Context) error
	done  chan struct{}
	errs  chan error

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewWorkerPool starts the workers immediately.
//
//	pool := NewWorkerPool(ctx, 4, "alias lookups", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return store.AddAlias(ctx, identityID, email)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		tasks:    make(chan func(context.Context) error, workers*2),
		done:     make(chan struct{}),
		errs:     make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.run(id)
			}(i)
		}
		wg.Wait()
		close(pool.done)
	}()

	return pool
}

// Submit queues a task, failing once the pool has shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	select {
	case <-p.done:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// Shutdown may close tasks between the check above and the send below.
	defer func() {
		recover()
	}()

	select {
	case p.tasks <- fn:
		return nil
	case <-p.done:
		return fmt.Errorf("worker pool shut down")
	}
}

// Shutdown stops accepting work and waits up to timeout for workers to drain
// what was already queued.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.stopOnce.Do(func() {
		// Batch may have closed the task channel already.
		func() {
			defer func() {
				recover()
			}()
			close(p.tasks)
		}()

		select {
		case <-p.done:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns the channel carrying task errors. Drain with a non-blocking
// select.
func (p *WorkerPool) Errors() <-chan error {
	return p.errs
}

// offer forwards a task error without blocking; a full channel drops to the
// log instead of stalling the worker.
func (p *WorkerPool) offer(err error) {
	select {
	case p.errs <- err:
	default:
		log.Printf("[WorkerPool] Error channel full, dropping error: %v", err)
	}
}

// run is one worker's loop: take a task, give it a deadline, contain its
// panic.
func (p *WorkerPool) run(id int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WorkerPool] PANIC in worker %d (%s): %v\nStack trace:\n%s",
				id, p.taskName, r, string(debug.Stack()))
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(fn)
		}
	}
}

func (p *WorkerPool) execute(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.offer(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.offer(err)
	}
}

// Batch runs fn over every item on a temporary pool and returns the errors
// encountered. Item order is not preserved; use it for independent work like
// warming cache entries after an import.
//
//	errs := Batch(ctx, emails, 4, "identity cache warm", 10*time.Second,
//	    func(ctx context.Context, email string) error {
//	        _, err := store.GetByEmail(ctx, email)
//	        return err
//	    })
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, workers, taskName, timeout)
	defer pool.Shutdown(5 * time.Second)

	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return []error{err}
		}
	}

	// Closing the task channel lets the workers drain the queue before the
	// done channel closes.
	close(pool.tasks)
	<-pool.done
	pool.cancel()

	var errs []error
	for {
		select {
		case err := <-pool.errs:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}
