package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/appvend/appvend/pkg/observability"
)

// Go runs fn in a goroutine with a deadline and panic recovery. Failures
// are logged through the context logger; the caller is never blocked.
func Go(parent context.Context, timeout time.Duration, task string, fn func(context.Context) error) {
	logger := observability.FromContext(parent).WithField("task", task)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("stack", string(debug.Stack())).Errorf("background task panicked: %v", r)
			}
		}()
		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("background task failed")
		}
	}()
}

// Pool is a fixed-size worker pool with per-task timeouts. Task errors
// and recovered panics are reported on Errors.
type Pool struct {
	logger  *observability.Logger
	timeout time.Duration
	work    chan func(context.Context) error
	errs    chan error
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	closing sync.Once
}

// NewPool starts workers goroutines draining the task queue.
func NewPool(ctx context.Context, workers int, task string, timeout time.Duration) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		logger:  observability.FromContext(ctx).WithField("task", task),
		timeout: timeout,
		work:    make(chan func(context.Context) error, workers*2),
		errs:    make(chan error, workers*4),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.run()
			}()
		}
		wg.Wait()
		close(p.done)
	}()
	return p
}

// Submit queues one task. It fails once the pool is closing.
func (p *Pool) Submit(fn func(context.Context) error) error {
	select {
	case <-p.done:
		return fmt.Errorf("pool is shut down")
	default:
	}
	select {
	case p.work <- fn:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shut down")
	}
}

// Errors exposes task failures. The channel is buffered; overflow is
// logged and dropped rather than blocking workers.
func (p *Pool) Errors() <-chan error {
	return p.errs
}

// Shutdown stops accepting work and waits up to timeout for in-flight
// tasks to drain.
func (p *Pool) Shutdown(timeout time.Duration) error {
	var err error
	p.closing.Do(func() {
		close(p.work)
		select {
		case <-p.done:
		case <-time.After(timeout):
			err = fmt.Errorf("pool shutdown timed out after %v", timeout)
		}
		p.cancel()
	})
	return err
}

func (p *Pool) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.work:
			if !ok {
				return
			}
			p.execute(fn)
		}
	}
}

func (p *Pool) execute(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("stack", string(debug.Stack())).Errorf("worker panicked: %v", r)
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	select {
	case p.errs <- err:
	default:
		p.logger.WithError(err).Warn("error channel full, dropping error")
	}
}

// Batch runs fn over every item on a temporary pool and returns all
// collected errors once the batch drains.
func Batch[T any](ctx context.Context, items []T, workers int, task string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	p := NewPool(ctx, workers, task, timeout)
	for _, item := range items {
		item := item
		if err := p.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return []error{err}
		}
	}
	if err := p.Shutdown(timeout * time.Duration(len(items)+1)); err != nil {
		return []error{err}
	}

	var errs []error
	for {
		select {
		case err := <-p.errs:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}
