package flow

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

const (
	DefaultPoolSize        = 4
	DefaultPoolSizePerPool = 16
)

func zero[T any]() (_ T) { return }

// Futures is a batch of pending results.
type Futures[T any] []*Future[T]

// Await waits for every future and returns the errors in order, nil when all succeeded.
func (futures Futures[T]) Await() []error {
	var errs []error
	for _, f := range futures {
		if err := f.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Values waits for every future and returns the successful values.
func (futures Futures[T]) Values() []T {
	var values []T
	for _, f := range futures {
		if v, err := f.Value(); err == nil {
			values = append(values, v)
		}
	}
	return values
}

// Future is a value that is resolved once by another goroutine, either with
// SetValue or SetError. Waiting stops early when the future's context ends.
type Future[T any] struct {
	ctx      context.Context
	original T
	ch       chan struct{}
	value    T
	err      error
	done     *atomic.Bool
}

func NewFuture[T any](ctx context.Context, original T) *Future[T] {
	return &Future[T]{
		ctx:      ctx,
		ch:       make(chan struct{}),
		done:     atomic.NewBool(false),
		original: original,
	}
}

func (future *Future[T]) SetValue(value T) {
	if future.done.Swap(true) {
		return
	}
	future.value = value
	close(future.ch)
}

func (future *Future[T]) SetError(err error) {
	if future.done.Swap(true) {
		return
	}
	future.err = err
	close(future.ch)
}

func (future *Future[T]) Context() context.Context {
	return future.ctx
}

// Original is the input the future was created for.
func (future *Future[T]) Original() T {
	return future.original
}

func (future *Future[T]) Value() (T, error) {
	select {
	case <-future.ctx.Done():
		return zero[T](), future.ctx.Err()
	case <-future.ch:
		return future.value, future.err
	}
}

// ValueTimeout is Value bounded by td.
func (future *Future[T]) ValueTimeout(td time.Duration) (T, error) {
	timer := time.NewTimer(td)
	defer timer.Stop()
	select {
	case <-timer.C:
		return zero[T](), context.DeadlineExceeded
	case <-future.ctx.Done():
		return zero[T](), future.ctx.Err()
	case <-future.ch:
		return future.value, future.err
	}
}

func (future *Future[T]) Err() error {
	_, err := future.Value()
	return err
}

func (future *Future[T]) Done() bool {
	return future.done.Load()
}

// Inner is closed once the future is resolved.
func (future *Future[T]) Inner() <-chan struct{} {
	return future.ch
}
