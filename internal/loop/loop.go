// Package loop runs a task over and over until it asks to stop or its
// context ends. The analysis scheduler uses it for every recurring job.
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task returns.
type Next struct {
	err      error
	quit     bool
	interval time.Duration
}

func (n Next) String() string {
	switch {
	case n.err != nil:
		return fmt.Sprintf("break: %v", n.err)
	case n.quit:
		return "break"
	default:
		return fmt.Sprintf("continue after %s", n.interval)
	}
}

// Continue runs the task again after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. A non-nil err is returned by Start.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value it returned last time (init on the first call).
// The zero Next means "run again immediately".
type Task[T any] func(context.Context, T) (T, Next)

// Option adjusts the context each task run receives.
type Option func(context.Context) (context.Context, context.CancelFunc)

// WithTimeout bounds each task run by d.
func WithTimeout(d time.Duration) Option {
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, d)
	}
}

// Start runs task until it breaks or ctx is done. It returns the last value
// the task produced, with the Break error or ctx.Err().
func Start[T any](ctx context.Context, init T, task Task[T], opts ...Option) (T, error) {
	if err := ctx.Err(); err != nil {
		return init, err
	}

	value := init
	for {
		v, next := run(ctx, value, task, opts)
		if next.err != nil {
			return v, next.err
		}
		if next.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(next.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

func run[T any](ctx context.Context, value T, task Task[T], opts []Option) (T, Next) {
	for _, opt := range opts {
		var cancel context.CancelFunc
		ctx, cancel = opt(ctx)
		defer cancel()
	}
	return task(ctx, value)
}
