package loop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Policy decides how a recurring task continues after each run.
type Policy interface {
	// Next receives whether the run did any work and its error.
	Next(worked bool, err error) Next
	String() string
}

// Forever reruns immediately while there is work and waits idle between
// runs that found nothing. Errors do not stop it.
func Forever(idle time.Duration) Policy { return forever(idle) }

type forever time.Duration

func (f forever) String() string { return "forever:" + time.Duration(f).String() }

func (f forever) Next(worked bool, _ error) Next {
	if worked {
		return Continue(0)
	}
	return Continue(time.Duration(f))
}

// Backlog reruns while there is work and stops once a run finds nothing.
// An error stops it.
func Backlog() Policy { return backlog{} }

type backlog struct{}

func (backlog) String() string { return "backlog" }

func (backlog) Next(worked bool, err error) Next {
	if err != nil {
		return Break(err)
	}
	if worked {
		return Continue(0)
	}
	return Break(nil)
}

// ParsePolicy reads "forever", "forever:<idle>" or "backlog".
func ParsePolicy(s string) (Policy, error) {
	name, param, hasParam := strings.Cut(s, ":")
	switch name {
	case "forever":
		if !hasParam || param == "" {
			return Forever(0), nil
		}
		d, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", s, err)
		}
		return Forever(d), nil
	case "backlog":
		if hasParam {
			return nil, fmt.Errorf("policy %q: backlog takes no parameter", s)
		}
		return Backlog(), nil
	}
	return nil, fmt.Errorf("unknown policy %q (want forever or backlog)", s)
}

// Recurring is one unit of recurring work. It reports whether it did
// anything.
type Recurring[T any] func(context.Context, T) (T, bool, error)

// Applied turns r into a Task governed by p.
func (r Recurring[T]) Applied(p Policy) Task[T] {
	return func(ctx context.Context, v T) (T, Next) {
		next, worked, err := r(ctx, v)
		return next, p.Next(worked, err)
	}
}
