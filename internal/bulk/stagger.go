// Package bulk runs a sequence of calls with a deliberate pause between dispatches.
package bulk

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultDelay = 300 * time.Millisecond

type Stagger struct {
	clock clockwork.Clock
	delay time.Duration
}

func NewStagger(clock clockwork.Clock, delay time.Duration) *Stagger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if delay < 0 {
		delay = 0
	}
	return &Stagger{clock: clock, delay: delay}
}

// Outcome is the per-item result of a run.
type Outcome[T any] struct {
	Item T
	Err  error
}

// Run calls fn for each item in order, waiting the stagger delay between calls. It stops early only when ctx
// is cancelled; per-item errors are collected.
func Run[T any](ctx context.Context, s *Stagger, items []T, fn func(context.Context, T) error) ([]Outcome[T], error) {
	outcomes := make([]Outcome[T], 0, len(items))
	for i, item := range items {
		if i > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return outcomes, ctx.Err()
			case <-s.clock.After(s.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, Outcome[T]{Item: item, Err: fn(ctx, item)})
	}
	return outcomes, nil
}

// Failed counts outcomes with an error.
func Failed[T any](outcomes []Outcome[T]) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
