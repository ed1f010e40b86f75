// Package debounce coalesces bursts of calls into one call carrying the latest value.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultQuiet = 500 * time.Millisecond

// Debouncer fires fn with the last triggered value once no trigger arrived for the quiet period.
type Debouncer[T any] struct {
	clock clockwork.Clock
	quiet time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   clockwork.Timer
	pending T
	seq     uint64
}

func New[T any](clock clockwork.Clock, quiet time.Duration, fn func(T)) *Debouncer[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Debouncer[T]{clock: clock, quiet: quiet, fn: fn}
}

func (d *Debouncer[T]) Trigger(value T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = value
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.quiet, func() { d.fire(seq) })
}

func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq {
		// superseded by a later trigger whose timer is still pending
		d.mu.Unlock()
		return
	}
	value := d.pending
	d.timer = nil
	d.mu.Unlock()

	d.fn(value)
}

// Cancel drops any pending call.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
