package bulk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_WaitsBetweenDispatches(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStagger(clock, time.Second)

	var mu sync.Mutex
	var seen []int
	done := make(chan []Outcome[int])
	go func() {
		out, _ := Run(context.Background(), s, []int{1, 2, 3}, func(_ context.Context, n int) error {
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
			if n == 2 {
				return errors.New("nope")
			}
			return nil
		})
		done <- out
	}()

	count := func() int { mu.Lock(); defer mu.Unlock(); return len(seen) }
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)

	out := <-done
	require.Len(t, out, 3)
	assert.Equal(t, 1, Failed(out))
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRun_StopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStagger(clock, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		_, err := Run(ctx, s, []string{"a", "b"}, func(context.Context, string) error { return nil })
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_ZeroDelay(t *testing.T) {
	s := NewStagger(nil, 0)
	out, err := Run(context.Background(), s, []int{1, 2}, func(context.Context, int) error { return nil })
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
