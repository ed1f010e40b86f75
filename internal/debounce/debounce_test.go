package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDebouncer_FiresOnceWithLatestValue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(clock, DefaultQuiet, rec.record)

	d.Trigger("ab")
	clock.Advance(200 * time.Millisecond)
	d.Trigger("abc")

	clock.Advance(DefaultQuiet - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.get())

	clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"abc"}, rec.get())
}

func TestDebouncer_SeparateBurstsFireSeparately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(clock, 100*time.Millisecond, rec.record)

	d.Trigger("a")
	clock.Advance(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)

	d.Trigger("b")
	clock.Advance(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, rec.get())
}

func TestDebouncer_CancelDropsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(clock, 100*time.Millisecond, rec.record)

	d.Trigger("x")
	d.Cancel()
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.get())
}
