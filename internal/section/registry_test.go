package section

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingLoader(calls *atomic.Int32, err error) Loader {
	return func(ctx context.Context) (func(), error) {
		calls.Add(1)
		if err != nil {
			return nil, err
		}
		return func() {}, nil
	}
}

func TestActivate_LoadsOnceThenRefresh(t *testing.T) {
	reg := NewRegistry(nil)
	var calls atomic.Int32
	require.NoError(t, reg.Register("users", "Users", countingLoader(&calls, nil)))
	require.NoError(t, reg.Register("jobs", "Jobs", countingLoader(new(atomic.Int32), nil)))
	ctx := context.Background()

	assert.Equal(t, Unloaded, reg.State("users"))

	require.NoError(t, reg.Activate(ctx, "users"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Loaded, reg.State("users"))

	require.NoError(t, reg.Activate(ctx, "users"))
	require.NoError(t, reg.Activate(ctx, "jobs"))
	require.NoError(t, reg.Activate(ctx, "users"))
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, reg.Refresh(ctx, "users"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, Loaded, reg.State("users"))
}

func TestActivate_ExactlyOneActive(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register("users", "Users", countingLoader(new(atomic.Int32), nil)))
	require.NoError(t, reg.Register("jobs", "Jobs", countingLoader(new(atomic.Int32), nil)))

	require.NoError(t, reg.Activate(context.Background(), "jobs"))
	active := 0
	for _, tab := range reg.Tabs() {
		if tab.Active {
			active++
			assert.Equal(t, "jobs", tab.Name)
		}
	}
	assert.Equal(t, 1, active)
}

func TestActivate_FailureStaysUntilRefresh(t *testing.T) {
	reg := NewRegistry(nil)
	var calls atomic.Int32
	boom := errors.New("boom")
	fail := true
	require.NoError(t, reg.Register("quotes", "Quotes", func(ctx context.Context) (func(), error) {
		calls.Add(1)
		if fail {
			return nil, boom
		}
		return nil, nil
	}))

	err := reg.Activate(context.Background(), "quotes")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Unloaded, reg.State("quotes"))
	assert.ErrorIs(t, reg.Err("quotes"), boom)

	require.NoError(t, reg.Activate(context.Background(), "quotes"))
	require.NoError(t, reg.Activate(context.Background(), "quotes"))
	assert.Equal(t, int32(1), calls.Load(), "activating the active section must not retry")
	assert.ErrorIs(t, reg.Err("quotes"), boom)

	fail = false
	require.NoError(t, reg.Refresh(context.Background(), "quotes"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, Loaded, reg.State("quotes"))
	assert.NoError(t, reg.Err("quotes"))
}

func TestActivate_SwitchingBackReloadsFailedSection(t *testing.T) {
	reg := NewRegistry(nil)
	var quoteCalls, jobCalls atomic.Int32
	boom := errors.New("boom")
	require.NoError(t, reg.Register("quotes", "Quotes", countingLoader(&quoteCalls, boom)))
	require.NoError(t, reg.Register("jobs", "Jobs", countingLoader(&jobCalls, nil)))

	assert.ErrorIs(t, reg.Activate(context.Background(), "quotes"), boom)
	require.NoError(t, reg.Activate(context.Background(), "jobs"))
	assert.ErrorIs(t, reg.Activate(context.Background(), "quotes"), boom)
	assert.Equal(t, int32(2), quoteCalls.Load())
	assert.Equal(t, int32(1), jobCalls.Load())
}

func TestLoad_StaleCommitIsDiscarded(t *testing.T) {
	reg := NewRegistry(nil)
	release := make(chan struct{})
	var committed []string
	var calls atomic.Int32

	require.NoError(t, reg.Register("messages", "Messages", func(ctx context.Context) (func(), error) {
		n := calls.Add(1)
		if n == 1 {
			<-release
			return func() { committed = append(committed, "first") }, nil
		}
		return func() { committed = append(committed, "second") }, nil
	}))

	done := make(chan error)
	go func() { done <- reg.Activate(context.Background(), "messages") }()
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, reg.Refresh(context.Background(), "messages"))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"second"}, committed)
	assert.Equal(t, Loaded, reg.State("messages"))
}

func TestActivate_UnknownSection(t *testing.T) {
	reg := NewRegistry(nil)
	assert.ErrorIs(t, reg.Activate(context.Background(), "nope"), ErrUnknownSection)
	assert.ErrorIs(t, reg.Refresh(context.Background(), "nope"), ErrUnknownSection)
}

func TestRegister_Duplicate(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register("a", "A", nil))
	assert.ErrorIs(t, reg.Register("a", "A", nil), ErrDuplicate)
}

func TestReset_InvalidatesEverything(t *testing.T) {
	reg := NewRegistry(nil)
	var calls atomic.Int32
	require.NoError(t, reg.Register("users", "Users", countingLoader(&calls, nil)))
	require.NoError(t, reg.Activate(context.Background(), "users"))

	reg.Reset()
	assert.Equal(t, Unloaded, reg.State("users"))
	assert.Empty(t, reg.Active())

	require.NoError(t, reg.Activate(context.Background(), "users"))
	assert.Equal(t, int32(2), calls.Load())
}
