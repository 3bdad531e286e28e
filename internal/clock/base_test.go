package clock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClock(t *testing.T) *BacktestClock {
	t.Helper()
	clk, err := NewBacktestClock(backtestConfig(), nil)
	require.NoError(t, err)
	return clk
}

func TestProcessorManagement(t *testing.T) {
	clk := newTestClock(t)
	p := newFakeProcessor("mock")

	require.NoError(t, clk.AddProcessor(p))
	require.Len(t, clk.Processors(), 1)

	state, ok := clk.GetProcessorState(p)
	require.True(t, ok)
	assert.False(t, state.IsActive)

	require.NoError(t, clk.RemoveProcessor(p))
	assert.Empty(t, clk.Processors())
	_, ok = clk.GetProcessorState(p)
	assert.False(t, ok)
}

func TestDuplicateAndUnknownProcessors(t *testing.T) {
	clk := newTestClock(t)
	p := newFakeProcessor("mock")
	other := newFakeProcessor("other")

	require.NoError(t, clk.AddProcessor(p))

	err := clk.AddProcessor(p)
	require.ErrorIs(t, err, ErrClock)

	err = clk.RemoveProcessor(other)
	require.ErrorIs(t, err, ErrClock)

	require.ErrorIs(t, clk.PauseProcessor(other), ErrClock)
	require.ErrorIs(t, clk.ResumeProcessor(other), ErrClock)
}

func TestPauseResumeIdempotent(t *testing.T) {
	clk := newTestClock(t)
	p := newFakeProcessor("mock")
	require.NoError(t, clk.AddProcessor(p))

	require.NoError(t, clk.ResumeProcessor(p))
	state, _ := clk.GetProcessorState(p)
	assert.True(t, state.IsActive)

	require.NoError(t, clk.ResumeProcessor(p))
	state, _ = clk.GetProcessorState(p)
	assert.True(t, state.IsActive)

	require.NoError(t, clk.PauseProcessor(p))
	require.NoError(t, clk.PauseProcessor(p))
	state, _ = clk.GetProcessorState(p)
	assert.False(t, state.IsActive)
}

func TestScopeStartsAndStopsProcessors(t *testing.T) {
	clk := newTestClock(t)
	p := newFakeProcessor("mock")
	require.NoError(t, clk.AddProcessor(p))

	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		assert.True(t, p.startCalled)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, p.stopCalled)
}

func TestNestedScopeFails(t *testing.T) {
	clk := newTestClock(t)

	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.Enter(ctx)
	})
	require.ErrorIs(t, err, ErrContext)
	clk.Reset()
}

func TestScopeReentryAfterBodyError(t *testing.T) {
	clk := newTestClock(t)
	boom := errors.New("boom")

	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The context marker survives a failed body until Reset.
	require.ErrorIs(t, clk.Enter(context.Background()), ErrContext)

	clk.Reset()
	require.NoError(t, clk.Enter(context.Background()))
	clk.Exit(nil)
}

func TestEnterWhileRunningFlagSet(t *testing.T) {
	clk := newTestClock(t)
	clk.mu.Lock()
	clk.running = true
	clk.mu.Unlock()

	require.ErrorIs(t, clk.Enter(context.Background()), ErrContext)
}

func TestAddProcessorInsideScopeStartsIt(t *testing.T) {
	clk := newTestClock(t)
	late := newFakeProcessor("late")

	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.AddProcessor(late)
	})
	require.NoError(t, err)
	assert.True(t, late.startCalled)
}

func TestAddProcessorStartFailureLeavesRegistryUnchanged(t *testing.T) {
	clk := newTestClock(t)
	bad := newFakeProcessor("bad")
	bad.startErr = errors.New("refused")

	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		addErr := clk.AddProcessor(bad)
		require.ErrorIs(t, addErr, ErrClock)
		assert.Contains(t, addErr.Error(), "refused")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, clk.Processors())
}

func TestRemoveProcessorStopFailureStillRemoves(t *testing.T) {
	clk := newTestClock(t)
	bad := newFakeProcessor("bad")
	bad.stopErr = errors.New("stuck")
	require.NoError(t, clk.AddProcessor(bad))
	require.NoError(t, clk.ResumeProcessor(bad))

	err := clk.RemoveProcessor(bad)
	require.ErrorIs(t, err, ErrClock)
	assert.Contains(t, err.Error(), "stuck")
	assert.Empty(t, clk.Processors())
}

func TestRemovedProcessorStoppedOnceByScope(t *testing.T) {
	clk := newTestClock(t)
	transient := newFakeProcessor("transient")
	keeper := newFakeProcessor("keeper")
	require.NoError(t, clk.AddProcessor(transient))
	require.NoError(t, clk.AddProcessor(keeper))

	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.RemoveProcessor(transient)
	})
	require.NoError(t, err)

	// RemoveProcessor stopped it; Exit must not stop it again.
	assert.Equal(t, 1, transient.stops())
	assert.Equal(t, 1, keeper.stops())
}

func TestMidRunRegistryChangeDoesNotAffectSnapshot(t *testing.T) {
	clk := newTestClock(t)
	p := newFakeProcessor("mock")
	late := newFakeProcessor("late")
	require.NoError(t, clk.AddProcessor(p))

	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		if err := clk.RunTil(ctx, clk.StartTime()+1); err != nil {
			return err
		}
		if err := clk.AddProcessor(late); err != nil {
			return err
		}
		// The captured snapshot does not include the late processor.
		return clk.RunTil(ctx, clk.StartTime()+2)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.ticks())
	assert.Zero(t, late.ticks())
	require.Len(t, clk.Processors(), 2)
}

func TestQueryAPIUnknownProcessor(t *testing.T) {
	clk := newTestClock(t)
	p := newFakeProcessor("mock")

	_, ok := clk.GetProcessorStats(p)
	assert.False(t, ok)
	_, _, _, ok = clk.GetProcessorPerformance(p)
	assert.False(t, ok)
	assert.Empty(t, clk.GetLaggingProcessors(0))
}
