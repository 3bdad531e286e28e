package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRealtimeTestClock(t *testing.T) *RealtimeClock {
	t.Helper()
	clk, err := NewRealtimeClock(realtimeConfig(), nil)
	require.NoError(t, err)
	return clk
}

func TestNewRealtimeClockValidation(t *testing.T) {
	cfg := realtimeConfig()
	cfg.Mode = ModeBacktest
	_, err := NewRealtimeClock(cfg, nil)
	require.ErrorIs(t, err, ErrClock)

	clk := newRealtimeTestClock(t)
	assert.Equal(t, 0.1, clk.TickSize())
	assert.Greater(t, clk.CurrentTimestamp(), 0.0)
}

func TestRealtimeExecution(t *testing.T) {
	clk := newRealtimeTestClock(t)
	p := newFakeProcessor("mock")
	require.NoError(t, clk.AddProcessor(p))

	start := time.Now()
	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.RunTil(ctx, clk.CurrentTimestamp()+0.3)
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.True(t, p.startCalled)
	assert.True(t, p.stopCalled)
	assert.GreaterOrEqual(t, p.ticks(), 2)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestRealtimeDriftSkipsMissedTicks(t *testing.T) {
	clk := newRealtimeTestClock(t)
	slow := newFakeProcessor("slow")
	slow.sleep = 200 * time.Millisecond // double the tick size
	require.NoError(t, clk.AddProcessor(slow))

	start := time.Now()
	err := clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.RunTil(ctx, clk.CurrentTimestamp()+1.0)
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	// Missed intervals are skipped, not replayed: the run must not take
	// anywhere near one tick's processing time per missed interval.
	assert.Less(t, elapsed, 2*time.Second)
	assert.Greater(t, slow.ticks(), 0)
	assert.Less(t, slow.ticks(), 10)
}

func TestRealtimeConcurrentProcessors(t *testing.T) {
	cfg := realtimeConfig()
	cfg.ConcurrentProcessors = true
	clk, err := NewRealtimeClock(cfg, nil)
	require.NoError(t, err)

	processors := make([]*fakeProcessor, 3)
	for i := range processors {
		processors[i] = newFakeProcessor(string(rune('a' + i)))
		processors[i].sleep = 50 * time.Millisecond // half a tick each
		require.NoError(t, clk.AddProcessor(processors[i]))
	}

	start := time.Now()
	err = clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.RunTil(ctx, clk.CurrentTimestamp()+0.3)
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	for _, p := range processors {
		assert.GreaterOrEqual(t, p.ticks(), 2)
		assert.Greater(t, p.lastTS(), 0.0)
	}
	assert.Less(t, elapsed, time.Second)
}

func TestRealtimeCancellation(t *testing.T) {
	clk := newRealtimeTestClock(t)
	p := newFakeProcessor("mock")
	require.NoError(t, clk.AddProcessor(p))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := clk.Scope(ctx, func(ctx context.Context) error {
		return clk.RunTil(ctx, clk.CurrentTimestamp()+60)
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	clk.Reset()
}

func TestRealtimeTimeoutPropagates(t *testing.T) {
	cfg := realtimeConfig()
	cfg.ProcessorTimeout = 0.05
	cfg.MaxRetries = 1
	rec := &errorRecorder{}
	clk, err := NewRealtimeClock(cfg, rec.callback)
	require.NoError(t, err)

	stuck := newFakeProcessor("stuck")
	stuck.sleep = 500 * time.Millisecond
	require.NoError(t, clk.AddProcessor(stuck))

	err = clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.RunTil(ctx, clk.CurrentTimestamp()+1)
	})
	require.ErrorIs(t, err, ErrProcessorTimeout)
	require.Equal(t, 1, rec.count())
	assert.ErrorIs(t, rec.first(), ErrProcessorTimeout)
	clk.Reset()
}
