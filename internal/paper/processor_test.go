package paper

import (
	"context"
	"testing"

	"main/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{StartPrice: "not-a-number"}
	_, err := New(cfg)
	require.Error(t, err)

	cfg = Config{OrderQty: "-1"}
	_, err = New(cfg)
	require.Error(t, err)

	cfg = Config{Volatility: -0.1}
	_, err = New(cfg)
	require.Error(t, err)
}

func TestProcessorDefaults(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.Price())
	assert.Zero(t, p.Position())
	assert.Zero(t, p.RealizedPnL())
}

func TestProcessorDeterministicWalk(t *testing.T) {
	cfg := Config{Seed: 42, StartPrice: "250.5", OrderQty: "2", Volatility: 0.01}

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		ts := float64(1000 + i)
		require.NoError(t, a.Tick(ts))
		require.NoError(t, b.Tick(ts))
	}

	assert.Equal(t, a.Price(), b.Price())
	assert.Equal(t, a.RealizedPnL(), b.RealizedPnL())
	assert.Equal(t, a.Position(), b.Position())
	assert.NotZero(t, a.Position())
}

func TestProcessorTradesOnCadence(t *testing.T) {
	p, err := New(Config{Seed: 7, TradeEvery: 3, Volatility: 0})
	require.NoError(t, err)

	require.NoError(t, p.Tick(1))
	require.NoError(t, p.Tick(2))
	assert.Zero(t, p.Position())

	require.NoError(t, p.Tick(3))
	assert.Equal(t, 1.0, p.Position())

	for ts := 4; ts <= 6; ts++ {
		require.NoError(t, p.Tick(float64(ts)))
	}
	assert.Equal(t, -1.0, p.Position())
	// Zero volatility walk never moves, so flips realize nothing.
	assert.Zero(t, p.RealizedPnL())
}

func TestProcessorDrivenByBacktestClock(t *testing.T) {
	cfg := clock.DefaultConfig(clock.ModeBacktest)
	cfg.StartTime = 0
	cfg.EndTime = 20
	clk, err := clock.NewBacktestClock(cfg, nil)
	require.NoError(t, err)

	p, err := New(Config{Seed: 9})
	require.NoError(t, err)
	require.NoError(t, clk.AddProcessor(p))

	err = clk.Scope(context.Background(), func(ctx context.Context) error {
		return clk.Run(ctx)
	})
	require.NoError(t, err)

	state, ok := clk.GetProcessorState(p)
	require.True(t, ok)
	assert.Equal(t, 20, state.SuccessfulTicks())
	assert.Equal(t, 20.0, p.State().LastTimestamp)
}
