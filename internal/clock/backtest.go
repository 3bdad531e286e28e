package clock

import (
	"context"
	"math"
)

// snapTolerance is the residual drift, in simulated seconds, past which the
// final tick snaps to the target so the end timestamp is bit-exact.
const snapTolerance = 1e-10

// BacktestClock steps simulated time deterministically: a run delivers an
// exact tick count regardless of how long processors take in real time.
type BacktestClock struct {
	*BaseClock
}

// NewBacktestClock validates the config and creates a backtest clock
// positioned at the configured start time.
func NewBacktestClock(cfg Config, cb ErrorCallback) (*BacktestClock, error) {
	if cfg.Mode != ModeBacktest {
		return nil, clockErrorf("backtest clock requires backtest mode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, clockErrorf("invalid config: %v", err)
	}
	if cfg.EndTime <= 0 {
		return nil, clockErrorf("end_time must be set for backtest mode")
	}
	return &BacktestClock{newBaseClock(cfg, cb)}, nil
}

// StartTime returns the configured simulated start time.
func (c *BacktestClock) StartTime() float64 {
	return c.cfg.StartTime
}

// EndTime returns the configured simulated end bound.
func (c *BacktestClock) EndTime() float64 {
	return c.cfg.EndTime
}

// Start marks the clock started. Legal only inside a scope.
func (c *BacktestClock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return clockErrorf("clock must be started in a context")
	}
	c.started = true
	return nil
}

// Stop clears the started and running flags.
func (c *BacktestClock) Stop() {
	c.mu.Lock()
	c.started = false
	c.running = false
	c.mu.Unlock()
}

// Tick advances the simulated clock by one tick size without driving
// processors. Fails when the clock has not been started.
func (c *BacktestClock) Tick() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return clockErrorf("clock not started")
	}
	c.tickCounter++
	c.current += c.cfg.TickSize
	return nil
}

// Run advances the clock to the configured end time.
func (c *BacktestClock) Run(ctx context.Context) error {
	return c.RunTil(ctx, c.cfg.EndTime)
}

// RunTil executes ticks until the simulated clock reaches the target. The
// tick count is floor((target-current)/tick_size); residual floating-point
// drift beyond snapTolerance is resolved by snapping to the target for one
// final tick.
func (c *BacktestClock) RunTil(ctx context.Context, target float64) error {
	runCtx, snapshot, err := c.beginRun(ctx)
	if err != nil {
		return err
	}
	defer c.endRun()

	if target > c.cfg.EndTime {
		return clockErrorf("cannot run past end_time in backtest mode")
	}

	processors := c.activeProcessors(snapshot)
	if len(processors) == 0 {
		return nil
	}

	current := c.CurrentTimestamp()
	numTicks := int((target - current) / c.cfg.TickSize)
	if numTicks <= 0 {
		return nil
	}

	for i := 0; i < numTicks; i++ {
		if err := runCtx.Err(); err != nil {
			return err
		}
		ts := c.advanceTick()
		if err := c.executeTick(runCtx, processors, ts); err != nil {
			return err
		}
		c.finishTick()
	}

	if math.Abs(c.CurrentTimestamp()-target) > snapTolerance {
		c.setCurrent(target)
		if err := c.executeTick(runCtx, processors, target); err != nil {
			return err
		}
		c.finishTick()
	}
	return nil
}

// FastForward runs the clock forward by the given simulated seconds. A
// non-positive amount is a no-op.
func (c *BacktestClock) FastForward(ctx context.Context, seconds float64) error {
	c.mu.RLock()
	inScope := c.snapshot != nil
	current := c.current
	c.mu.RUnlock()

	if !inScope {
		return clockErrorf("fast forward can only be used within a context")
	}
	if seconds <= 0 {
		return nil
	}
	target := current + seconds
	if target > c.cfg.EndTime {
		return clockErrorf("cannot fast forward past end_time in backtest mode")
	}
	return c.RunTil(ctx, target)
}

func (c *BacktestClock) advanceTick() float64 {
	c.mu.Lock()
	c.current += c.cfg.TickSize
	ts := c.current
	c.mu.Unlock()
	return ts
}

