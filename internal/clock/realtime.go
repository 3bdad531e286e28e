package clock

import (
	"context"
	"math"
	"time"

	"github.com/yanun0323/logs"
)

// driftTolerance is how far, in real seconds, wall-clock time may run past
// the next tick deadline before the clock skips ahead instead of catching
// up tick by tick.
const driftTolerance = 0.001

// RealtimeClock paces ticks against wall-clock time. Simulated time starts
// at the wall-clock time of construction, and each tick waits for its real
// deadline. When processing overruns the tick budget the clock skips the
// missed intervals, so the total overrun of a run is bounded by the
// slowest single tick rather than the sum of missed intervals.
type RealtimeClock struct {
	*BaseClock
}

// NewRealtimeClock validates the config and creates a realtime clock
// positioned at the current wall-clock time.
func NewRealtimeClock(cfg Config, cb ErrorCallback) (*RealtimeClock, error) {
	if cfg.Mode != ModeRealtime {
		return nil, clockErrorf("realtime clock requires realtime mode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, clockErrorf("invalid config: %v", err)
	}
	base := newBaseClock(cfg, cb)
	base.current = unixSeconds(time.Now())
	return &RealtimeClock{base}, nil
}

// RunTil executes ticks until the simulated clock reaches the target,
// waiting out each tick's wall-clock deadline in between.
func (c *RealtimeClock) RunTil(ctx context.Context, target float64) error {
	runCtx, snapshot, err := c.beginRun(ctx)
	if err != nil {
		return err
	}
	defer c.endRun()

	processors := c.activeProcessors(snapshot)
	if len(processors) == 0 {
		return nil
	}

	tick := c.cfg.TickSize
	for {
		current := c.CurrentTimestamp()
		if current >= target-snapTolerance {
			return nil
		}

		next := current + tick
		now := unixSeconds(c.now())
		if wait := next - now; wait > 0 {
			if err := c.sleep(runCtx, secondsToDuration(wait)); err != nil {
				return err
			}
		} else if behind := now - next; behind > driftTolerance {
			// Skip missed intervals instead of burning real time on them.
			skipped := math.Floor(behind / tick)
			if skipped > 0 {
				next += skipped * tick
				logs.Warnf("realtime clock %0.3fs behind schedule, skipping %d ticks", behind, int64(skipped))
			}
		}
		if next > target {
			next = target
		}

		c.setCurrent(next)
		if err := c.executeTick(runCtx, processors, next); err != nil {
			return err
		}
		c.finishTick()
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
