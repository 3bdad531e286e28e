package processor

import (
	"sync"
	"time"

	"main/internal/clock"
)

const defaultStatsWindowSize = 100

// Base is an embeddable processor skeleton that tracks its own state
// snapshot: activation, per-tick durations and error bookkeeping. The
// zero value is usable; the stats window defaults to 100 samples.
type Base struct {
	mu         sync.Mutex
	windowSize int
	state      clock.ProcessorState
}

// NewBase creates a Base with the given stats window size.
func NewBase(windowSize int) *Base {
	return &Base{windowSize: windowSize}
}

// Start activates the processor at the given timestamp.
func (b *Base) Start(timestamp float64) error {
	b.mu.Lock()
	b.state = b.state.WithActive(true).WithTimestamp(timestamp)
	b.mu.Unlock()
	return nil
}

// Stop deactivates the processor.
func (b *Base) Stop() error {
	b.mu.Lock()
	b.state = b.state.WithActive(false)
	b.mu.Unlock()
	return nil
}

// Tick records the tick timestamp. Embedders override this with their own
// work and call RecordTick/RecordError themselves when they do.
func (b *Base) Tick(timestamp float64) error {
	b.mu.Lock()
	b.state = b.state.WithTimestamp(timestamp)
	b.mu.Unlock()
	return nil
}

// State returns the processor's own state snapshot.
func (b *Base) State() clock.ProcessorState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordTick appends a successful execution duration to the window.
func (b *Base) RecordTick(seconds float64) {
	b.mu.Lock()
	window := b.windowSize
	if window <= 0 {
		window = defaultStatsWindowSize
	}
	b.state = b.state.RecordExecution(seconds, window, time.Now())
	b.mu.Unlock()
}

// RecordError advances the processor's error bookkeeping.
func (b *Base) RecordError(err error) {
	b.mu.Lock()
	b.state = b.state.RecordError(err, time.Now())
	b.mu.Unlock()
}
